package schema

import (
	"fmt"
	"strings"
)

// plannerStringFields are the free-text fields the planner contract
// requires. final_answer is handled separately since null is allowed.
var plannerStringFields = []string{"observation", "challenges", "next_steps", "reasoning"}

// plannerBoolFields accept literal booleans or "true"/"false" strings.
var plannerBoolFields = []string{"done", "web_task"}

// Validate checks a record against the role's required-field contract.
// It never mutates the record and never panics; every failure is
// reported as a field-path string.
func Validate(record map[string]any, role Role) (bool, []string) {
	if record == nil {
		return false, []string{"response: empty record"}
	}
	switch role {
	case RoleNavigator:
		return validateNavigator(record)
	default:
		return validatePlanner(record)
	}
}

func validatePlanner(record map[string]any) (bool, []string) {
	var errs []string

	for _, field := range plannerStringFields {
		v, present := record[field]
		if !present {
			errs = append(errs, fmt.Sprintf("%s: missing required field", field))
			continue
		}
		if _, ok := v.(string); !ok {
			errs = append(errs, fmt.Sprintf("%s: expected string, got %T", field, v))
		}
	}

	if v, present := record["final_answer"]; !present {
		errs = append(errs, "final_answer: missing required field")
	} else if v != nil {
		if _, ok := v.(string); !ok {
			errs = append(errs, fmt.Sprintf("final_answer: expected string or null, got %T", v))
		}
	}

	for _, field := range plannerBoolFields {
		v, present := record[field]
		if !present {
			errs = append(errs, fmt.Sprintf("%s: missing required field", field))
			continue
		}
		if _, ok := coerceBool(v); !ok {
			errs = append(errs, fmt.Sprintf("%s: expected boolean, got %T", field, v))
		}
	}

	return len(errs) == 0, errs
}

func validateNavigator(record map[string]any) (bool, []string) {
	var errs []string

	state, present := record["current_state"]
	if !present {
		errs = append(errs, "current_state: missing required field")
	} else if stateMap, ok := state.(map[string]any); !ok {
		errs = append(errs, fmt.Sprintf("current_state: expected object, got %T", state))
	} else {
		for _, field := range []string{"evaluation_previous_goal", "memory", "next_goal"} {
			v, has := stateMap[field]
			if !has {
				errs = append(errs, fmt.Sprintf("current_state.%s: missing required field", field))
				continue
			}
			if _, ok := v.(string); !ok {
				errs = append(errs, fmt.Sprintf("current_state.%s: expected string, got %T", field, v))
			}
		}
	}

	// Per-element action shape checks belong to the repair layer; this
	// layer only requires the sequence itself to exist.
	actions, present := record["action"]
	if !present {
		errs = append(errs, "action: missing required field")
	} else if _, ok := asSlice(actions); !ok {
		errs = append(errs, fmt.Sprintf("action: expected sequence, got %T", actions))
	}

	return len(errs) == 0, errs
}

// coerceBool accepts a literal bool or a case-insensitive
// "true"/"false" string.
func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// coerceNumber accepts any numeric JSON representation.
func coerceNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}
