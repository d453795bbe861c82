package schema

import "fmt"

// ActionContract describes the minimal parameter requirements for a
// known action type, mirroring the per-tool JSON schema contracts the
// browser environment registers for its executable actions.
type ActionContract struct {
	Name     string
	Validate func(params map[string]any) []string
	Repair   func(params map[string]any) map[string]any
}

// actionContracts holds the validated action types. Action types not
// listed here pass through unvalidated.
var actionContracts = map[string]ActionContract{
	"go_to_url": {
		Name: "go_to_url",
		Validate: func(p map[string]any) []string {
			if s, ok := p["url"].(string); !ok || s == "" {
				return []string{"url: required non-empty string"}
			}
			return nil
		},
		Repair: func(p map[string]any) map[string]any {
			if s, ok := p["url"].(string); !ok || s == "" {
				p["url"] = DefaultURL
			}
			return p
		},
	},
	"done": {
		Name: "done",
		Validate: func(p map[string]any) []string {
			var errs []string
			if _, ok := p["text"].(string); !ok {
				errs = append(errs, "text: required string")
			}
			if _, ok := coerceBool(p["success"]); !ok {
				errs = append(errs, "success: required boolean")
			}
			return errs
		},
		Repair: func(p map[string]any) map[string]any {
			if _, ok := p["text"].(string); !ok {
				p["text"] = ""
			}
			if b, ok := coerceBool(p["success"]); ok {
				p["success"] = b
			} else {
				p["success"] = true
			}
			return p
		},
	},
	"click_element": {
		Name: "click_element",
		Validate: func(p map[string]any) []string {
			if _, ok := coerceNumber(p["index"]); !ok {
				return []string{"index: required number"}
			}
			return nil
		},
		Repair: func(p map[string]any) map[string]any {
			if n, ok := coerceNumber(p["index"]); ok {
				p["index"] = n
			} else {
				p["index"] = float64(1)
			}
			return p
		},
	},
	"input_text": {
		Name: "input_text",
		Validate: func(p map[string]any) []string {
			var errs []string
			if _, ok := coerceNumber(p["index"]); !ok {
				errs = append(errs, "index: required number")
			}
			if _, ok := p["text"].(string); !ok {
				errs = append(errs, "text: required string")
			}
			return errs
		},
		Repair: func(p map[string]any) map[string]any {
			if n, ok := coerceNumber(p["index"]); ok {
				p["index"] = n
			} else {
				p["index"] = float64(1)
			}
			if _, ok := p["text"].(string); !ok {
				p["text"] = ""
			}
			return p
		},
	},
}

// DefaultNavigationAction is the wholesale replacement for action
// elements that cannot be repaired in place.
func DefaultNavigationAction() map[string]any {
	return map[string]any{
		"go_to_url": map[string]any{
			"intent": "Navigate to requested website",
			"url":    DefaultURL,
		},
	}
}

// ValidateAction checks one element of a navigator action sequence
// against its minimal contract. Unknown action types always pass.
func ValidateAction(element any) []string {
	name, params, ok := splitAction(element)
	if !ok {
		return []string{"action element must be an object with exactly one key"}
	}
	contract, known := actionContracts[name]
	if !known {
		return nil
	}
	var errs []string
	for _, e := range contract.Validate(params) {
		errs = append(errs, name+"."+e)
	}
	return errs
}

// RepairAction returns a well-formed version of one action element,
// preserving every individually valid parameter.
func RepairAction(element any) map[string]any {
	name, params, ok := splitAction(element)
	if !ok {
		return DefaultNavigationAction()
	}

	repaired := make(map[string]any, len(params))
	for k, v := range params {
		repaired[k] = v
	}
	if contract, known := actionContracts[name]; known {
		repaired = contract.Repair(repaired)
		if _, ok := repaired["intent"].(string); !ok {
			repaired["intent"] = fmt.Sprintf("Execute %s action", name)
		}
	}
	return map[string]any{name: repaired}
}

// splitAction decomposes an action element into its type and parameter
// map. ok is false when the element is not a single-key object whose
// value is itself an object.
func splitAction(element any) (name string, params map[string]any, ok bool) {
	m, isMap := element.(map[string]any)
	if !isMap || len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		p, isObj := v.(map[string]any)
		if !isObj {
			return "", nil, false
		}
		return k, p, true
	}
	return "", nil, false
}
