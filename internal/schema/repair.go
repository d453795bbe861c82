package schema

// Repair produces a record guaranteed to satisfy the role's full
// schema. It starts from the role's default skeleton and overlays
// every individually valid field from the input, so a correct field
// is never lost. Repairing an already-valid record is a no-op.
func Repair(record map[string]any, role Role) map[string]any {
	switch role {
	case RoleNavigator:
		return repairNavigator(record)
	default:
		return repairPlanner(record)
	}
}

// DefaultPlannerRecord is the planner repair skeleton.
func DefaultPlannerRecord() map[string]any {
	return map[string]any{
		"observation":  "AI response received but incomplete",
		"done":         false,
		"challenges":   "",
		"next_steps":   "Continue with task execution",
		"final_answer": "",
		"reasoning":    "Processing user request",
		"web_task":     true,
	}
}

// DefaultNavigatorRecord is the navigator repair skeleton. Its action
// sequence holds a single safe navigation so it is never empty.
func DefaultNavigatorRecord() map[string]any {
	return map[string]any{
		"current_state": map[string]any{
			"evaluation_previous_goal": "Unknown - processing request",
			"memory":                   "Received AI response",
			"next_goal":                "Continue task execution",
		},
		"action": []any{DefaultNavigationAction()},
	}
}

// DefaultRecord returns the repair skeleton for a role.
func DefaultRecord(role Role) map[string]any {
	if role == RoleNavigator {
		return DefaultNavigatorRecord()
	}
	return DefaultPlannerRecord()
}

func repairPlanner(record map[string]any) map[string]any {
	out := DefaultPlannerRecord()
	if record == nil {
		return out
	}

	for _, field := range plannerStringFields {
		if s, ok := record[field].(string); ok {
			out[field] = s
		}
	}
	if s, ok := record["final_answer"].(string); ok {
		out["final_answer"] = s
	}
	for _, field := range plannerBoolFields {
		if b, ok := coerceBool(record[field]); ok {
			out[field] = b
		}
	}
	return out
}

func repairNavigator(record map[string]any) map[string]any {
	out := DefaultNavigatorRecord()
	if record == nil {
		return out
	}

	if stateMap, ok := record["current_state"].(map[string]any); ok {
		outState := out["current_state"].(map[string]any)
		for _, field := range []string{"evaluation_previous_goal", "memory", "next_goal"} {
			if s, ok := stateMap[field].(string); ok {
				outState[field] = s
			}
		}
	}

	if elements, ok := asSlice(record["action"]); ok && len(elements) > 0 {
		repaired := make([]any, 0, len(elements))
		for _, element := range elements {
			if errs := ValidateAction(element); len(errs) == 0 {
				repaired = append(repaired, element)
			} else {
				repaired = append(repaired, RepairAction(element))
			}
		}
		out["action"] = repaired
	}
	return out
}
