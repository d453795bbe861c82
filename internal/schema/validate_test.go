package schema

import "testing"

func validPlannerRecord() map[string]any {
	return map[string]any{
		"observation":  "Page loaded",
		"done":         false,
		"challenges":   "",
		"next_steps":   "Click the first result",
		"final_answer": "",
		"reasoning":    "Results are visible",
		"web_task":     true,
	}
}

func validNavigatorRecord() map[string]any {
	return map[string]any{
		"current_state": map[string]any{
			"evaluation_previous_goal": "Success",
			"memory":                   "On the results page",
			"next_goal":                "Open the first result",
		},
		"action": []any{
			map[string]any{"click_element": map[string]any{"index": float64(3), "intent": "Open result"}},
		},
	}
}

func TestValidate_Planner(t *testing.T) {
	ok, errs := Validate(validPlannerRecord(), RolePlanner)
	if !ok {
		t.Fatalf("expected valid, got errors: %v", errs)
	}

	// booleans as strings are accepted with coercion
	record := validPlannerRecord()
	record["done"] = "True"
	record["web_task"] = "false"
	if ok, errs := Validate(record, RolePlanner); !ok {
		t.Errorf("string booleans should validate, got: %v", errs)
	}

	// null final_answer is accepted
	record = validPlannerRecord()
	record["final_answer"] = nil
	if ok, errs := Validate(record, RolePlanner); !ok {
		t.Errorf("null final_answer should validate, got: %v", errs)
	}
}

func TestValidate_PlannerErrors(t *testing.T) {
	record := validPlannerRecord()
	delete(record, "observation")
	record["done"] = "maybe"

	ok, errs := Validate(record, RolePlanner)
	if ok {
		t.Fatal("expected invalid")
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %v", errs)
	}
}

func TestValidate_Navigator(t *testing.T) {
	if ok, errs := Validate(validNavigatorRecord(), RoleNavigator); !ok {
		t.Fatalf("expected valid, got errors: %v", errs)
	}

	record := validNavigatorRecord()
	record["current_state"] = map[string]any{"memory": 42}
	ok, errs := Validate(record, RoleNavigator)
	if ok {
		t.Fatal("expected invalid")
	}
	// missing evaluation_previous_goal, bad memory, missing next_goal
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %v", errs)
	}
}

func TestValidate_NeverMutates(t *testing.T) {
	record := map[string]any{"done": "true"}
	Validate(record, RolePlanner)
	if record["done"] != "true" {
		t.Error("Validate mutated its input")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		hint Role
		want Role
	}{
		{"hint wins", "current_state action memory", RolePlanner, RolePlanner},
		{"navigator keywords", `{"current_state": {}, "action": [], "next_goal": "x"}`, RoleUnknown, RoleNavigator},
		{"planner keywords", `{"observation": "x", "next_steps": "y", "reasoning": "z"}`, RoleUnknown, RolePlanner},
		{"tie defaults planner", "", RoleUnknown, RolePlanner},
		{"prose navigation", "I will click the button and navigate in the browser", RoleUnknown, RoleNavigator},
	}
	for _, tc := range cases {
		if got := Classify(tc.raw, tc.hint, ""); got != tc.want {
			t.Errorf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}
