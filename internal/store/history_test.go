package store

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rohan/waypoint/internal/schema"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := NewRunStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunStore_RunRoundTrip(t *testing.T) {
	s := newTestStore(t)

	run := RunRecord{ID: "run-1", Task: "find the docs", Status: "running", Result: ""}
	if err := s.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	// Upsert: the terminal transition overwrites status and result.
	run.Status = "completed"
	run.Result = "found them"
	if err := s.SaveRun(run); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadRun("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != "completed" || loaded.Result != "found them" {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.Task != "find the docs" {
		t.Errorf("task = %q", loaded.Task)
	}
}

func TestRunStore_StepsPreserveOrderAndActions(t *testing.T) {
	s := newTestStore(t)

	steps := []StepRecord{
		{
			Index:  0,
			Role:   schema.RolePlanner,
			Output: map[string]any{"observation": "start", "next_steps": "open the site"},
		},
		{
			Index:  1,
			Role:   schema.RoleNavigator,
			Output: map[string]any{"action": []any{}},
			Actions: []schema.ActionInvocation{
				{"go_to_url": {"url": "https://example.com", "intent": "open"}},
				{"click_element": {"index": float64(2), "intent": "select"}},
			},
			Result: "navigated",
		},
		{
			Index:  2,
			Role:   schema.RoleNavigator,
			Output: map[string]any{"action": []any{}},
			Actions: []schema.ActionInvocation{
				{"done": {"text": "finished", "success": true}},
			},
			Result: "finished",
		},
	}

	if err := s.SaveSteps("run-2", steps); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadSteps("run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d steps, want 3", len(loaded))
	}
	for i, step := range loaded {
		if step.Index != i {
			t.Errorf("step %d has index %d", i, step.Index)
		}
	}
	if loaded[1].Role != schema.RoleNavigator {
		t.Errorf("role = %s", loaded[1].Role)
	}

	// The loaded action sequence is identical to what was saved.
	if !reflect.DeepEqual(loaded[1].Actions, steps[1].Actions) {
		t.Errorf("actions round trip mismatch:\n got %v\nwant %v", loaded[1].Actions, steps[1].Actions)
	}
	if loaded[2].Actions[0].Name() != "done" {
		t.Errorf("final action = %s", loaded[2].Actions[0].Name())
	}
	if loaded[2].Actions[0].Params()["success"] != true {
		t.Errorf("done params = %v", loaded[2].Actions[0].Params())
	}
}

func TestRunStore_LoadStepsUnknownRun(t *testing.T) {
	s := newTestStore(t)
	steps, err := s.LoadSteps("missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 0 {
		t.Errorf("expected no steps, got %d", len(steps))
	}
}
