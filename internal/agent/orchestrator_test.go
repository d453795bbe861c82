package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/rohan/waypoint/internal/governance"
	"github.com/rohan/waypoint/internal/observability"
	"github.com/rohan/waypoint/internal/schema"
	"github.com/rohan/waypoint/internal/store"
	"github.com/rohan/waypoint/pkg/config"
)

// scriptedInvoker replays a per-call script of records and errors.
type scriptedInvoker struct {
	role  schema.Role
	calls int
	next  func(call int) (map[string]any, error)
}

func (s *scriptedInvoker) Role() schema.Role { return s.role }

func (s *scriptedInvoker) Invoke(ctx context.Context, _ []llms.MessageContent) (map[string]any, error) {
	call := s.calls
	s.calls++
	return s.next(call)
}

// fakeEnv records executed actions and serves scripted fingerprints.
type fakeEnv struct {
	executed    []string
	released    bool
	fingerprint func(call int) string
	fingerCalls int
	executeErr  error
}

func (e *fakeEnv) Execute(ctx context.Context, action schema.ActionInvocation) (string, error) {
	e.executed = append(e.executed, action.Name())
	if e.executeErr != nil {
		return "", e.executeErr
	}
	return "ok", nil
}

func (e *fakeEnv) Fingerprint(ctx context.Context) (string, error) {
	call := e.fingerCalls
	e.fingerCalls++
	if e.fingerprint == nil {
		return "static", nil
	}
	return e.fingerprint(call), nil
}

func (e *fakeEnv) Release() { e.released = true }

type fakeHistory struct {
	runs  []store.RunRecord
	steps map[string][]store.StepRecord
}

func (h *fakeHistory) SaveRun(run store.RunRecord) error {
	h.runs = append(h.runs, run)
	return nil
}

func (h *fakeHistory) SaveSteps(runID string, steps []store.StepRecord) error {
	if h.steps == nil {
		h.steps = make(map[string][]store.StepRecord)
	}
	h.steps[runID] = steps
	return nil
}

func plannerRecord(nextSteps string, done bool, finalAnswer string) map[string]any {
	return map[string]any{
		"observation":  "page inspected",
		"done":         done,
		"challenges":   "",
		"next_steps":   nextSteps,
		"final_answer": finalAnswer,
		"reasoning":    "progressing",
		"web_task":     true,
	}
}

func navigatorRecord(actionNames ...string) map[string]any {
	actions := make([]any, 0, len(actionNames))
	for _, name := range actionNames {
		params := map[string]any{"intent": "test"}
		switch name {
		case "go_to_url":
			params["url"] = "https://example.com"
		case "click_element", "input_text":
			params["index"] = float64(1)
			params["text"] = "x"
		case "done":
			params["text"] = "finished"
			params["success"] = true
		}
		actions = append(actions, map[string]any{name: params})
	}
	return map[string]any{
		"current_state": map[string]any{
			"evaluation_previous_goal": "Success",
			"memory":                   "on page",
			"next_goal":                "continue",
		},
		"action": actions,
	}
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxSteps:            10,
		MaxFailures:         3,
		PlanningInterval:    3,
		RepetitionThreshold: 3,
		PausePollMillis:     5,
	}
}

func newTestOrchestrator(t *testing.T, planner, navigator RoleInvoker, env Environment,
	history HistoryStore, retain bool, cfg config.AgentConfig) *Orchestrator {
	t.Helper()
	events := observability.NewLoggerWithPath(filepath.Join(t.TempDir(), "events.jsonl"))
	prompts := NewPromptManager(t.TempDir())
	return NewOrchestrator(planner, navigator, env, nil, events, prompts, history, retain, cfg)
}

func TestRun_PlannerDoneCompletes(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("", true, "42"), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		t.Error("navigator should not run when the planner completes first")
		return nil, errors.New("unexpected")
	}}
	env := &fakeEnv{}

	o := newTestOrchestrator(t, planner, navigator, env, nil, false, testAgentConfig())
	run, err := o.Run(context.Background(), "answer the ultimate question")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusCompleted {
		t.Errorf("status = %s", run.Status)
	}
	if run.Result != "42" {
		t.Errorf("result = %q", run.Result)
	}
	if planner.calls != 1 || navigator.calls != 0 {
		t.Errorf("calls: planner=%d navigator=%d", planner.calls, navigator.calls)
	}
	if !env.released {
		t.Error("environment session was not released")
	}
}

func TestRun_RepetitionGuardCompletesOnThirdOccurrence(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("search for the term again", false, ""), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		return navigatorRecord("go_to_url"), nil
	}}
	env := &fakeEnv{} // fingerprint never changes

	cfg := testAgentConfig()
	cfg.PlanningInterval = 1
	o := newTestOrchestrator(t, planner, navigator, env, nil, false, cfg)

	run, err := o.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, result = %q", run.Status, run.Result)
	}
	if run.Result != "Task stopped to prevent infinite execution loop" {
		t.Errorf("result = %q", run.Result)
	}
	if planner.calls != 3 {
		t.Errorf("planner calls = %d, want 3", planner.calls)
	}

	// The synthesized terminal record is appended as a planner step.
	last := run.Steps[len(run.Steps)-1]
	if last.Role != schema.RolePlanner {
		t.Fatalf("last step role = %s", last.Role)
	}
	if last.Output["done"] != true {
		t.Error("synthesized record should report done")
	}
	if last.Output["observation"] != "Detected repetitive behavior - completing task to prevent infinite loop" {
		t.Errorf("observation = %v", last.Output["observation"])
	}
}

func TestRun_FingerprintChangeResetsRepetition(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("same guidance each time", false, ""), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		return navigatorRecord("click_element"), nil
	}}
	env := &fakeEnv{fingerprint: func(call int) string {
		return strings.Repeat("x", call+1) // changes on every observation
	}}

	cfg := testAgentConfig()
	cfg.PlanningInterval = 1
	cfg.MaxSteps = 5
	o := newTestOrchestrator(t, planner, navigator, env, nil, false, cfg)

	run, err := o.Run(context.Background(), "slow but real progress")
	if err != nil {
		t.Fatal(err)
	}

	// Repeated guidance never terminates the run while the environment
	// keeps changing underneath it; the step budget does.
	if run.Status != StatusFailed {
		t.Fatalf("status = %s, result = %q", run.Status, run.Result)
	}
	if !strings.Contains(run.Result, "maximum step budget") {
		t.Errorf("result = %q", run.Result)
	}
	if planner.calls != 5 {
		t.Errorf("planner calls = %d, want 5", planner.calls)
	}
}

func TestRun_AuthErrorTerminatesImmediately(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("keep navigating", false, ""), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		if call < 2 {
			return navigatorRecord("go_to_url"), nil
		}
		return nil, errors.New("401 unauthorized: invalid api key")
	}}
	env := &fakeEnv{}

	cfg := testAgentConfig()
	cfg.PlanningInterval = 5
	o := newTestOrchestrator(t, planner, navigator, env, nil, false, cfg)

	run, err := o.Run(context.Background(), "doomed credentials")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if !strings.Contains(run.Result, "401") {
		t.Errorf("result = %q", run.Result)
	}
	if navigator.calls != 3 {
		t.Errorf("navigator calls = %d, want 3", navigator.calls)
	}
	if run.ConsecutiveFailures != 0 {
		t.Errorf("fatal errors must not be counted as retryable failures, got %d", run.ConsecutiveFailures)
	}
	if !env.released {
		t.Error("environment session was not released")
	}
}

func TestRun_ConsecutiveFailuresAbort(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("keep trying", false, ""), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		return nil, errors.New("connection refused")
	}}
	env := &fakeEnv{}

	cfg := testAgentConfig()
	cfg.PlanningInterval = 5
	o := newTestOrchestrator(t, planner, navigator, env, nil, false, cfg)

	run, err := o.Run(context.Background(), "flaky transport")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if !strings.Contains(run.Result, "3 consecutive failures") {
		t.Errorf("result = %q", run.Result)
	}
	if navigator.calls != cfg.MaxFailures {
		t.Errorf("navigator calls = %d, want %d", navigator.calls, cfg.MaxFailures)
	}
}

func TestRun_NavigatorDoneForcesPlannerValidation(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		if call == 0 {
			return plannerRecord("open the page and finish", false, ""), nil
		}
		return plannerRecord("", true, "verified complete"), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		return navigatorRecord("go_to_url", "done", "click_element"), nil
	}}
	env := &fakeEnv{}

	cfg := testAgentConfig()
	cfg.PlanningInterval = 5
	o := newTestOrchestrator(t, planner, navigator, env, nil, false, cfg)

	run, err := o.Run(context.Background(), "short task")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusCompleted {
		t.Fatalf("status = %s, result = %q", run.Status, run.Result)
	}
	if run.Result != "verified complete" {
		t.Errorf("result = %q", run.Result)
	}
	// Cycle 1 forces a planning step even though the interval has not
	// elapsed, because the navigator signalled completion.
	if planner.calls != 2 || navigator.calls != 1 {
		t.Errorf("calls: planner=%d navigator=%d", planner.calls, navigator.calls)
	}
	// Actions after the done marker never execute.
	want := []string{"go_to_url", "done"}
	if len(env.executed) != len(want) {
		t.Fatalf("executed = %v", env.executed)
	}
	for i, name := range want {
		if env.executed[i] != name {
			t.Errorf("executed[%d] = %s, want %s", i, env.executed[i], name)
		}
	}
}

func TestRun_CancelledContextStopsBeforeAnyStep(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		t.Error("no step should run on a cancelled context")
		return nil, errors.New("unexpected")
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: planner.next}
	env := &fakeEnv{}

	o := newTestOrchestrator(t, planner, navigator, env, nil, false, testAgentConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run, err := o.Run(ctx, "never starts")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusCancelled {
		t.Errorf("status = %s", run.Status)
	}
	if !env.released {
		t.Error("environment session was not released")
	}
}

func TestRun_PolicyDenialFailsRun(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("fill the form", false, ""), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		return navigatorRecord("input_text"), nil
	}}
	env := &fakeEnv{}

	policy := governance.NewDefaultPolicyEngine()
	policy.DenyAction("input_text")

	events := observability.NewLoggerWithPath(filepath.Join(t.TempDir(), "events.jsonl"))
	prompts := NewPromptManager(t.TempDir())
	o := NewOrchestrator(planner, navigator, env, policy, events, prompts, nil, false, testAgentConfig())

	run, err := o.Run(context.Background(), "restricted input")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if !strings.Contains(run.Result, "restricted by system policy") {
		t.Errorf("result = %q", run.Result)
	}
	if len(env.executed) != 0 {
		t.Errorf("denied action reached the environment: %v", env.executed)
	}
}

func TestRun_EnvironmentConflictTerminates(t *testing.T) {
	planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
		return plannerRecord("open the page", false, ""), nil
	}}
	navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
		return navigatorRecord("go_to_url"), nil
	}}
	env := &fakeEnv{executeErr: ErrHostConflict}

	o := newTestOrchestrator(t, planner, navigator, env, nil, false, testAgentConfig())
	run, err := o.Run(context.Background(), "contested session")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != StatusFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if !strings.Contains(run.Result, "host-conflict") {
		t.Errorf("result = %q", run.Result)
	}
	if navigator.calls != 1 {
		t.Errorf("navigator calls = %d, want 1", navigator.calls)
	}
}

func TestRun_HistoryPersistence(t *testing.T) {
	newRun := func(retain bool, history *fakeHistory) *TaskRun {
		planner := &scriptedInvoker{role: schema.RolePlanner, next: func(call int) (map[string]any, error) {
			return plannerRecord("", true, "done"), nil
		}}
		navigator := &scriptedInvoker{role: schema.RoleNavigator, next: func(call int) (map[string]any, error) {
			return nil, errors.New("unused")
		}}
		o := newTestOrchestrator(t, planner, navigator, &fakeEnv{}, history, retain, testAgentConfig())
		run, err := o.Run(context.Background(), "persist me")
		if err != nil {
			t.Fatal(err)
		}
		return run
	}

	history := &fakeHistory{}
	run := newRun(true, history)
	if len(history.runs) != 1 {
		t.Fatalf("expected 1 persisted run, got %d", len(history.runs))
	}
	if history.runs[0].ID != run.ID || history.runs[0].Status != string(StatusCompleted) {
		t.Errorf("persisted run = %+v", history.runs[0])
	}
	if len(history.steps[run.ID]) != len(run.Steps) {
		t.Errorf("persisted %d steps, want %d", len(history.steps[run.ID]), len(run.Steps))
	}

	history = &fakeHistory{}
	newRun(false, history)
	if len(history.runs) != 0 {
		t.Error("retention disabled but run was persisted")
	}
}
