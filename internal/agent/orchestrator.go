package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/rohan/waypoint/internal/governance"
	"github.com/rohan/waypoint/internal/observability"
	"github.com/rohan/waypoint/internal/schema"
	"github.com/rohan/waypoint/internal/store"
	"github.com/rohan/waypoint/pkg/config"
)

// RunStatus is the lifecycle state of a task run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusPaused    RunStatus = "paused"
	StatusCancelled RunStatus = "cancelled"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// TaskRun is the mutable state of one end-to-end run. It is owned and
// mutated exclusively by the Orchestrator.
type TaskRun struct {
	ID                   string
	Task                 string
	Steps                []store.StepRecord
	Status               RunStatus
	Result               string
	ConsecutiveFailures  int
	LastPlannerSignature *string
	RepetitionCount      int
	StepIndex            int
}

// Environment is the external host that executes navigator actions
// and exposes an opaque state fingerprint for progress detection.
type Environment interface {
	Execute(ctx context.Context, action schema.ActionInvocation) (string, error)
	Fingerprint(ctx context.Context) (string, error)
	Release()
}

// HistoryStore persists a finished run's step records.
type HistoryStore interface {
	SaveRun(run store.RunRecord) error
	SaveSteps(runID string, steps []store.StepRecord) error
}

// Orchestrator drives the alternating planner/navigator step loop. One
// cycle runs at a time; pausing and cancellation are cooperative.
type Orchestrator struct {
	planner   RoleInvoker
	navigator RoleInvoker
	env       Environment
	policy    governance.PolicyEngine
	events    *observability.Logger
	prompts   *PromptManager
	history   HistoryStore
	retain    bool
	cfg       config.AgentConfig

	mu        sync.Mutex
	pauseFlag bool
	stopFlag  bool
	runCancel context.CancelFunc
}

func NewOrchestrator(planner, navigator RoleInvoker, env Environment, policy governance.PolicyEngine,
	events *observability.Logger, prompts *PromptManager, history HistoryStore, retain bool,
	cfg config.AgentConfig) *Orchestrator {
	return &Orchestrator{
		planner:   planner,
		navigator: navigator,
		env:       env,
		policy:    policy,
		events:    events,
		prompts:   prompts,
		history:   history,
		retain:    retain,
		cfg:       cfg,
	}
}

// Pause requests a cooperative pause at the next cycle boundary.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.pauseFlag = true
	o.mu.Unlock()
}

// Resume lifts a pause request.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	o.pauseFlag = false
	o.mu.Unlock()
}

// Cancel requests cancellation: the flag is honored at the next cycle
// boundary and any in-flight reasoning call is aborted through its
// context.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	o.stopFlag = true
	if o.runCancel != nil {
		o.runCancel()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauseFlag
}

func (o *Orchestrator) cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopFlag
}

// Run executes one task to a terminal state. The returned TaskRun's
// Status and Result describe the outcome; the error is non-nil only
// when the run could not start at all.
func (o *Orchestrator) Run(ctx context.Context, task string) (*TaskRun, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.stopFlag = false
	o.runCancel = cancel
	o.mu.Unlock()

	run := &TaskRun{
		ID:     uuid.NewString(),
		Task:   task,
		Status: StatusRunning,
	}

	o.emit(run, "orchestrator", observability.StateTaskStart, task)

	// The environment session is released on every exit path.
	defer o.env.Release()

	navigatorDone := false

	for cycle := 0; cycle < o.cfg.MaxSteps; cycle++ {
		run.StepIndex = cycle

		// 1. Stop-check.
		if o.cancelled() || runCtx.Err() != nil {
			return o.finish(run, StatusCancelled, "orchestrator", "run cancelled"), nil
		}
		if o.paused() {
			o.emit(run, "orchestrator", observability.StateTaskPause, "run paused")
			run.Status = StatusPaused
			for o.paused() && !o.cancelled() && runCtx.Err() == nil {
				time.Sleep(time.Duration(o.cfg.PausePollMillis) * time.Millisecond)
			}
			if o.cancelled() || runCtx.Err() != nil {
				return o.finish(run, StatusCancelled, "orchestrator", "run cancelled while paused"), nil
			}
			run.Status = StatusRunning
		}
		if run.ConsecutiveFailures >= o.cfg.MaxFailures {
			return o.finish(run, StatusFailed, "orchestrator",
				fmt.Sprintf("aborted after %d consecutive failures", run.ConsecutiveFailures)), nil
		}

		o.emit(run, "orchestrator", observability.StateStepStart, fmt.Sprintf("step %d", cycle))

		// 2. Planning step: every planningInterval cycles, or forced when
		// the navigator reported completion so the planner can validate it.
		if cycle%o.cfg.PlanningInterval == 0 || navigatorDone {
			navigatorDone = false
			plannerOut, terminal := o.planningStep(runCtx, run)
			if terminal != nil {
				return terminal, nil
			}
			if plannerOut != nil && plannerOut.Done {
				message := plannerOut.FinalAnswer
				if message == "" {
					message = "Task completed"
				}
				return o.finish(run, StatusCompleted, "planner", message), nil
			}
		}

		// 3. Navigation step.
		terminal, done := o.navigationStep(runCtx, run)
		if terminal != nil {
			return terminal, nil
		}
		if done {
			navigatorDone = true
		}
	}

	return o.finish(run, StatusFailed, "orchestrator", "maximum step budget exceeded"), nil
}

// planningStep calls the planner once and applies the repetition
// guard. It returns a terminal run when the step ended the run.
func (o *Orchestrator) planningStep(ctx context.Context, run *TaskRun) (*schema.PlannerOutput, *TaskRun) {
	observability.SetStatus(observability.RolePlanner, run.Task)

	record, err := o.planner.Invoke(ctx, o.plannerMessages(run))
	if err != nil {
		return nil, o.handleStepFailure(run, "planner", err)
	}

	plannerOut, err := schema.DecodePlanner(record)
	if err != nil {
		// The repairer guarantees decodable records; reaching this is a
		// defect, but the run degrades to a counted failure, not a crash.
		return nil, o.handleStepFailure(run, "planner", fmt.Errorf("undecodable planner record: %w", err))
	}

	run.Steps = append(run.Steps, store.StepRecord{
		Index:     len(run.Steps),
		Role:      schema.RolePlanner,
		Output:    record,
		CreatedAt: time.Now(),
	})

	// Repetition guard: identical planner guidance across cycles means
	// the loop is spinning; complete the run before it burns the budget.
	signature := plannerOut.NextSteps
	if signature == "" {
		signature = plannerOut.Observation
	}
	if run.LastPlannerSignature != nil && *run.LastPlannerSignature == signature {
		run.RepetitionCount++
	} else {
		run.RepetitionCount = 0
		run.LastPlannerSignature = &signature
	}
	if run.RepetitionCount+1 >= o.cfg.RepetitionThreshold {
		synthesized := schema.DefaultPlannerRecord()
		synthesized["observation"] = "Detected repetitive behavior - completing task to prevent infinite loop"
		synthesized["done"] = true
		synthesized["final_answer"] = "Task stopped to prevent infinite execution loop"
		run.Steps = append(run.Steps, store.StepRecord{
			Index:     len(run.Steps),
			Role:      schema.RolePlanner,
			Output:    synthesized,
			CreatedAt: time.Now(),
		})
		return nil, o.finish(run, StatusCompleted, "planner",
			"Task stopped to prevent infinite execution loop")
	}

	o.emit(run, "planner", observability.StateStepOK, plannerOut.NextSteps)
	return plannerOut, nil
}

// navigationStep calls the navigator once, executes its actions, and
// applies the progress guard. done reports a navigator-signalled
// completion for the next cycle's forced planning step.
func (o *Orchestrator) navigationStep(ctx context.Context, run *TaskRun) (terminal *TaskRun, done bool) {
	observability.SetStatus(observability.RoleNavigator, run.Task)

	fingerprintBefore, err := o.env.Fingerprint(ctx)
	if err != nil {
		log.Printf("fingerprint unavailable before step %d: %v", run.StepIndex, err)
	}

	record, err := o.navigator.Invoke(ctx, o.navigatorMessages(run))
	if err != nil {
		return o.handleStepFailure(run, "navigator", err), false
	}

	navigatorOut, err := schema.DecodeNavigator(record)
	if err != nil {
		return o.handleStepFailure(run, "navigator", fmt.Errorf("undecodable navigator record: %w", err)), false
	}

	var results []string
	for _, action := range navigatorOut.Action {
		result, err := o.executeAction(ctx, run, action)
		if err != nil {
			return o.handleStepFailure(run, "navigator", err), false
		}
		results = append(results, result)
		if action.Name() == "done" {
			done = true
			break
		}
	}

	run.Steps = append(run.Steps, store.StepRecord{
		Index:     len(run.Steps),
		Role:      schema.RoleNavigator,
		Output:    record,
		Actions:   navigatorOut.Action,
		Result:    strings.Join(results, "\n"),
		CreatedAt: time.Now(),
	})

	// Progress guard: a changed fingerprint is evidence of forward
	// progress even if planner text later repeats. An unchanged one is
	// only worth a log line, never terminal by itself.
	fingerprintAfter, err := o.env.Fingerprint(ctx)
	if err != nil {
		log.Printf("fingerprint unavailable after step %d: %v", run.StepIndex, err)
	} else if fingerprintAfter != fingerprintBefore {
		run.RepetitionCount = 0
	} else {
		log.Printf("no state change detected at step %d (fingerprint %q)", run.StepIndex, fingerprintAfter)
	}

	run.ConsecutiveFailures = 0
	o.emit(run, "navigator", observability.StateStepOK, navigatorOut.CurrentState.NextGoal)
	return nil, done
}

// executeAction runs one navigator action through the policy engine
// and the environment.
func (o *Orchestrator) executeAction(ctx context.Context, run *TaskRun, action schema.ActionInvocation) (string, error) {
	args, _ := json.Marshal(action.Params())
	if o.policy != nil {
		verdict, err := o.policy.Evaluate(ctx, governance.Request{
			Action:    action.Name(),
			Arguments: string(args),
			RunID:     run.ID,
		})
		if err != nil {
			return "", err
		}
		if verdict.Effect == governance.EffectDeny {
			return "", fmt.Errorf("%w: %s", ErrPolicyViolation, verdict.Reason)
		}
	}
	return o.env.Execute(ctx, action)
}

// handleStepFailure classifies a step error and either terminates the
// run or counts the failure. A nil return means the loop continues.
func (o *Orchestrator) handleStepFailure(run *TaskRun, actor string, err error) *TaskRun {
	kind := ClassifyError(err)
	switch kind {
	case KindCancelled:
		return o.finish(run, StatusCancelled, actor, "run cancelled")
	case KindAuthentication, KindForbidden, KindPolicyViolation, KindHostConflict:
		return o.finish(run, StatusFailed, actor, fmt.Sprintf("%s error: %v", kind, err))
	}

	run.ConsecutiveFailures++
	o.emit(run, actor, observability.StateStepFail,
		fmt.Sprintf("failure %d/%d: %v", run.ConsecutiveFailures, o.cfg.MaxFailures, err))
	if run.ConsecutiveFailures >= o.cfg.MaxFailures {
		return o.finish(run, StatusFailed, actor,
			fmt.Sprintf("aborted after %d consecutive failures: %v", run.ConsecutiveFailures, err))
	}
	return nil
}

// finish performs the terminal transition: final lifecycle event, then
// history persistence when retention is enabled. The environment
// session release is handled by Run's defer so it covers every path.
func (o *Orchestrator) finish(run *TaskRun, status RunStatus, actor, message string) *TaskRun {
	run.Status = status
	run.Result = message

	state := observability.StateTaskFail
	switch status {
	case StatusCompleted:
		state = observability.StateTaskOK
	case StatusCancelled:
		state = observability.StateTaskCancel
	}
	o.emit(run, actor, state, message)
	observability.SetStatus(observability.RoleIdle, "")

	if o.history != nil && o.retain {
		if err := o.history.SaveRun(store.RunRecord{
			ID:     run.ID,
			Task:   run.Task,
			Status: string(status),
			Result: message,
		}); err != nil {
			log.Printf("failed to persist run %s: %v", run.ID, err)
		} else if err := o.history.SaveSteps(run.ID, run.Steps); err != nil {
			log.Printf("failed to persist steps for run %s: %v", run.ID, err)
		}
	}
	return run
}

func (o *Orchestrator) emit(run *TaskRun, actor string, state observability.LifecycleState, message string) {
	o.events.Emit(observability.Event{
		Actor:   actor,
		State:   state,
		Message: message,
		RunID:   run.ID,
		Step:    run.StepIndex,
	})
}

// plannerMessages builds the planner's conversation: system prompt,
// the task, and a digest of recent steps.
func (o *Orchestrator) plannerMessages(run *TaskRun) []llms.MessageContent {
	var messages []llms.MessageContent
	if prompt, err := o.prompts.GetRolePrompt(schema.RolePlanner); err == nil && prompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK: %s\n\n", run.Task)
	if digest := stepDigest(run.Steps, 5); digest != "" {
		fmt.Fprintf(&sb, "RECENT STEPS:\n%s\n\n", digest)
	}
	sb.WriteString("Evaluate progress and decide the next steps.")

	return append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(sb.String())},
	})
}

// navigatorMessages builds the navigator's conversation: system
// prompt, the task, the planner's latest guidance, and the last
// navigation result.
func (o *Orchestrator) navigatorMessages(run *TaskRun) []llms.MessageContent {
	var messages []llms.MessageContent
	if prompt, err := o.prompts.GetRolePrompt(schema.RoleNavigator); err == nil && prompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(prompt)},
		})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "TASK: %s\n\n", run.Task)
	if guidance := lastPlannerGuidance(run.Steps); guidance != "" {
		fmt.Fprintf(&sb, "PLANNER GUIDANCE: %s\n\n", guidance)
	}
	if result := lastNavigationResult(run.Steps); result != "" {
		fmt.Fprintf(&sb, "LAST RESULT:\n%s\n\n", result)
	}
	sb.WriteString("Decide the next browser actions.")

	return append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(sb.String())},
	})
}

func stepDigest(steps []store.StepRecord, limit int) string {
	start := 0
	if len(steps) > limit {
		start = len(steps) - limit
	}
	var lines []string
	for _, step := range steps[start:] {
		summary := step.Result
		if summary == "" {
			if data, err := json.Marshal(step.Output); err == nil {
				summary = string(data)
			}
		}
		if len(summary) > 300 {
			summary = summary[:300] + "..."
		}
		lines = append(lines, fmt.Sprintf("[%d/%s] %s", step.Index, step.Role, summary))
	}
	return strings.Join(lines, "\n")
}

func lastPlannerGuidance(steps []store.StepRecord) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Role != schema.RolePlanner {
			continue
		}
		if next, ok := steps[i].Output["next_steps"].(string); ok && next != "" {
			return next
		}
	}
	return ""
}

func lastNavigationResult(steps []store.StepRecord) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Role == schema.RoleNavigator {
			return steps[i].Result
		}
	}
	return ""
}
