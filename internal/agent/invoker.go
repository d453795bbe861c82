package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/rohan/waypoint/internal/monitor"
	"github.com/rohan/waypoint/internal/schema"
)

// thinkSpanPattern matches well-formed reasoning-tag spans some models
// prepend to their answers.
var thinkSpanPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// RoleInvoker is one role's exchange with the reasoning service.
type RoleInvoker interface {
	Role() schema.Role
	Invoke(ctx context.Context, messages []llms.MessageContent) (map[string]any, error)
}

// Invoker performs one role's calls against an llms.Model. It prefers
// a constrained tool call that requests the role's schema by name; on
// providers known to be unreliable in that mode it downgrades itself
// to the freeform path permanently after the first failure.
type Invoker struct {
	role           schema.Role
	model          llms.Model
	provider       string
	usesStructured bool
	unreliable     bool
	monitor        *monitor.Monitor
}

func NewInvoker(role schema.Role, model llms.Model, provider string, structured, unreliable bool, mon *monitor.Monitor) *Invoker {
	return &Invoker{
		role:           role,
		model:          model,
		provider:       provider,
		usesStructured: structured,
		unreliable:     unreliable,
		monitor:        mon,
	}
}

func (iv *Invoker) Role() schema.Role { return iv.role }

// Invoke runs one exchange and returns a record guaranteed to satisfy
// the role's schema. Authentication, forbidden and cancellation errors
// always propagate; everything else is either downgraded around or
// surfaced as a transport failure for the step loop to count.
func (iv *Invoker) Invoke(ctx context.Context, messages []llms.MessageContent) (map[string]any, error) {
	if iv.usesStructured {
		record, err := iv.invokeStructured(ctx, messages)
		if err == nil {
			return record, nil
		}
		if ClassifyError(err).IsFatal() {
			return nil, err
		}
		if !iv.unreliable {
			return nil, err
		}
		// One-time sticky downgrade: this provider's structured mode is
		// on the unreliable list, so fall through to the manual path for
		// this and every future call on this instance.
		iv.usesStructured = false
		log.Printf("[%s] structured call failed (%v); downgrading to manual path", iv.role, err)
	}
	return iv.invokeManual(ctx, messages)
}

// invokeStructured issues a constrained call carrying the role schema
// as a single tool definition. The service guarantees conformance, so
// the monitor pipeline is not involved.
func (iv *Invoker) invokeStructured(ctx context.Context, messages []llms.MessageContent) (map[string]any, error) {
	toolName := string(iv.role) + "_output"
	tools := []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        toolName,
				Description: fmt.Sprintf("Submit the %s's structured decision for this step.", iv.role),
				Parameters:  roleParameters(iv.role),
			},
		},
	}

	resp, err := iv.model.GenerateContent(ctx, messages, llms.WithTools(tools))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	for _, tc := range resp.Choices[0].ToolCalls {
		if tc.FunctionCall == nil || tc.FunctionCall.Name != toolName {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(tc.FunctionCall.Arguments), &record); err != nil {
			return nil, fmt.Errorf("structured arguments unparseable: %w", err)
		}
		return record, nil
	}
	return nil, fmt.Errorf("provider did not call %s", toolName)
}

// invokeManual issues a freeform call and resolves the response text
// through the monitor pipeline.
func (iv *Invoker) invokeManual(ctx context.Context, messages []llms.MessageContent) (map[string]any, error) {
	resp, err := iv.model.GenerateContent(ctx, messages)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("provider returned no choices")
	}

	cleaned := StripThinkTags(resp.Choices[0].Content)
	result := iv.monitor.Resolve(cleaned, iv.role)
	record := result.Output()

	// The repairer guarantees conformance, so a validation failure here
	// is an implementation defect, not malformed input.
	if ok, errs := schema.Validate(record, iv.role); !ok {
		return nil, fmt.Errorf("internal contract violation: resolved %s output invalid: %s",
			iv.role, strings.Join(errs, "; "))
	}
	return record, nil
}

// StripThinkTags removes reasoning-tag spans from response text. A
// dangling close tag without its opener drops everything before it.
func StripThinkTags(text string) string {
	cleaned := thinkSpanPattern.ReplaceAllString(text, "")
	if idx := strings.Index(cleaned, "</think>"); idx >= 0 {
		cleaned = cleaned[idx+len("</think>"):]
	}
	return strings.TrimSpace(cleaned)
}

// roleParameters is the JSON schema the structured path requests, one
// per role, matching the wire contracts bit for bit.
func roleParameters(role schema.Role) map[string]any {
	if role == schema.RoleNavigator {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"current_state": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"evaluation_previous_goal": map[string]any{"type": "string"},
						"memory":                   map[string]any{"type": "string"},
						"next_goal":                map[string]any{"type": "string"},
					},
					"required": []string{"evaluation_previous_goal", "memory", "next_goal"},
				},
				"action": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":        "object",
						"description": "Single-key object mapping an action type to its parameters.",
					},
					"minItems": 1,
				},
			},
			"required": []string{"current_state", "action"},
		}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"observation":  map[string]any{"type": "string"},
			"done":         map[string]any{"type": "boolean"},
			"challenges":   map[string]any{"type": "string"},
			"next_steps":   map[string]any{"type": "string"},
			"final_answer": map[string]any{"type": []string{"string", "null"}},
			"reasoning":    map[string]any{"type": "string"},
			"web_task":     map[string]any{"type": "boolean"},
		},
		"required": []string{"observation", "done", "challenges", "next_steps", "final_answer", "reasoning", "web_task"},
	}
}
