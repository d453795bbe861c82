package schema

import "encoding/json"

// Role identifies which of the two cooperating agents a response
// belongs to. It selects the output schema and the repair defaults.
type Role string

const (
	RolePlanner   Role = "planner"
	RoleNavigator Role = "navigator"
	RoleUnknown   Role = "unknown"
)

// DefaultURL is the safe navigation target substituted whenever a
// repaired action is missing a usable url.
const DefaultURL = "https://www.google.com"

// PlannerOutput is the wire contract for a planning response. After
// Repair every field is populated and the booleans are real booleans.
type PlannerOutput struct {
	Observation string `json:"observation"`
	Done        bool   `json:"done"`
	Challenges  string `json:"challenges"`
	NextSteps   string `json:"next_steps"`
	FinalAnswer string `json:"final_answer"`
	Reasoning   string `json:"reasoning"`
	WebTask     bool   `json:"web_task"`
}

// CurrentState is the navigator's self-assessment block.
type CurrentState struct {
	EvaluationPreviousGoal string `json:"evaluation_previous_goal"`
	Memory                 string `json:"memory"`
	NextGoal               string `json:"next_goal"`
}

// NavigatorOutput is the wire contract for a navigation response.
// After Repair the action sequence is never empty.
type NavigatorOutput struct {
	CurrentState CurrentState       `json:"current_state"`
	Action       []ActionInvocation `json:"action"`
}

// ActionInvocation is a single-key record mapping an action type to
// its parameters, e.g. {"go_to_url": {"url": "..."}}. After Repair
// every invocation has exactly one key.
type ActionInvocation map[string]map[string]any

// Name returns the action type, or "" when the invocation does not
// hold exactly one key.
func (a ActionInvocation) Name() string {
	if len(a) != 1 {
		return ""
	}
	for k := range a {
		return k
	}
	return ""
}

// Params returns the parameter map for the invocation's action type.
func (a ActionInvocation) Params() map[string]any {
	return a[a.Name()]
}

// ValidationResult is the outcome of one pipeline pass over a raw
// response. When CorrectedResponse is set it supersedes ValidatedData.
type ValidationResult struct {
	IsValid           bool
	Role              Role
	Errors            []string
	ValidatedData     map[string]any
	CorrectedResponse map[string]any
	Bypassed          bool
}

// Output returns the record the caller should act on.
func (r *ValidationResult) Output() map[string]any {
	if r.CorrectedResponse != nil {
		return r.CorrectedResponse
	}
	return r.ValidatedData
}

// DecodePlanner converts a schema-conformant record into its typed form.
func DecodePlanner(record map[string]any) (*PlannerOutput, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var out PlannerOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DecodeNavigator converts a schema-conformant record into its typed form.
func DecodeNavigator(record map[string]any) (*NavigatorOutput, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var out NavigatorOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
