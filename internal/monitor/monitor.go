// Package monitor wraps extraction, validation and repair behind a
// single call that is guaranteed to hand back a usable record. The
// step loop's liveness depends on this layer never raising.
package monitor

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/rohan/waypoint/internal/extract"
	"github.com/rohan/waypoint/internal/schema"
)

// Counters are process-wide pipeline diagnostics. They are not part of
// run correctness; they exist so operators can see how often responses
// needed repair.
type Counters struct {
	Total     int
	Valid     int
	Corrected int
	Failed    int
}

// Monitor coordinates the validator and repairer around the extractor.
// Construct one per process and pass it by reference; there is no
// package-level instance.
type Monitor struct {
	mu        sync.Mutex
	extractor *extract.Extractor
	enabled   bool
	counters  Counters
}

func New(extractor *extract.Extractor) *Monitor {
	return &Monitor{extractor: extractor, enabled: true}
}

// SetEnabled toggles the pipeline. When disabled, Resolve returns a
// pass-through bypass result without touching the raw text.
func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

// CounterSnapshot returns a copy of the diagnostic counters.
func (m *Monitor) CounterSnapshot() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// ResetCounters zeroes the diagnostic counters.
func (m *Monitor) ResetCounters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = Counters{}
}

// Resolve converts raw reasoning-service text into a ValidationResult
// whose Output always satisfies the classified role's schema. It never
// panics and never returns an error: malformed input is absorbed into
// repaired or default records.
func (m *Monitor) Resolve(raw string, hint schema.Role) (result schema.ValidationResult) {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return schema.ValidationResult{
			IsValid:       true,
			Role:          hint,
			ValidatedData: map[string]any{"raw": raw},
			Bypassed:      true,
		}
	}
	m.counters.Total++
	m.mu.Unlock()

	role := schema.Classify(raw, hint, "")

	// The monitor must never be a failure point for the pipeline it
	// wraps: any panic below degrades to an emergency default for the
	// best-guessed role.
	defer func() {
		if r := recover(); r != nil {
			m.count(func(c *Counters) { c.Failed++ })
			log.Printf("monitor pipeline panicked (%v); substituting emergency default", r)
			result = schema.ValidationResult{
				IsValid:           true,
				Role:              role,
				Errors:            []string{fmt.Sprintf("internal failure: %v", r)},
				CorrectedResponse: schema.DefaultRecord(role),
			}
		}
	}()

	record, err := m.extractor.Extract(raw)
	if err != nil {
		// Extraction is not retried; the role skeleton is already a
		// fully conformant output.
		m.count(func(c *Counters) { c.Failed++ })
		return schema.ValidationResult{
			IsValid:       true,
			Role:          role,
			Errors:        []string{err.Error()},
			ValidatedData: schema.DefaultRecord(role),
		}
	}

	ok, errs := schema.Validate(record, role)
	if ok {
		m.count(func(c *Counters) { c.Valid++ })
		result = schema.ValidationResult{
			IsValid:       true,
			Role:          role,
			ValidatedData: record,
		}
	} else {
		m.count(func(c *Counters) { c.Corrected++ })
		result = schema.ValidationResult{
			IsValid:           false,
			Role:              role,
			Errors:            errs,
			ValidatedData:     record,
			CorrectedResponse: schema.Repair(record, role),
		}
	}

	m.audit(&result)
	return result
}

func (m *Monitor) count(apply func(*Counters)) {
	m.mu.Lock()
	apply(&m.counters)
	m.mu.Unlock()
}

// audit runs secondary structural checks purely for diagnostics. Its
// findings are logged, never merged into the result, and a panic in an
// audit is contained here.
func (m *Monitor) audit(result *schema.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			m.count(func(c *Counters) { c.Failed++ })
			log.Printf("monitor audit panicked (%v); substituting emergency default", r)
			*result = schema.ValidationResult{
				IsValid:           true,
				Role:              result.Role,
				Errors:            []string{fmt.Sprintf("audit failure: %v", r)},
				CorrectedResponse: schema.DefaultRecord(result.Role),
			}
		}
	}()

	output := result.Output()

	for _, finding := range auditRequiredFields(output, result.Role) {
		log.Printf("monitor audit [%s]: %s", result.Role, finding)
	}
	for _, finding := range auditEmptyValues(output, "") {
		log.Printf("monitor audit [%s]: %s", result.Role, finding)
	}
	if result.Role == schema.RoleNavigator {
		for _, finding := range auditActions(output) {
			log.Printf("monitor audit [%s]: %s", result.Role, finding)
		}
	}
	if _, err := json.Marshal(output); err != nil {
		log.Printf("monitor audit [%s]: output not serializable: %v", result.Role, err)
	}
}

func auditRequiredFields(record map[string]any, role schema.Role) []string {
	var findings []string
	required := []string{"observation", "done", "challenges", "next_steps", "final_answer", "reasoning", "web_task"}
	if role == schema.RoleNavigator {
		required = []string{"current_state", "action"}
	}
	for _, field := range required {
		if _, present := record[field]; !present {
			findings = append(findings, fmt.Sprintf("missing field %q", field))
		}
	}
	return findings
}

func auditEmptyValues(value any, path string) []string {
	var findings []string
	switch v := value.(type) {
	case nil:
		findings = append(findings, fmt.Sprintf("undefined value at %q", path))
	case string:
		if v == "" {
			findings = append(findings, fmt.Sprintf("empty string at %q", path))
		}
	case map[string]any:
		for key, child := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			findings = append(findings, auditEmptyValues(child, childPath)...)
		}
	case []any:
		for i, child := range v {
			findings = append(findings, auditEmptyValues(child, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	return findings
}

func auditActions(record map[string]any) []string {
	var findings []string
	elements, ok := record["action"].([]any)
	if !ok {
		return []string{"action is not a sequence"}
	}
	for i, element := range elements {
		for _, e := range schema.ValidateAction(element) {
			findings = append(findings, fmt.Sprintf("action[%d]: %s", i, e))
		}
	}
	return findings
}
