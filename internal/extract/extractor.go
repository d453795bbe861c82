// Package extract turns raw reasoning-service text into a JSON record.
// Responses frequently wrap the payload in prose, markdown fences or
// provider tool-call envelopes, or contain outright broken JSON, so
// extraction runs layered strategies from cheapest to most forgiving.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Tool-call envelope delimiters emitted by hermes-style providers.
const (
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

var (
	// fencedBlockPattern matches JSON inside markdown code blocks,
	// optionally tagged json.
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// bracePattern matches balanced {...} substrings up to one level of
	// nesting, enough for the flat agent records we care about.
	bracePattern = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)
	// trailingCommaPattern matches trailing commas before } or ].
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	// controlCharPattern matches control characters that break parsing.
	controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// ExtractionError reports that every strategy failed, with one entry
// per attempted strategy.
type ExtractionError struct {
	Attempts []string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no strategy extracted a record: %s", strings.Join(e.Attempts, "; "))
}

// Extractor converts raw text into a record. It holds no state; it
// exists as a component so instances can be passed explicitly.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract runs the strategies in order and returns the first success.
// It never panics; total failure is an *ExtractionError.
func (e *Extractor) Extract(raw string) (map[string]any, error) {
	var attempts []string

	strategies := []struct {
		name string
		fn   func(string) (map[string]any, error)
	}{
		{"direct", extractDirect},
		{"fenced-block", extractFenced},
		{"tool-call", extractToolCall},
		{"brace-scan", extractBraceScan},
		{"repair", extractRepaired},
	}

	for _, s := range strategies {
		record, err := s.fn(raw)
		if err == nil && record != nil {
			return record, nil
		}
		attempts = append(attempts, fmt.Sprintf("%s: %v", s.name, err))
	}

	return nil, &ExtractionError{Attempts: attempts}
}

func extractDirect(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, fmt.Errorf("text is not a bare JSON object")
	}
	return parseObject(trimmed)
}

func extractFenced(raw string) (map[string]any, error) {
	matches := fencedBlockPattern.FindStringSubmatch(raw)
	if len(matches) < 2 {
		return nil, fmt.Errorf("no fenced code block found")
	}
	return parseObject(matches[1])
}

// extractToolCall unwraps a provider tool-call envelope. The envelope
// interior is a tool-call record; the useful payload may sit directly
// in it, be JSON-encoded inside its parameters field, or be
// JSON-encoded inside parameters.output.
func extractToolCall(raw string) (map[string]any, error) {
	start := strings.Index(raw, toolCallOpen)
	end := strings.Index(raw, toolCallClose)
	if start < 0 || end < 0 || end <= start {
		return nil, fmt.Errorf("no tool-call envelope found")
	}

	inner := strings.TrimSpace(raw[start+len(toolCallOpen) : end])
	call, err := parseObject(inner)
	if err != nil {
		return nil, fmt.Errorf("envelope interior: %w", err)
	}

	params, present := call["parameters"]
	if !present {
		return call, nil
	}

	switch p := params.(type) {
	case string:
		return parseObject(p)
	case map[string]any:
		if encoded, ok := p["output"].(string); ok {
			if record, err := parseObject(encoded); err == nil {
				return record, nil
			}
		}
		return p, nil
	default:
		return nil, fmt.Errorf("parameters has unusable type %T", params)
	}
}

func extractBraceScan(raw string) (map[string]any, error) {
	for _, candidate := range bracePattern.FindAllString(raw, -1) {
		record, err := parseObject(candidate)
		if err != nil {
			continue
		}
		if looksLikeAgentResponse(record) {
			return record, nil
		}
	}
	return nil, fmt.Errorf("no brace-delimited candidate looked like an agent response")
}

// extractRepaired is the last resort: normalize the common LLM JSON
// defects by hand, and hand anything still broken to jsonrepair.
func extractRepaired(raw string) (map[string]any, error) {
	cleaned := controlCharPattern.ReplaceAllString(raw, "")
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	cleaned = strings.ReplaceAll(cleaned, "'", `"`)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no object boundaries found")
	}
	cleaned = cleaned[start : end+1]

	if record, err := parseObject(cleaned); err == nil {
		return record, nil
	}

	fixed, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, fmt.Errorf("jsonrepair: %w", err)
	}
	return parseObject(fixed)
}

func parseObject(text string) (map[string]any, error) {
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &record); err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("parsed to null")
	}
	return record, nil
}

// looksLikeAgentResponse guards the brace scan against matching
// arbitrary embedded objects: a candidate must carry the field pair of
// one of the two agent schemas.
func looksLikeAgentResponse(record map[string]any) bool {
	_, hasState := record["current_state"]
	_, hasAction := record["action"]
	if hasState && hasAction {
		return true
	}
	_, hasObservation := record["observation"]
	_, hasDone := record["done"]
	return hasObservation && hasDone
}
