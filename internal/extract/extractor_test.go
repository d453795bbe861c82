package extract

import (
	"errors"
	"testing"
)

func TestExtract_DirectObject(t *testing.T) {
	e := New()
	record, err := e.Extract(`  {"observation": "ok", "done": false}  `)
	if err != nil {
		t.Fatal(err)
	}
	if record["observation"] != "ok" {
		t.Errorf("observation = %v", record["observation"])
	}
}

func TestExtract_FencedBlock(t *testing.T) {
	e := New()
	raw := "Sure! ```json\n{\"observation\":\"ok\",\"done\":true,\"challenges\":\"\",\"next_steps\":\"\",\"final_answer\":\"x\",\"reasoning\":\"y\",\"web_task\":true}\n```"
	record, err := e.Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if record["final_answer"] != "x" {
		t.Errorf("final_answer = %v", record["final_answer"])
	}
	if record["done"] != true {
		t.Errorf("done = %v", record["done"])
	}
}

func TestExtract_ToolCallEnvelope(t *testing.T) {
	e := New()

	// parameters as a JSON-encoded string
	raw := `<tool_call>{"name": "planner_output", "parameters": "{\"observation\": \"inner\", \"done\": false}"}</tool_call>`
	record, err := e.Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if record["observation"] != "inner" {
		t.Errorf("observation = %v", record["observation"])
	}

	// parameters.output as a JSON-encoded string
	raw = `<tool_call>{"name": "x", "parameters": {"output": "{\"observation\": \"nested\", \"done\": true}"}}</tool_call>`
	record, err = e.Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if record["observation"] != "nested" {
		t.Errorf("observation = %v", record["observation"])
	}

	// plain parameters object returned as-is
	raw = `<tool_call>{"name": "x", "parameters": {"observation": "plain", "done": false}}</tool_call>`
	record, err = e.Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if record["observation"] != "plain" {
		t.Errorf("observation = %v", record["observation"])
	}
}

func TestExtract_BraceScan(t *testing.T) {
	e := New()
	raw := `The model said {"irrelevant": 1} and then {"observation": "found it", "done": false} at the end.`
	record, err := e.Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if record["observation"] != "found it" {
		t.Errorf("observation = %v", record["observation"])
	}
}

func TestExtract_RepairsBrokenJSON(t *testing.T) {
	e := New()

	// trailing comma and single quotes
	raw := `Here you go: {'observation': 'ok', 'done': false,}`
	record, err := e.Extract(raw)
	if err != nil {
		t.Fatal(err)
	}
	if record["observation"] != "ok" {
		t.Errorf("observation = %v", record["observation"])
	}
}

func TestExtract_FailureAccumulatesAttempts(t *testing.T) {
	e := New()
	_, err := e.Extract("just some prose with no json at all")
	if err == nil {
		t.Fatal("expected extraction failure")
	}
	var extractionErr *ExtractionError
	if !errors.As(err, &extractionErr) {
		t.Fatalf("expected *ExtractionError, got %T", err)
	}
	if len(extractionErr.Attempts) != 5 {
		t.Errorf("expected 5 strategy attempts, got %d", len(extractionErr.Attempts))
	}
}

func TestExtract_NeverPanics(t *testing.T) {
	e := New()
	inputs := []string{
		"", "{", "}", "{}", "null", "``````", "<tool_call></tool_call>",
		"{\"a\": }", string([]byte{0x00, 0x01, '{', '}'}),
	}
	for _, input := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Extract(%q) panicked: %v", input, r)
				}
			}()
			_, _ = e.Extract(input)
		}()
	}
}
