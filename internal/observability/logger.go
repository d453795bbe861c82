package observability

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LifecycleState is the run/step state carried by a lifecycle event.
type LifecycleState string

const (
	StateTaskStart  LifecycleState = "TASK_START"
	StateStepStart  LifecycleState = "STEP_START"
	StateStepOK     LifecycleState = "STEP_OK"
	StateStepFail   LifecycleState = "STEP_FAIL"
	StateTaskOK     LifecycleState = "TASK_OK"
	StateTaskFail   LifecycleState = "TASK_FAIL"
	StateTaskCancel LifecycleState = "TASK_CANCEL"
	StateTaskPause  LifecycleState = "TASK_PAUSE"
)

// Event is a single lifecycle notification emitted by the step loop.
type Event struct {
	Actor     string         `json:"actor"`
	State     LifecycleState `json:"state"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Step      int            `json:"step,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscriber receives lifecycle events. Delivery is best-effort: a
// failing subscriber is logged and skipped, never propagated.
type Subscriber interface {
	Notify(evt Event) error
}

// Logger emits lifecycle events as structured JSON to stdout, appends
// them to a size-rotated JSONL file, and fans them out to subscribers.
type Logger struct {
	mu          sync.Mutex
	eventPath   string
	maxSize     int64
	subscribers []Subscriber
}

func NewLogger() *Logger {
	return NewLoggerWithPath(filepath.Join("logs", "events.jsonl"))
}

// NewLoggerWithPath writes the event stream to an alternate location.
func NewLoggerWithPath(path string) *Logger {
	return &Logger{
		eventPath: path,
		maxSize:   10 * 1024 * 1024, // 10MB
	}
}

// Subscribe registers a lifecycle subscriber. Having none is fine.
func (l *Logger) Subscribe(s Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribers = append(l.subscribers, s)
}

// Emit publishes one lifecycle event.
func (l *Logger) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		fmt.Printf("{\"error\": \"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Println(string(data))

	l.writeToFile(data)

	l.mu.Lock()
	subs := make([]Subscriber, len(l.subscribers))
	copy(subs, l.subscribers)
	l.mu.Unlock()

	for _, s := range subs {
		if err := s.Notify(evt); err != nil {
			log.Printf("lifecycle subscriber error: %v", err)
		}
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.eventPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.eventPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.eventPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

func (l *Logger) rotateLogs() {
	// Simple rotation: keep one .old file
	oldPath := l.eventPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.eventPath, oldPath)
}
