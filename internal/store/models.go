package store

import (
	"time"

	"github.com/rohan/waypoint/internal/schema"
)

// StepRecord is one persisted step of a run: the role that produced
// it, the resolved output record, and the actions that were taken.
type StepRecord struct {
	Index     int                       `json:"index"`
	Role      schema.Role               `json:"role"`
	Output    map[string]any            `json:"output"`
	Actions   []schema.ActionInvocation `json:"actions,omitempty"`
	Result    string                    `json:"result,omitempty"`
	CreatedAt time.Time                 `json:"created_at,omitempty"`
}

// RunRecord is the persisted summary of a completed run.
type RunRecord struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Status    string    `json:"status"`
	Result    string    `json:"result"`
	CreatedAt time.Time `json:"created_at"`
}
