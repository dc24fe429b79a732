// Package taskexec implements the task executor (C6): a bounded worker
// pool that runs registered tools asynchronously, tracks per-task progress
// and screenshots, and exposes subscription for live updates. Grounded on
// the teacher's internal/jobs.Store/MemoryStore/CockroachStore, generalized
// from single-shot tool jobs to the full task lifecycle (queued → running →
// terminal) with progress and retry semantics, and on
// internal/tasks/scheduler.go's periodic-sweep pattern for housekeeping.
package taskexec

import (
	"encoding/json"
	"time"
)

// Status is a task's place in its lifecycle, matching spec.md §3 exactly.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timedOut"
)

// IsTerminal reports whether status ends the task's lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Task is one row of task state, matching spec.md §3 exactly.
type Task struct {
	TaskID          string
	ToolName        string
	Arguments       json.RawMessage
	Status          Status
	ProgressPercent int
	ProgressMessage string
	RequesterID     string
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
	TimeoutSeconds  int
	MaxRetries      int
	RetriesSoFar    int
	ResultPayload   json.RawMessage
	ErrorDetails    string
	Screenshots     []string // append-only screenshot file paths

	cancel func()
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Screenshots != nil {
		clone.Screenshots = append([]string(nil), t.Screenshots...)
	}
	return &clone
}

// ProgressEventKind distinguishes the three SSE event kinds the façade
// emits for a task, matching spec.md's progress/log/terminal dialect.
type ProgressEventKind string

const (
	EventProgress ProgressEventKind = "progress"
	EventLog      ProgressEventKind = "log"
	EventTerminal ProgressEventKind = "terminal"
)

// ProgressEvent is one item delivered to a task's subscribers, in
// generation order.
type ProgressEvent struct {
	Kind      ProgressEventKind
	TaskID    string
	Percent   int
	Message   string
	Status    Status
	Timestamp time.Time
}
