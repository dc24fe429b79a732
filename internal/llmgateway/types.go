// Package llmgateway implements the language-model gateway (C3): a single
// entry point for every component that needs a model completion (tool
// description generation, webaction step parsing/correction), with
// fingerprint-based response caching, cost accounting, and a structured
// call log. Grounded on the teacher's internal/agent/providers package,
// generalized from streaming multi-turn chat completion to single-prompt
// request/response calls.
package llmgateway

import "time"

// Usage reports token counts and an estimated cost for one model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	EstimatedUSD float64
}

// CallLog is one row of the LLM call log, matching spec.md §3 exactly plus
// the TraceID addition from SPEC_FULL.md §3.
type CallLog struct {
	CallID          string
	CacheKey        string
	CacheHit        bool
	Provider        string
	ModelID         string
	RequestBytes    int64
	ResponseBytes   int64
	InputTokens     int64
	OutputTokens    int64
	LatencyMillis   int64
	EstimatedCost   float64
	ToolName        string
	TaskID          string
	TraceID         string
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// CallLogSink receives completed call logs for storage/export. Kept as a
// narrow interface so tests can assert on emitted logs without a database.
type CallLogSink interface {
	Append(log CallLog)
}

// MemoryCallLogSink collects logs in a slice, used in tests and as the
// default sink when no persistent one is configured.
type MemoryCallLogSink struct {
	logs []CallLog
}

func NewMemoryCallLogSink() *MemoryCallLogSink { return &MemoryCallLogSink{} }

func (s *MemoryCallLogSink) Append(log CallLog) { s.logs = append(s.logs, log) }

func (s *MemoryCallLogSink) All() []CallLog {
	out := make([]CallLog, len(s.logs))
	copy(out, s.logs)
	return out
}
