package types

import "time"

// TraceEntry is one ordered record in the planner's decision log. The trace
// is consumed by the debug/visualization UI only and never affects behavior.
type TraceEntry struct {
	Thought     string `json:"thought,omitempty"`
	Action      string `json:"action"`
	Observation string `json:"observation,omitempty"`
	Decision    string `json:"decision,omitempty"`
	Result      string `json:"result,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
}

// NewTraceEntry stamps the entry duration from a phase start time.
func NewTraceEntry(action string, start time.Time) TraceEntry {
	return TraceEntry{
		Action:     action,
		DurationMS: time.Since(start).Milliseconds(),
	}
}
