// Package audit records every answered query for traceability.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one audited query.
type Event struct {
	// RequestID correlates the event with the returned answer.
	RequestID string `json:"request_id"`

	// OrgID and UserID identify the querying tenant.
	OrgID  string `json:"org_id"`
	UserID string `json:"user_id"`

	// Query is the user's question as asked.
	Query string `json:"query"`

	// Filters describes the retrieval filters applied, if any.
	Filters map[string]string `json:"filters,omitempty"`

	// ResultCount is the number of fragments that cleared the
	// relevance floor.
	ResultCount int `json:"result_count"`

	// Fallback marks answers produced by the safe-fallback path.
	Fallback bool `json:"fallback,omitempty"`

	// LatencyMS is the end-to-end processing time in milliseconds.
	LatencyMS int64 `json:"latency_ms"`

	// Timestamp is when the query completed.
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives audit events. Recording must never fail the query it
// describes.
type Sink interface {
	RecordQuery(ctx context.Context, event Event)
}

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// RecordQuery emits one rag_query log event.
func (s *LogSink) RecordQuery(_ context.Context, event Event) {
	s.logger.Info("rag_query",
		zap.String("request_id", event.RequestID),
		zap.String("org_id", event.OrgID),
		zap.String("user_id", event.UserID),
		zap.String("query", event.Query),
		zap.Any("filters", event.Filters),
		zap.Int("result_count", event.ResultCount),
		zap.Bool("fallback", event.Fallback),
		zap.Int64("latency_ms", event.LatencyMS),
		zap.Time("timestamp", event.Timestamp),
	)
}

// MemorySink keeps events in memory. Test helper.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// RecordQuery appends the event.
func (s *MemorySink) RecordQuery(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
