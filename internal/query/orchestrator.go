// Package query answers questions over a tenant's indexed email.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxd/internal/audit"
	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/ingest"
	"github.com/fyrsmithlabs/inboxd/internal/pipeline"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// defaultTopK is how many fragments retrieval fetches before the
// relevance floor is applied.
const defaultTopK = 20

// Canned answers for the paths that never reach the model.
const (
	notVectorizedAnswer = "Your emails have not been indexed yet. Run vectorization and ask again once it completes."
	noMatchAnswer       = "No emails relevant to this question were found."
	fallbackAnswer      = "I'm sorry, something went wrong while answering this question. Please try again."
)

// ErrEmptyQuery indicates a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// Embedder embeds the query text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Retriever fetches scored fragments for a query vector.
type Retriever interface {
	Query(ctx context.Context, tn tenant.Tenant, vector []float32, limit int, opts index.FilterOptions) ([]index.Fragment, error)
}

// StatusProvider reports vectorization state, used to tell an empty
// index apart from a genuine no-match.
type StatusProvider interface {
	Status(ctx context.Context, tn tenant.Tenant) (*ingest.Status, error)
}

// Runner executes the grounded-answer pipeline.
type Runner interface {
	Run(ctx context.Context, pc *pipeline.Context) error
}

// Config configures the orchestrator.
type Config struct {
	// TopK is the retrieval fetch size. Default: 20.
	TopK int `koanf:"top_k"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
}

// Result is the answer returned to the caller.
type Result struct {
	// Answer is the final text shown to the user.
	Answer string `json:"answer"`

	// AnswerComplete reports whether the evidence fully supported the
	// answer. False on canned and fallback answers.
	AnswerComplete bool `json:"answer_complete"`

	// Confidence is the pipeline's confidence: high, medium, or low.
	// Empty when the pipeline never ran.
	Confidence string `json:"confidence,omitempty"`

	// Sources lists the documents the answer draws on.
	Sources []pipeline.Source `json:"sources,omitempty"`

	// Limitations names gaps the reader should know about.
	Limitations []string `json:"limitations,omitempty"`

	// Metadata describes how the answer was produced.
	Metadata Metadata `json:"metadata"`
}

// Metadata describes one query execution.
type Metadata struct {
	RequestID      string                   `json:"request_id"`
	Query          string                   `json:"query"`
	Filters        map[string]string        `json:"filters,omitempty"`
	RetrievalCount int                      `json:"retrieval_count"`
	ProcessingTime time.Duration            `json:"processing_time"`
	StageTimings   map[string]time.Duration `json:"stage_timings,omitempty"`
	NoResults      bool                     `json:"no_results,omitempty"`
	Fallback       bool                     `json:"fallback,omitempty"`
}

// Orchestrator runs the full answer flow: embed, retrieve, pipeline,
// audit. Failures past input validation yield a safe fallback answer
// instead of an error; the caller always gets something to show.
type Orchestrator struct {
	embedder  Embedder
	retriever Retriever
	status    StatusProvider
	runner    Runner
	sink      audit.Sink
	config    Config
	logger    *zap.Logger
}

// NewOrchestrator wires the query dependencies.
func NewOrchestrator(embedder Embedder, retriever Retriever, status StatusProvider, runner Runner, sink audit.Sink, config Config, logger *zap.Logger) *Orchestrator {
	config.ApplyDefaults()
	if sink == nil {
		sink = audit.NewMemorySink()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		status:    status,
		runner:    runner,
		sink:      sink,
		config:    config,
		logger:    logger,
	}
}

// AnswerQuery answers one question for the tenant. An empty requestID
// gets a generated one. Every completed call is audited, fallbacks
// included.
func (o *Orchestrator) AnswerQuery(ctx context.Context, tn tenant.Tenant, query string, opts index.FilterOptions, requestID string) (result *Result, err error) {
	if err := tn.Validate(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	started := time.Now()
	logger := o.logger.With(
		zap.String("request_id", requestID),
		zap.String("tenant", tn.String()),
	)

	// A panic anywhere below becomes a fallback answer, never a crash
	// propagated to the caller.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("query panicked", zap.Any("panic", r))
			result = o.fallback(ctx, tn, query, opts, requestID, started, 0)
			err = nil
		}
	}()

	vector, embedErr := o.embedder.EmbedQuery(ctx, query)
	if embedErr != nil {
		logger.Error("query embedding failed", zap.Error(embedErr))
		return o.fallback(ctx, tn, query, opts, requestID, started, 0), nil
	}

	fragments, retrieveErr := o.retriever.Query(ctx, tn, vector, o.config.TopK, opts)
	if retrieveErr != nil {
		logger.Error("retrieval failed", zap.Error(retrieveErr))
		return o.fallback(ctx, tn, query, opts, requestID, started, 0), nil
	}

	if len(fragments) == 0 {
		return o.answerWithoutResults(ctx, tn, query, opts, requestID, started), nil
	}

	pc := &pipeline.Context{
		RequestID: requestID,
		Tenant:    tn,
		Query:     query,
		Fragments: fragments,
	}
	if runErr := o.runner.Run(ctx, pc); runErr != nil {
		logger.Error("pipeline failed", zap.Error(runErr))
		return o.fallback(ctx, tn, query, opts, requestID, started, len(fragments)), nil
	}

	result = &Result{
		Answer:         pc.Answer.Text,
		AnswerComplete: pc.Answer.AnswerComplete,
		Confidence:     pc.Answer.Confidence,
		Sources:        pc.Answer.Sources,
		Limitations:    pc.Answer.Limitations,
		Metadata: Metadata{
			RequestID:      requestID,
			Query:          query,
			Filters:        filtersMap(opts),
			RetrievalCount: len(fragments),
			ProcessingTime: time.Since(started),
			StageTimings:   pipeline.StageTimings(pc.StageResults),
		},
	}

	o.record(ctx, tn, query, opts, requestID, len(fragments), started, false)
	return result, nil
}

// answerWithoutResults distinguishes a not-yet-indexed mailbox from a
// genuine no-match. Both are answered without the model.
func (o *Orchestrator) answerWithoutResults(ctx context.Context, tn tenant.Tenant, query string, opts index.FilterOptions, requestID string, started time.Time) *Result {
	answer := noMatchAnswer
	if status, err := o.status.Status(ctx, tn); err == nil && status != nil && status.Embedded == 0 {
		answer = notVectorizedAnswer
	}

	o.record(ctx, tn, query, opts, requestID, 0, started, false)
	return &Result{
		Answer: answer,
		Metadata: Metadata{
			RequestID:      requestID,
			Query:          query,
			Filters:        filtersMap(opts),
			ProcessingTime: time.Since(started),
			NoResults:      true,
		},
	}
}

// fallback builds the apology answer and audits the failed attempt.
func (o *Orchestrator) fallback(ctx context.Context, tn tenant.Tenant, query string, opts index.FilterOptions, requestID string, started time.Time, retrieved int) *Result {
	o.record(ctx, tn, query, opts, requestID, retrieved, started, true)
	return &Result{
		Answer: fallbackAnswer,
		Metadata: Metadata{
			RequestID:      requestID,
			Query:          query,
			Filters:        filtersMap(opts),
			RetrievalCount: retrieved,
			ProcessingTime: time.Since(started),
			Fallback:       true,
		},
	}
}

func (o *Orchestrator) record(ctx context.Context, tn tenant.Tenant, query string, opts index.FilterOptions, requestID string, resultCount int, started time.Time, fallback bool) {
	o.sink.RecordQuery(ctx, audit.Event{
		RequestID:   requestID,
		OrgID:       tn.OrgID,
		UserID:      tn.UserID,
		Query:       query,
		Filters:     filtersMap(opts),
		ResultCount: resultCount,
		Fallback:    fallback,
		LatencyMS:   time.Since(started).Milliseconds(),
		Timestamp:   time.Now().UTC(),
	})
}

// filtersMap renders the filter options for audit and metadata.
func filtersMap(opts index.FilterOptions) map[string]string {
	m := make(map[string]string)
	if opts.Sender != "" {
		m["sender"] = opts.Sender
	}
	if opts.ThreadID != "" {
		m["thread_id"] = opts.ThreadID
	}
	if opts.DocumentID != "" {
		m["email_id"] = opts.DocumentID
	}
	if !opts.DateFrom.IsZero() {
		m["date_from"] = opts.DateFrom.Format(time.RFC3339)
	}
	if !opts.DateTo.IsZero() {
		m["date_to"] = opts.DateTo.Format(time.RFC3339)
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
