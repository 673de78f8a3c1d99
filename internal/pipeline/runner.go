package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxd/internal/compliance"
	"github.com/fyrsmithlabs/inboxd/internal/llm"
)

// stage is one step of the pipeline. Stages mutate the shared Context
// and run strictly in AllStages order.
type stage interface {
	Name() StageName
	Run(ctx context.Context, pc *Context) error
}

// Runner executes the grounded-answer pipeline.
type Runner struct {
	stages []stage
	logger *zap.Logger
}

// NewRunner wires the five stages. The scrubber is shared between the
// review and compose stages so both apply the same rules.
func NewRunner(client llm.Client, scrubber compliance.Scrubber, logger *zap.Logger) *Runner {
	if scrubber == nil {
		scrubber = compliance.NoopScrubber{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		stages: []stage{
			normalizeStage{},
			reconstructStage{},
			analyzeStage{client: client},
			reviewStage{scrubber: scrubber},
			composeStage{client: client, scrubber: scrubber},
		},
		logger: logger,
	}
}

// Run executes all stages in order. The first failure stops the
// pipeline and is returned as a StageError; the partial Context is
// preserved for diagnostics.
func (r *Runner) Run(ctx context.Context, pc *Context) error {
	if pc.Query == "" {
		return fmt.Errorf("query is required")
	}

	logger := r.logger.With(
		zap.String("request_id", pc.RequestID),
		zap.String("tenant", pc.Tenant.String()),
	)

	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: s.Name(), Err: err}
		}

		started := time.Now()
		err := s.Run(ctx, pc)
		pc.StageResults = append(pc.StageResults, StageResult{
			Stage:       s.Name(),
			StartedAt:   started,
			CompletedAt: time.Now(),
		})

		if err != nil {
			logger.Warn("pipeline stage failed",
				zap.String("stage", string(s.Name())),
				zap.Error(err))
			return &StageError{Stage: s.Name(), Err: err}
		}

		logger.Debug("pipeline stage complete",
			zap.String("stage", string(s.Name())),
			zap.Duration("duration", time.Since(started)))
	}

	return nil
}

// StageTimings returns per-stage durations keyed by stage name.
func StageTimings(results []StageResult) map[string]time.Duration {
	timings := make(map[string]time.Duration, len(results))
	for _, r := range results {
		timings[string(r.Stage)] = r.Duration()
	}
	return timings
}
