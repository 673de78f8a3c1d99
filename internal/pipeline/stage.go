// Package pipeline implements the staged grounded-answer flow: raw
// retrieval results go in, a compliance-reviewed answer comes out.
package pipeline

import (
	"fmt"
	"time"
)

// StageName identifies one pipeline stage.
type StageName string

const (
	// StageRetrieveNormalize deduplicates and ranks raw fragments.
	StageRetrieveNormalize StageName = "retrieve-normalize"

	// StageContextReconstruct rebuilds document and thread structure.
	StageContextReconstruct StageName = "context-reconstruct"

	// StageAnalyze extracts structured findings with the model.
	StageAnalyze StageName = "analyze"

	// StageComplianceReview redacts PII and drops untraceable findings.
	StageComplianceReview StageName = "compliance-review"

	// StageAnswerCompose writes the final answer from safe content.
	StageAnswerCompose StageName = "answer-compose"
)

// AllStages lists the stages in execution order.
func AllStages() []StageName {
	return []StageName{
		StageRetrieveNormalize,
		StageContextReconstruct,
		StageAnalyze,
		StageComplianceReview,
		StageAnswerCompose,
	}
}

// CanTransition reports whether to may directly follow from. Stages
// run strictly in order; there is no skipping or looping.
func CanTransition(from, to StageName) bool {
	stages := AllStages()
	for i, s := range stages[:len(stages)-1] {
		if s == from {
			return stages[i+1] == to
		}
	}
	return false
}

// StageResult records one stage execution.
type StageResult struct {
	Stage       StageName
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns how long the stage ran.
func (r StageResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage StageName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
