package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/inboxd/internal/llm"
)

// ErrNoContext indicates the analyze stage ran without evidence.
var ErrNoContext = errors.New("no context available for analysis")

// analyzeStage extracts structured findings from the reconstructed
// context with the completion model.
type analyzeStage struct {
	client llm.Client
}

func (analyzeStage) Name() StageName { return StageAnalyze }

func (s analyzeStage) Run(ctx context.Context, pc *Context) error {
	if pc.ContextText == "" {
		return ErrNoContext
	}

	raw, err := s.client.Complete(ctx, analyzePrompt(pc.Query, pc.ContextText))
	if err != nil {
		return fmt.Errorf("analysis completion: %w", err)
	}

	payload, err := llm.ExtractJSON(raw)
	if err != nil {
		return fmt.Errorf("analysis response: %w", err)
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		return fmt.Errorf("decode analysis: %w", err)
	}

	pc.Analysis = &analysis
	return nil
}
