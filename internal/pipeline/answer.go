package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/inboxd/internal/compliance"
	"github.com/fyrsmithlabs/inboxd/internal/llm"
)

// ErrNotReviewed indicates the compose stage ran before compliance
// review.
var ErrNotReviewed = errors.New("analysis has not passed compliance review")

// insufficientEvidenceAnswer is returned without a model call when the
// reviewed findings cannot support an answer.
const insufficientEvidenceAnswer = "The retrieved emails do not contain enough information to answer this question."

// noEvidenceLimitation names the gap when the model reported none.
const noEvidenceLimitation = "no retrieved email contained information supporting an answer to this question"

// composeStage writes the final answer. Only reviewed content reaches
// the model prompt, and the model's output passes through the scrubber
// before it becomes the answer.
type composeStage struct {
	client   llm.Client
	scrubber compliance.Scrubber
}

func (composeStage) Name() StageName { return StageAnswerCompose }

func (s composeStage) Run(ctx context.Context, pc *Context) error {
	if pc.Analysis == nil || pc.Review == nil {
		return ErrNotReviewed
	}

	answer := &Answer{
		Confidence:  confidence(pc.Analysis.Confidence),
		Sources:     collectSources(pc.Threads),
		Limitations: pc.Analysis.MissingInformation,
	}

	if !pc.Analysis.AnswerPossible {
		answer.Text = insufficientEvidenceAnswer
		answer.AnswerComplete = false
		answer.Confidence = "low"
		if len(answer.Limitations) == 0 {
			answer.Limitations = []string{noEvidenceLimitation}
		}
		pc.Answer = answer
		return nil
	}

	raw, err := s.client.Complete(ctx, composePrompt(pc.Query, pc.Analysis))
	if err != nil {
		return fmt.Errorf("answer completion: %w", err)
	}

	answer.Text = s.scrubber.Scrub(raw).Scrubbed
	answer.AnswerComplete = true
	pc.Answer = answer
	return nil
}

// confidence normalizes the model's self-assessment to the low, medium,
// high scale.
func confidence(raw string) string {
	switch raw {
	case "high", "medium", "low":
		return raw
	default:
		return "medium"
	}
}

func collectSources(threads []*Thread) []Source {
	var sources []Source
	for _, th := range threads {
		for _, doc := range th.Documents {
			sources = append(sources, Source{
				DocumentID: doc.ID,
				ThreadID:   th.ID,
				Subject:    doc.Subject,
				Sender:     doc.Sender,
				SentAt:     doc.SentAt,
				Score:      doc.TopScore,
			})
		}
	}
	return sources
}
