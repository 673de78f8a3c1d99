package pipeline

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/inboxd/internal/compliance"
)

// ErrNoAnalysis indicates the review stage ran before analysis.
var ErrNoAnalysis = errors.New("no analysis available for review")

// reviewStage scrubs PII from every analysis field that can reach the
// user and drops findings whose citation does not resolve to a
// retrieved document. Untraceable claims are excluded rather than
// passed through unverified.
type reviewStage struct {
	scrubber compliance.Scrubber
}

func (reviewStage) Name() StageName { return StageComplianceReview }

func (s reviewStage) Run(_ context.Context, pc *Context) error {
	if pc.Analysis == nil {
		return ErrNoAnalysis
	}

	review := &ReviewResult{RedactionsByType: make(map[string]int)}
	scrub := func(text string) string {
		result := s.scrubber.Scrub(text)
		review.Redactions += result.TotalFindings
		for piiType, count := range result.ByType() {
			review.RedactionsByType[piiType] += count
		}
		return result.Scrubbed
	}

	known := pc.documents()
	kept := pc.Analysis.Findings[:0]
	for _, f := range pc.Analysis.Findings {
		doc, ok := known[f.Citation.DocumentID]
		if !ok {
			review.ExcludedFindings++
			continue
		}
		f.Claim = scrub(f.Claim)
		// Sender and date come from the reconstructed document, not
		// from whatever the model echoed back.
		f.Citation.Sender = doc.Sender
		if !doc.SentAt.IsZero() {
			f.Citation.Date = doc.SentAt.Format("2006-01-02")
		}
		kept = append(kept, f)
	}
	pc.Analysis.Findings = kept

	scrubAll(pc.Analysis.Decisions, scrub)
	scrubAll(pc.Analysis.ActionItems, scrub)
	scrubAll(pc.Analysis.Timeline, scrub)
	scrubAll(pc.Analysis.Risks, scrub)
	scrubAll(pc.Analysis.MissingInformation, scrub)

	if len(pc.Analysis.Findings) == 0 {
		pc.Analysis.AnswerPossible = false
	}

	pc.Review = review
	return nil
}

func scrubAll(items []string, scrub func(string) string) {
	for i, item := range items {
		items[i] = scrub(item)
	}
}
