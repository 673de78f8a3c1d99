package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/inboxd/internal/compliance"
	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

var testTenant = tenant.Tenant{OrgID: "acme", UserID: "u42"}

// fakeLLM returns scripted responses in order.
type fakeLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func frag(docID, threadID string, chunk int, score float32, preview string, sent time.Time) index.Fragment {
	return index.Fragment{
		ID:    index.VectorID(docID, chunk),
		Score: score,
		Metadata: map[string]interface{}{
			index.MetaDocumentID: docID,
			index.MetaThreadID:   threadID,
			index.MetaChunkIndex: chunk,
			index.MetaPreview:    preview,
			index.MetaSender:     "cfo@acme.test",
			index.MetaSubject:    "Budget",
			index.MetaSentAt:     sent.Format(time.RFC3339),
		},
	}
}

func testScrubber(t *testing.T) compliance.Scrubber {
	t.Helper()
	s, err := compliance.NewRedactor(nil, nil)
	require.NoError(t, err)
	return s
}

func TestCanTransition(t *testing.T) {
	stages := AllStages()
	require.Len(t, stages, 5)

	for i := 0; i < len(stages)-1; i++ {
		assert.True(t, CanTransition(stages[i], stages[i+1]))
	}

	assert.False(t, CanTransition(StageRetrieveNormalize, StageAnalyze), "no skipping")
	assert.False(t, CanTransition(StageAnalyze, StageRetrieveNormalize), "no looping")
	assert.False(t, CanTransition(StageAnswerCompose, StageRetrieveNormalize))
}

func TestNormalizeStage(t *testing.T) {
	sent := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	later := sent.Add(48 * time.Hour)

	pc := &Context{Fragments: []index.Fragment{
		frag("doc-1", "thr-1", 0, 0.80, "first", sent),
		frag("doc-1", "thr-1", 0, 0.80, "first", sent), // duplicate ID
		frag("doc-2", "thr-2", 0, 0.95, "second", later),
	}}

	require.NoError(t, normalizeStage{}.Run(context.Background(), pc))

	require.Len(t, pc.Fragments, 2)
	assert.Equal(t, "doc-2_chunk_0", pc.Fragments[0].ID, "sorted by score descending")

	require.NotNil(t, pc.Stats)
	assert.Equal(t, 2, pc.Stats.FragmentCount)
	assert.Equal(t, 2, pc.Stats.UniqueDocuments)
	assert.Equal(t, 2, pc.Stats.UniqueThreads)
	assert.True(t, pc.Stats.DateFrom.Equal(sent))
	assert.True(t, pc.Stats.DateTo.Equal(later))
	require.NotEmpty(t, pc.Stats.TopSenders)
	assert.Equal(t, "cfo@acme.test", pc.Stats.TopSenders[0].Sender)
	assert.Equal(t, 2, pc.Stats.TopSenders[0].Count)
}

func TestReconstructStageOrdersChunksAndThreads(t *testing.T) {
	early := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(72 * time.Hour)

	pc := &Context{Fragments: []index.Fragment{
		frag("doc-2", "thr-2", 0, 0.9, "newer thread", late),
		frag("doc-1", "thr-1", 2, 0.8, "third part", early),
		frag("doc-1", "thr-1", 0, 0.7, "first part", early),
	}}

	require.NoError(t, reconstructStage{}.Run(context.Background(), pc))

	require.Len(t, pc.Threads, 2)
	assert.Equal(t, "thr-1", pc.Threads[0].ID, "threads in chronological order")

	doc := pc.Threads[0].Documents[0]
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "first part\nthird part", doc.Text, "chunks joined in chunk order")
	assert.InDelta(t, 0.8, doc.TopScore, 1e-6)

	assert.Contains(t, pc.ContextText, "[Email doc-1]")
	assert.Contains(t, pc.ContextText, "## Thread thr-2")
}

func TestAnalyzeStage(t *testing.T) {
	client := &fakeLLM{responses: []string{
		"```json\n{\"answer_possible\": true, \"confidence\": \"high\", \"findings\": [{\"claim\": \"approved\", \"citation\": {\"document_id\": \"doc-1\"}}], \"missing_information\": [\"amounts\"]}\n```",
	}}

	pc := &Context{Query: "was it approved?", ContextText: "[Email doc-1]\napproved"}
	require.NoError(t, analyzeStage{client: client}.Run(context.Background(), pc))

	require.NotNil(t, pc.Analysis)
	assert.True(t, pc.Analysis.AnswerPossible)
	assert.Equal(t, "high", pc.Analysis.Confidence)
	require.Len(t, pc.Analysis.Findings, 1)
	assert.Equal(t, "doc-1", pc.Analysis.Findings[0].Citation.DocumentID)
	assert.Equal(t, []string{"amounts"}, pc.Analysis.MissingInformation)

	assert.Contains(t, client.prompts[0], "was it approved?")
	assert.Contains(t, client.prompts[0], "[Email doc-1]")
}

func TestAnalyzeStageRequiresContext(t *testing.T) {
	err := analyzeStage{client: &fakeLLM{}}.Run(context.Background(), &Context{Query: "q"})
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestReviewStageExcludesUntraceableFindings(t *testing.T) {
	pc := &Context{
		Threads: []*Thread{{ID: "thr-1", Documents: []*ThreadDocument{{ID: "doc-1"}}}},
		Analysis: &Analysis{
			AnswerPossible: true,
			Findings: []AnalysisFinding{
				{Claim: "grounded claim", Citation: Citation{DocumentID: "doc-1"}},
				{Claim: "invented claim", Citation: Citation{DocumentID: "doc-99"}},
			},
		},
	}

	require.NoError(t, reviewStage{scrubber: testScrubber(t)}.Run(context.Background(), pc))

	require.Len(t, pc.Analysis.Findings, 1)
	assert.Equal(t, "grounded claim", pc.Analysis.Findings[0].Claim)
	assert.Equal(t, 1, pc.Review.ExcludedFindings)
	assert.True(t, pc.Analysis.AnswerPossible)
}

func TestReviewStageFillsCitationsFromDocuments(t *testing.T) {
	sent := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	pc := &Context{
		Threads: []*Thread{{ID: "thr-1", Documents: []*ThreadDocument{
			{ID: "doc-1", Sender: "cfo@acme.test", SentAt: sent},
		}}},
		Analysis: &Analysis{
			AnswerPossible: true,
			Findings: []AnalysisFinding{{
				Claim: "approved",
				// Whatever the model echoes for sender and date is
				// overwritten from the retrieved document.
				Citation: Citation{DocumentID: "doc-1", Sender: "spoofed@evil.test", Date: "1999-01-01"},
			}},
		},
	}

	require.NoError(t, reviewStage{scrubber: testScrubber(t)}.Run(context.Background(), pc))

	require.Len(t, pc.Analysis.Findings, 1)
	citation := pc.Analysis.Findings[0].Citation
	assert.Equal(t, "doc-1", citation.DocumentID)
	assert.Equal(t, "cfo@acme.test", citation.Sender)
	assert.Equal(t, "2024-03-10", citation.Date)
}

func TestReviewStageScrubsAllFields(t *testing.T) {
	pc := &Context{
		Threads: []*Thread{{ID: "thr-1", Documents: []*ThreadDocument{{ID: "doc-1"}}}},
		Analysis: &Analysis{
			AnswerPossible: true,
			Findings:       []AnalysisFinding{{Claim: "SSN on file: 123-45-6789", Citation: Citation{DocumentID: "doc-1"}}},
			Risks:          []string{"shared card 4111 1111 1111 1111 externally"},
		},
	}

	require.NoError(t, reviewStage{scrubber: testScrubber(t)}.Run(context.Background(), pc))

	assert.Equal(t, "SSN on file: [REDACTED-SSN]", pc.Analysis.Findings[0].Claim)
	assert.Contains(t, pc.Analysis.Risks[0], "[REDACTED-CREDIT-CARD]")
	assert.Equal(t, 2, pc.Review.Redactions)
	assert.Equal(t, 1, pc.Review.RedactionsByType["SSN"])
}

func TestReviewStageAllFindingsExcluded(t *testing.T) {
	pc := &Context{
		Threads: []*Thread{{ID: "thr-1", Documents: []*ThreadDocument{{ID: "doc-1"}}}},
		Analysis: &Analysis{
			AnswerPossible: true,
			Findings:       []AnalysisFinding{{Claim: "x", Citation: Citation{DocumentID: "doc-99"}}},
		},
	}

	require.NoError(t, reviewStage{scrubber: testScrubber(t)}.Run(context.Background(), pc))

	assert.False(t, pc.Analysis.AnswerPossible, "an answer needs at least one traceable finding")
}

func TestComposeStageInsufficientEvidenceSkipsModel(t *testing.T) {
	client := &fakeLLM{}
	pc := &Context{
		Query:    "q",
		Analysis: &Analysis{AnswerPossible: false, MissingInformation: []string{"no contract emails"}},
		Review:   &ReviewResult{},
	}

	require.NoError(t, composeStage{client: client, scrubber: testScrubber(t)}.Run(context.Background(), pc))

	assert.Zero(t, client.calls)
	assert.Equal(t, insufficientEvidenceAnswer, pc.Answer.Text)
	assert.False(t, pc.Answer.AnswerComplete)
	assert.Equal(t, "low", pc.Answer.Confidence)
	assert.Equal(t, []string{"no contract emails"}, pc.Answer.Limitations)
}

func TestComposeStageDefaultsLimitationWhenModelReportsNone(t *testing.T) {
	pc := &Context{
		Query:    "q",
		Analysis: &Analysis{AnswerPossible: false},
		Review:   &ReviewResult{},
	}

	require.NoError(t, composeStage{client: &fakeLLM{}, scrubber: testScrubber(t)}.Run(context.Background(), pc))

	assert.Equal(t, []string{noEvidenceLimitation}, pc.Answer.Limitations,
		"an insufficient-evidence answer always names at least one gap")
}

func TestComposeStageScrubsModelOutput(t *testing.T) {
	client := &fakeLLM{responses: []string{"Per the CFO, the SSN is 123-45-6789."}}
	pc := &Context{
		Query: "q",
		Threads: []*Thread{{ID: "thr-1", Documents: []*ThreadDocument{
			{ID: "doc-1", Sender: "cfo@acme.test", TopScore: 0.9},
		}}},
		Analysis: &Analysis{
			AnswerPossible: true,
			Confidence:     "high",
			Findings:       []AnalysisFinding{{Claim: "approved", Citation: Citation{DocumentID: "doc-1"}}},
		},
		Review: &ReviewResult{},
	}

	require.NoError(t, composeStage{client: client, scrubber: testScrubber(t)}.Run(context.Background(), pc))

	assert.Equal(t, "Per the CFO, the SSN is [REDACTED-SSN].", pc.Answer.Text)
	assert.True(t, pc.Answer.AnswerComplete)
	assert.Equal(t, "high", pc.Answer.Confidence)
	require.Len(t, pc.Answer.Sources, 1)
	assert.Equal(t, "doc-1", pc.Answer.Sources[0].DocumentID)
}

func TestRunnerEndToEnd(t *testing.T) {
	sent := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	client := &fakeLLM{responses: []string{
		`{"answer_possible": true, "confidence": "medium", "findings": [{"claim": "Payroll uses SSN 123-45-6789", "citation": {"document_id": "doc-1"}}], "missing_information": []}`,
		"Payroll is keyed on SSN 123-45-6789 per the CFO.",
	}}

	runner := NewRunner(client, testScrubber(t), nil)
	pc := &Context{
		RequestID: "req-1",
		Tenant:    testTenant,
		Query:     "how is payroll keyed?",
		Fragments: []index.Fragment{frag("doc-1", "thr-1", 0, 0.92, "Payroll is keyed on the SSN.", sent)},
	}

	require.NoError(t, runner.Run(context.Background(), pc))

	require.NotNil(t, pc.Answer)
	assert.NotContains(t, pc.Answer.Text, "123-45-6789")
	assert.Contains(t, pc.Answer.Text, "[REDACTED-SSN]")
	assert.True(t, pc.Answer.AnswerComplete)
	assert.Equal(t, "medium", pc.Answer.Confidence)
	assert.Equal(t, 2, client.calls)

	require.Len(t, pc.StageResults, 5)
	for i, result := range pc.StageResults {
		assert.Equal(t, AllStages()[i], result.Stage)
		assert.False(t, result.CompletedAt.Before(result.StartedAt))
		if i > 0 {
			assert.False(t, result.StartedAt.Before(pc.StageResults[i-1].CompletedAt),
				"stages run strictly in sequence")
		}
	}
}

func TestRunnerStopsOnStageFailure(t *testing.T) {
	client := &fakeLLM{err: errors.New("model unavailable")}
	runner := NewRunner(client, testScrubber(t), nil)

	sent := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	pc := &Context{
		Query:     "q",
		Fragments: []index.Fragment{frag("doc-1", "thr-1", 0, 0.9, "text", sent)},
	}

	err := runner.Run(context.Background(), pc)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAnalyze, stageErr.Stage)

	assert.Len(t, pc.StageResults, 3, "failed stage is still timed")
	assert.Nil(t, pc.Answer)
}

func TestRunnerRequiresQuery(t *testing.T) {
	runner := NewRunner(&fakeLLM{}, nil, nil)
	assert.Error(t, runner.Run(context.Background(), &Context{}))
}

func TestStageTimings(t *testing.T) {
	start := time.Now()
	timings := StageTimings([]StageResult{
		{Stage: StageAnalyze, StartedAt: start, CompletedAt: start.Add(50 * time.Millisecond)},
	})
	assert.Equal(t, 50*time.Millisecond, timings["analyze"])
}
