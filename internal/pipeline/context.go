package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// Context carries the accumulating pipeline state. Each stage reads
// what earlier stages produced and appends its own output; nothing is
// removed once written.
type Context struct {
	// RequestID correlates pipeline output with the audit log.
	RequestID string

	// Tenant is the querying tenant.
	Tenant tenant.Tenant

	// Query is the user's question.
	Query string

	// Fragments is the raw retrieval input, set before the pipeline
	// runs.
	Fragments []index.Fragment

	// Stats is produced by the retrieve-normalize stage.
	Stats *RetrievalStats

	// Threads is produced by the context-reconstruct stage.
	Threads []*Thread

	// ContextText is the rendered evidence block used in prompts.
	ContextText string

	// Analysis is produced by the analyze stage and may be modified
	// in place by the compliance-review stage.
	Analysis *Analysis

	// Review is produced by the compliance-review stage.
	Review *ReviewResult

	// Answer is produced by the answer-compose stage.
	Answer *Answer

	// StageResults records per-stage timings in execution order.
	StageResults []StageResult
}

// RetrievalStats summarizes the normalized fragment set.
type RetrievalStats struct {
	// FragmentCount is the number of fragments after deduplication.
	FragmentCount int

	// UniqueDocuments and UniqueThreads count distinct sources.
	UniqueDocuments int
	UniqueThreads   int

	// DateFrom and DateTo bound the sent times seen, when known.
	DateFrom time.Time
	DateTo   time.Time

	// TopSenders lists senders by fragment count, descending.
	TopSenders []SenderCount
}

// SenderCount pairs a sender address with its fragment count.
type SenderCount struct {
	Sender string
	Count  int
}

// Thread is one reconstructed conversation, documents in sent order.
type Thread struct {
	ID        string
	Documents []*ThreadDocument
}

// ThreadDocument is one email rebuilt from its retrieved chunks.
type ThreadDocument struct {
	ID      string
	Subject string
	Sender  string
	SentAt  time.Time

	// Text is the chunk previews joined in chunk order. Gaps are
	// possible when only some chunks cleared the relevance floor.
	Text string

	// TopScore is the best relevance score among the chunks.
	TopScore float64
}

// Analysis is the structured output of the analyze stage. Field names
// form the JSON contract with the model.
type Analysis struct {
	// AnswerPossible reports whether the evidence supports an answer.
	AnswerPossible bool `json:"answer_possible"`

	// Confidence is the model's self-assessment: high, medium, or low.
	Confidence string `json:"confidence"`

	// Findings are claims with the document they came from.
	Findings []AnalysisFinding `json:"findings"`

	// Decisions, ActionItems, Timeline and Risks are extracted
	// supporting detail, possibly empty.
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
	Timeline    []string `json:"timeline"`
	Risks       []string `json:"risks"`

	// MissingInformation names what the evidence does not cover.
	MissingInformation []string `json:"missing_information"`
}

// AnalysisFinding is one claim tied to its source document.
type AnalysisFinding struct {
	// Claim is the extracted statement.
	Claim string `json:"claim"`

	// Citation names where the claim came from. The model supplies the
	// document ID; sender and date are filled in during compliance
	// review from the reconstructed document, never trusted from the
	// model.
	Citation Citation `json:"citation"`
}

// Citation identifies the source of a claim.
type Citation struct {
	// DocumentID is the cited email's identifier.
	DocumentID string `json:"document_id"`

	// Sender is the cited email's From address.
	Sender string `json:"sender,omitempty"`

	// Date is the cited email's sent date (YYYY-MM-DD).
	Date string `json:"date,omitempty"`
}

// ReviewResult summarizes the compliance-review stage.
type ReviewResult struct {
	// Redactions is the total number of PII spans replaced.
	Redactions int

	// RedactionsByType breaks redactions down by PII category.
	RedactionsByType map[string]int

	// ExcludedFindings counts findings dropped for citing unknown
	// documents.
	ExcludedFindings int
}

// Answer is the pipeline's final product.
type Answer struct {
	// Text is the composed, compliance-reviewed answer.
	Text string

	// AnswerComplete reports whether the evidence fully supported the
	// answer. False on the insufficient-evidence path.
	AnswerComplete bool

	// Confidence is the reviewed analysis confidence: high, medium,
	// or low.
	Confidence string

	// Sources lists the documents the answer draws on.
	Sources []Source

	// Limitations names gaps the reader should know about.
	Limitations []string
}

// Source is one cited document.
type Source struct {
	DocumentID string    `json:"document_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Sender     string    `json:"sender,omitempty"`
	SentAt     time.Time `json:"sent_at,omitempty"`
	Score      float64   `json:"score"`
}

// documents indexes the reconstructed documents by ID.
func (c *Context) documents() map[string]*ThreadDocument {
	docs := make(map[string]*ThreadDocument)
	for _, th := range c.Threads {
		for _, doc := range th.Documents {
			docs[doc.ID] = doc
		}
	}
	return docs
}
