package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyrsmithlabs/inboxd/internal/index"
)

// reconstructStage rebuilds documents from their chunks and groups
// them into chronological threads, then renders the evidence block
// the analyze stage prompts with.
type reconstructStage struct{}

func (reconstructStage) Name() StageName { return StageContextReconstruct }

func (reconstructStage) Run(_ context.Context, pc *Context) error {
	byDoc := make(map[string][]index.Fragment)
	var docOrder []string
	for _, f := range pc.Fragments {
		id := f.DocumentID()
		if id == "" {
			id = f.ID
		}
		if _, ok := byDoc[id]; !ok {
			docOrder = append(docOrder, id)
		}
		byDoc[id] = append(byDoc[id], f)
	}

	byThread := make(map[string]*Thread)
	var threads []*Thread
	for _, docID := range docOrder {
		doc := buildDocument(docID, byDoc[docID])

		threadID := byDoc[docID][0].ThreadID()
		if threadID == "" {
			threadID = docID
		}
		th, ok := byThread[threadID]
		if !ok {
			th = &Thread{ID: threadID}
			byThread[threadID] = th
			threads = append(threads, th)
		}
		th.Documents = append(th.Documents, doc)
	}

	for _, th := range threads {
		sort.SliceStable(th.Documents, func(i, j int) bool {
			return th.Documents[i].SentAt.Before(th.Documents[j].SentAt)
		})
	}
	sort.SliceStable(threads, func(i, j int) bool {
		return threadStart(threads[i]).Before(threadStart(threads[j]))
	})

	pc.Threads = threads
	pc.ContextText = renderContext(threads)
	return nil
}

// buildDocument joins a document's retrieved chunks in chunk order.
// Chunks below the relevance floor never arrive, so the text may have
// gaps.
func buildDocument(docID string, fragments []index.Fragment) *ThreadDocument {
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].ChunkIndex() < fragments[j].ChunkIndex()
	})

	doc := &ThreadDocument{
		ID:      docID,
		Subject: fragments[0].Subject(),
		Sender:  fragments[0].Sender(),
		SentAt:  fragments[0].SentAt(),
	}

	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if text := strings.TrimSpace(f.Preview()); text != "" {
			parts = append(parts, text)
		}
		if score := float64(f.Score); score > doc.TopScore {
			doc.TopScore = score
		}
	}
	doc.Text = strings.Join(parts, "\n")
	return doc
}

func threadStart(th *Thread) time.Time {
	if len(th.Documents) == 0 {
		return time.Time{}
	}
	return th.Documents[0].SentAt
}

// renderContext formats threads for the analysis prompt. Document IDs
// are included so the model can cite them.
func renderContext(threads []*Thread) string {
	var b strings.Builder
	for i, th := range threads {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## Thread %s\n", th.ID)
		for _, doc := range th.Documents {
			fmt.Fprintf(&b, "\n[Email %s]", doc.ID)
			if doc.Sender != "" {
				fmt.Fprintf(&b, " From: %s", doc.Sender)
			}
			if doc.Subject != "" {
				fmt.Fprintf(&b, " Subject: %s", doc.Subject)
			}
			if !doc.SentAt.IsZero() {
				fmt.Fprintf(&b, " Date: %s", doc.SentAt.Format("2006-01-02"))
			}
			b.WriteString("\n")
			b.WriteString(doc.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}
