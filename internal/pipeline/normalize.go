package pipeline

import (
	"context"
	"sort"

	"github.com/fyrsmithlabs/inboxd/internal/index"
)

// topSenderLimit caps how many senders the stats report.
const topSenderLimit = 5

// normalizeStage deduplicates fragments, orders them by score, and
// computes retrieval statistics. Pure: no model or backend calls.
type normalizeStage struct{}

func (normalizeStage) Name() StageName { return StageRetrieveNormalize }

func (normalizeStage) Run(_ context.Context, pc *Context) error {
	seen := make(map[string]bool, len(pc.Fragments))
	deduped := make([]index.Fragment, 0, len(pc.Fragments))
	for _, f := range pc.Fragments {
		if f.ID == "" || seen[f.ID] {
			continue
		}
		seen[f.ID] = true
		deduped = append(deduped, f)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score > deduped[j].Score
	})
	pc.Fragments = deduped
	pc.Stats = computeStats(deduped)
	return nil
}

func computeStats(fragments []index.Fragment) *RetrievalStats {
	stats := &RetrievalStats{FragmentCount: len(fragments)}

	docs := make(map[string]bool)
	threads := make(map[string]bool)
	senders := make(map[string]int)

	for _, f := range fragments {
		if id := f.DocumentID(); id != "" {
			docs[id] = true
		}
		if id := f.ThreadID(); id != "" {
			threads[id] = true
		}
		if s := f.Sender(); s != "" {
			senders[s]++
		}
		if at := f.SentAt(); !at.IsZero() {
			if stats.DateFrom.IsZero() || at.Before(stats.DateFrom) {
				stats.DateFrom = at
			}
			if at.After(stats.DateTo) {
				stats.DateTo = at
			}
		}
	}

	stats.UniqueDocuments = len(docs)
	stats.UniqueThreads = len(threads)

	for sender, count := range senders {
		stats.TopSenders = append(stats.TopSenders, SenderCount{Sender: sender, Count: count})
	}
	sort.Slice(stats.TopSenders, func(i, j int) bool {
		if stats.TopSenders[i].Count != stats.TopSenders[j].Count {
			return stats.TopSenders[i].Count > stats.TopSenders[j].Count
		}
		return stats.TopSenders[i].Sender < stats.TopSenders[j].Sender
	})
	if len(stats.TopSenders) > topSenderLimit {
		stats.TopSenders = stats.TopSenders[:topSenderLimit]
	}

	return stats
}
