package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/mail"
)

// importedDocument is the JSON shape accepted by the import command.
type importedDocument struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id"`
	Subject    string    `json:"subject"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name"`
	SentAt     time.Time `json:"sent_at"`
	BodyText   string    `json:"body_text"`
}

func newImportCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Load email documents from a JSON file into the mail store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tn, err := flags.tenant()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var docs []importedDocument
			if err := json.Unmarshal(data, &docs); err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, d := range docs {
				err := a.store.Insert(cmd.Context(), &mail.Document{
					ID:         d.ID,
					OrgID:      tn.OrgID,
					UserID:     tn.UserID,
					MessageID:  d.MessageID,
					ThreadID:   d.ThreadID,
					Subject:    d.Subject,
					Sender:     d.Sender,
					SenderName: d.SenderName,
					SentAt:     d.SentAt,
					BodyText:   d.BodyText,
				})
				if err != nil {
					return fmt.Errorf("importing %s: %w", d.ID, err)
				}
			}

			fmt.Printf("Imported %d documents\n", len(docs))
			return nil
		},
	}
}

func newVectorizeCmd(flags *rootFlags) *cobra.Command {
	var (
		force     bool
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Chunk, embed, and index pending documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tn, err := flags.tenant()
			if err != nil {
				return err
			}

			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.coordinator.Vectorize(cmd.Context(), tn, batchSize, force)
			if err != nil {
				return err
			}

			fmt.Printf("Vectorized %d documents (%d chunks, %d skipped) in %s\n",
				report.VectorizedCount, report.TotalChunks, report.SkippedCount,
				report.Duration.Round(time.Millisecond))
			for _, e := range report.Errors {
				fmt.Println("  error:", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "reprocess documents already embedded")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "documents processed per batch")
	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vectorization status for the tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tn, err := flags.tenant()
			if err != nil {
				return err
			}

			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.coordinator.Status(cmd.Context(), tn)
			if err != nil {
				return err
			}

			fmt.Printf("Documents: %d total, %d embedded, %d pending\n",
				status.Total, status.Embedded, status.Pending)
			fmt.Printf("Vectors:   %d\n", status.VectorCount)
			fmt.Printf("Ready:     %v\n", status.Ready)
			return nil
		},
	}
}

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var (
		sender   string
		threadID string
		fromDate string
		toDate   string
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question over the tenant's indexed email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tn, err := flags.tenant()
			if err != nil {
				return err
			}

			opts := index.FilterOptions{Sender: sender, ThreadID: threadID}
			if opts.DateFrom, err = parseDate(fromDate); err != nil {
				return err
			}
			if opts.DateTo, err = parseDate(toDate); err != nil {
				return err
			}

			a, err := newApp(flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.orchestrator.AnswerQuery(cmd.Context(), tn, args[0], opts, "")
			if err != nil {
				return err
			}

			fmt.Println(result.Answer)
			if result.Confidence != "" {
				fmt.Printf("\nConfidence: %s\n", result.Confidence)
			}
			if len(result.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, s := range result.Sources {
					fmt.Printf("  %s (%s, score %.2f)\n", s.DocumentID, s.Sender, s.Score)
				}
			}
			for _, l := range result.Limitations {
				fmt.Println("Note:", l)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sender, "sender", "", "restrict to one sender address")
	cmd.Flags().StringVar(&threadID, "thread", "", "restrict to one thread")
	cmd.Flags().StringVar(&fromDate, "from", "", "earliest sent date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to", "", "latest sent date (YYYY-MM-DD)")
	return cmd
}

func newReindexCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex <document-id>",
		Short: "Rebuild one document's vectors from the stored body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tn, err := flags.tenant()
			if err != nil {
				return err
			}

			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.coordinator.Reindex(cmd.Context(), tn, args[0]); err != nil {
				return err
			}
			fmt.Println("Reindexed", args[0])
			return nil
		},
	}
}

func newEraseCmd(flags *rootFlags) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Delete the tenant's entire vector namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tn, err := flags.tenant()
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("erase removes all indexed vectors for %s; rerun with --yes to confirm", tn)
			}

			a, err := newApp(flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.coordinator.Erase(cmd.Context(), tn); err != nil {
				return err
			}
			fmt.Println("Erased namespace for", tn)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return t, nil
}
