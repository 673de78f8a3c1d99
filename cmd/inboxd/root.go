package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/inboxd/internal/audit"
	"github.com/fyrsmithlabs/inboxd/internal/chunker"
	"github.com/fyrsmithlabs/inboxd/internal/compliance"
	"github.com/fyrsmithlabs/inboxd/internal/config"
	"github.com/fyrsmithlabs/inboxd/internal/embeddings"
	"github.com/fyrsmithlabs/inboxd/internal/index"
	"github.com/fyrsmithlabs/inboxd/internal/ingest"
	"github.com/fyrsmithlabs/inboxd/internal/llm"
	"github.com/fyrsmithlabs/inboxd/internal/logging"
	"github.com/fyrsmithlabs/inboxd/internal/mail"
	"github.com/fyrsmithlabs/inboxd/internal/mailstore"
	"github.com/fyrsmithlabs/inboxd/internal/pipeline"
	"github.com/fyrsmithlabs/inboxd/internal/query"
	"github.com/fyrsmithlabs/inboxd/internal/tenant"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	orgID      string
	userID     string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "inboxd",
		Short:         "Tenant-scoped email retrieval and grounded answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&flags.orgID, "org", "", "organization ID")
	cmd.PersistentFlags().StringVar(&flags.userID, "user", "", "user ID")

	cmd.AddCommand(
		newImportCmd(flags),
		newVectorizeCmd(flags),
		newStatusCmd(flags),
		newQueryCmd(flags),
		newReindexCmd(flags),
		newEraseCmd(flags),
	)
	return cmd
}

func (f *rootFlags) tenant() (tenant.Tenant, error) {
	tn := tenant.Tenant{OrgID: f.orgID, UserID: f.userID}
	if err := tn.Validate(); err != nil {
		return tenant.Tenant{}, fmt.Errorf("--org and --user are required: %w", err)
	}
	return tn, nil
}

// app holds the wired dependencies for one command invocation.
type app struct {
	config       *config.Config
	logger       *zap.Logger
	store        mail.Store
	gateway      *index.Gateway
	embedder     *embeddings.Client
	coordinator  *ingest.Coordinator
	orchestrator *query.Orchestrator
}

// newApp wires the full stack. withLLM skips the model client for
// commands that never reach the pipeline.
func newApp(flags *rootFlags, withLLM bool) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	store, err := mailstore.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	gateway, err := index.NewGateway(backend, cfg.GatewayConfig(), logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	embedder, err := embeddings.NewClient(cfg.Embeddings, logger)
	if err != nil {
		store.Close()
		gateway.Close()
		return nil, err
	}

	splitter, err := chunker.New(cfg.Chunker, chunker.NewTiktokenCounter())
	if err != nil {
		store.Close()
		gateway.Close()
		return nil, err
	}

	a := &app{
		config:      cfg,
		logger:      logger,
		store:       store,
		gateway:     gateway,
		embedder:    embedder,
		coordinator: ingest.NewCoordinator(store, splitter, embedder, gateway, logger),
	}

	if withLLM {
		model, err := llm.New(cfg.LLM)
		if err != nil {
			a.Close()
			return nil, err
		}

		var scrubber compliance.Scrubber = compliance.NoopScrubber{}
		if cfg.Compliance.Enabled {
			scrubber, err = compliance.NewRedactor(&cfg.Compliance, logger)
			if err != nil {
				a.Close()
				return nil, err
			}
		}

		runner := pipeline.NewRunner(model, scrubber, logger)
		a.orchestrator = query.NewOrchestrator(
			embedder, gateway, a.coordinator,
			runner, audit.NewLogSink(logger), cfg.Retrieval, logger)
	}

	return a, nil
}

func newBackend(cfg *config.Config, logger *zap.Logger) (index.Backend, error) {
	switch cfg.Index.Provider {
	case "qdrant":
		return index.NewQdrantBackend(cfg.Index.Qdrant, logger)
	case "chromem":
		return index.NewChromemBackend(cfg.Index.Chromem, logger)
	default:
		return nil, fmt.Errorf("unknown index provider %q", cfg.Index.Provider)
	}
}

func (a *app) Close() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}
