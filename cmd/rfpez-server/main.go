// rfpez-server runs the procurement chat backend: the streaming
// orchestrator, durable stores, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rfpez/rfpez/internal/agents"
	"github.com/rfpez/rfpez/internal/app/broadcast"
	"github.com/rfpez/rfpez/internal/app/orchestrator"
	"github.com/rfpez/rfpez/internal/artifacts"
	"github.com/rfpez/rfpez/internal/config"
	deliveryhttp "github.com/rfpez/rfpez/internal/delivery/server/http"
	"github.com/rfpez/rfpez/internal/domain/chat"
	"github.com/rfpez/rfpez/internal/llm"
	"github.com/rfpez/rfpez/internal/logging"
	"github.com/rfpez/rfpez/internal/observability"
	"github.com/rfpez/rfpez/internal/procurement"
	"github.com/rfpez/rfpez/internal/session/filestore"
	"github.com/rfpez/rfpez/internal/session/postgresstore"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "rfpez-server",
		Short: "Procurement chat backend",
		Long:  "Runs the RFPEZ streaming orchestrator and HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to rfpez.yaml")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logging.SetDefault(observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}))
	logger := logging.NewComponentLogger("Main")

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.Metrics.Enabled,
		PrometheusPort: cfg.Metrics.PrometheusPort,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}()

	stores, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	broadcaster := broadcast.New()

	orch := orchestrator.New(orchestrator.Options{
		Client: llm.NewHTTPClient(llm.HTTPClientConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}),
		Sessions:  stores.sessions,
		Messages:  stores.messages,
		Artifacts: stores.artifacts,
		Agents:    stores.agents,
		Notifier:  broadcaster,
		Metrics:   metrics,
		Streaming: cfg.Streaming,
		LLM:       cfg.LLM,
	})

	server := deliveryhttp.NewServer(cfg.Server, deliveryhttp.Deps{
		Chat:        orch,
		Broadcaster: broadcaster,
		Sessions:    stores.sessions,
		Messages:    stores.messages,
		Artifacts:   stores.artifacts,
		Agents:      stores.agents,
		Proposals:   stores.proposals,
		Bids:        stores.bids,
		Logger:      logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type stores struct {
	sessions  chat.SessionStore
	messages  chat.MessageStore
	artifacts chat.ArtifactStore
	agents    chat.AgentDirectory
	proposals procurement.ProposalStore
	bids      procurement.BidStore
}

// buildStores wires the durable layer: Postgres when a database URL is
// configured, single-process fallbacks otherwise.
func buildStores(ctx context.Context, cfg *config.Config, logger logging.Logger) (*stores, func(), error) {
	if cfg.Database.URL == "" {
		logger.Info("No database configured, using file-backed sessions under %s", cfg.Database.SessionDir)
		fileStore := filestore.New(cfg.Database.SessionDir)
		procStore := procurement.NewMemoryStore()
		return &stores{
			sessions:  fileStore,
			messages:  fileStore,
			artifacts: artifacts.NewMemoryStore(),
			agents:    agents.NewMemoryDirectory(),
			proposals: procStore,
			bids:      procStore.Bids(),
		}, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	sessionStore := postgresstore.New(pool)
	artifactStore := artifacts.NewPostgresStore(pool)
	agentDirectory := agents.NewPostgresDirectory(pool)
	procStore := procurement.NewPostgresStore(pool)
	for _, ensure := range []func(context.Context) error{
		sessionStore.EnsureSchema,
		artifactStore.EnsureSchema,
		agentDirectory.EnsureSchema,
		procStore.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	return &stores{
		sessions:  sessionStore,
		messages:  sessionStore,
		artifacts: artifactStore,
		agents:    agentDirectory,
		proposals: procStore,
		bids:      procStore.Bids(),
	}, pool.Close, nil
}
