package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	appconfig "github.com/quaero-ai/quaero/config"
	"github.com/quaero-ai/quaero/internal/extract"
	"github.com/quaero-ai/quaero/internal/pipeline"
	"github.com/quaero-ai/quaero/internal/queue"
	srv "github.com/quaero-ai/quaero/internal/server"
	"github.com/quaero-ai/quaero/internal/store"
	"github.com/quaero-ai/quaero/internal/worker"
	openai_provider "github.com/quaero-ai/quaero/provider/openai"
)

func main() {
	var cfgPath string

	root := &cobra.Command{Use: "quaero"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("QUAERO_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address")

	var migDir string
	var direction string
	var steps int
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			return srv.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Run document processing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := appconfig.LoadConfig(cfgPath)
			return runWorker(cfg)
		},
	}

	root.AddCommand(serve, migrateCmd, workerCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorker(cfg *appconfig.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("worker store init: %w", err)
	}
	defer func() { _ = st.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("worker redis ping: %w", err)
	}
	defer func() { _ = rdb.Close() }()

	if err := queue.EnsureGroup(ctx, rdb, cfg.Queue.Stream, cfg.Queue.Group); err != nil {
		return fmt.Errorf("worker ensure group: %w", err)
	}

	consumerName := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	consumer := queue.NewConsumer(rdb, cfg.Queue.Group, consumerName)
	broker := queue.NewBroker(rdb, cfg.Queue.Stream, cfg.Queue.DedupTTL, cfg.Queue.MaxLen)

	if cfg.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key not configured (providers.openai.api_key)")
	}
	embedder := openai_provider.NewClient(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.EmbeddingModel,
		cfg.Providers.OpenAI.Dimensions,
		cfg.Providers.OpenAI.Timeout,
	)
	extractor := extract.NewPDFExtractor(cfg.Processing.ExtractTimeout)

	logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)
	pipe := pipeline.New(
		log.New(os.Stdout, "[PIPELINE] ", log.LstdFlags),
		st, embedder, extractor,
		cfg.Processing.ChunkSize, cfg.Processing.ChunkOverlap,
	)

	w := worker.New(logger, consumer, broker, st, pipe, worker.Config{
		Stream:       cfg.Queue.Stream,
		ReadBlock:    cfg.Queue.ReadBlock,
		ReadCount:    cfg.Queue.ReadCount,
		ClaimMinIdle: cfg.Queue.ClaimMinIdle,
	})
	if _, err := w.RecoverStale(ctx, cfg.Processing.StaleAfter); err != nil {
		return fmt.Errorf("worker stale recovery: %w", err)
	}
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Printf("shutting down")
	return nil
}
