package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/quaero-ai/quaero/config"
	"github.com/quaero-ai/quaero/internal/queue"
	"github.com/quaero-ai/quaero/internal/rag"
	"github.com/quaero-ai/quaero/internal/store"
	anthropic_provider "github.com/quaero-ai/quaero/provider/anthropic"
	openai_provider "github.com/quaero-ai/quaero/provider/openai"
)

// Run wires all API dependencies and serves until the listener fails.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}
	if err := queue.EnsureGroup(ctx, rdb, cfg.Queue.Stream, cfg.Queue.Group); err != nil {
		return err
	}
	broker := queue.NewBroker(rdb, cfg.Queue.Stream, cfg.Queue.DedupTTL, cfg.Queue.MaxLen)

	if cfg.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key not configured (providers.openai.api_key)")
	}
	if cfg.Providers.Anthropic.APIKey == "" {
		return fmt.Errorf("anthropic api key not configured (providers.anthropic.api_key)")
	}
	embedder := openai_provider.NewClient(
		cfg.Providers.OpenAI.APIKey,
		cfg.Providers.OpenAI.EmbeddingModel,
		cfg.Providers.OpenAI.Dimensions,
		cfg.Providers.OpenAI.Timeout,
	)
	generator := anthropic_provider.NewClient(
		cfg.Providers.Anthropic.APIKey,
		cfg.Providers.Anthropic.Model,
		cfg.Providers.Anthropic.MaxTokens,
		cfg.Providers.Anthropic.Timeout,
	)

	searcher := rag.NewSearcher(
		log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
		st, embedder,
		cfg.Processing.TopKDefault, cfg.Processing.TopKMax,
	)
	answerer := rag.NewAnswerer(log.New(log.Writer(), "[RAG] ", log.LstdFlags), generator)

	secret := []byte(cfg.General.JWTSecret)
	api := e.Group("/api")

	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	docs := &DocumentsHandler{
		Store:      st,
		Broker:     broker,
		Searcher:   searcher,
		Answerer:   answerer,
		UploadDir:  cfg.Uploads.Dir,
		MaxBytes:   cfg.Uploads.MaxFileSizeBytes,
		AllowedExt: cfg.Uploads.AllowedExtensions,
		Logger:     log.New(log.Writer(), "[DOCS] ", log.LstdFlags),
	}
	docs.Register(api.Group("/documents"), secret)

	ops := &OpsHandler{Broker: broker, Group: cfg.Queue.Group}
	ops.Register(api.Group("/ops"), secret)

	if addr == "" {
		addr = cfg.General.Listen
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":8000"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
