package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/conversation"
	"github.com/ent0n29/solace/internal/httpapi"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
	"github.com/ent0n29/solace/internal/pipeline"
)

const stageWindowSamples = 512

type BuildResult struct {
	Config   config.Config
	Logger   *slog.Logger
	API      *httpapi.Server
	Chat     *conversation.Service
	Console  *conversation.Console
	Store    memory.Store
	Metrics  *observability.Metrics
	Pipeline *pipeline.Pipeline

	// Cleanup should be called on shutdown to release the store.
	Cleanup func() error
}

// NewLogger returns the JSON stderr logger used by every command.
func NewLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(stageWindowSamples)

	client, err := llm.NewClient(llm.Config{
		Mode:    cfg.LLMMode,
		BaseURL: cfg.LMBaseURL,
		APIKey:  cfg.LMAPIKey,
		Model:   cfg.LMModel,
		Timeout: cfg.LMTimeout,
		Logger:  logger,
		OnParseError: func(*llm.ParseError) {
			metrics.MalformedEvents.Inc()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	p := pipeline.New(client, pipeline.Config{
		Model:               cfg.LMModel,
		MaxTokens:           cfg.LMMaxTokens,
		BudgetTokens:        cfg.MaxContextBudget,
		KeepLastTurns:       cfg.KeepLastTurns,
		SummaryEnabled:      cfg.SummaryEnabled,
		SummaryEvery:        cfg.SummaryEveryTurns,
		SummaryContextTurns: cfg.SummaryContextTurns,
		SummaryMaxTokens:    cfg.SummaryMaxTokens,
	},
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
		pipeline.WithStageWindow(stages),
	)

	chat := conversation.NewService(store, p, conversation.Config{MaxInputChars: cfg.MaxInputChars}, logger)
	console := conversation.NewConsole(store)
	api := httpapi.New(cfg, chat, console, metrics, stages, logger)

	logger.Info("solace wired",
		"llm_mode", cfg.LLMMode,
		"model", cfg.LMModel,
		"store_mode", memory.Mode(cfg.DatabaseURL),
		"summary_enabled", cfg.SummaryEnabled,
		"counselor_enabled", cfg.CounselorToken != "",
	)

	return &BuildResult{
		Config:   cfg,
		Logger:   logger,
		API:      api,
		Chat:     chat,
		Console:  console,
		Store:    store,
		Metrics:  metrics,
		Pipeline: p,
		Cleanup:  store.Close,
	}, nil
}
