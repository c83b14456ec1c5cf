package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/vbonduro/shelflife/internal/assistant"
	claudeassistant "github.com/vbonduro/shelflife/internal/assistant/claude"
	geminiassistant "github.com/vbonduro/shelflife/internal/assistant/gemini"
	"github.com/vbonduro/shelflife/internal/config"
	"github.com/vbonduro/shelflife/internal/db"
	"github.com/vbonduro/shelflife/internal/ledger"
	"github.com/vbonduro/shelflife/internal/logging"
	"github.com/vbonduro/shelflife/internal/record"
	"github.com/vbonduro/shelflife/internal/remote"
	"github.com/vbonduro/shelflife/internal/remote/memtable"
	"github.com/vbonduro/shelflife/internal/remote/postgres"
	"github.com/vbonduro/shelflife/internal/remote/sheets"
	"github.com/vbonduro/shelflife/internal/service"
	"github.com/vbonduro/shelflife/internal/storage"
	"github.com/vbonduro/shelflife/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	ctx := context.Background()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	primary, err := newPrimary(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize primary store", "backend", cfg.PrimaryBackend, "error", err)
		return
	}

	parser := record.NewParser(record.CO2Estimator{DefaultPerKg: cfg.Thresholds.CO2PerKg}, logging.Component(logger, "record"))
	adapter := storage.New(database, primary, parser, storage.Options{
		ItemSheet:      cfg.ItemSheet,
		EventSheet:     cfg.EventSheet,
		PrimaryTimeout: cfg.PrimaryTimeout,
	}, logging.Component(logger, "storage"))

	l := ledger.New(adapter, parser, ledger.Options{ZeroStock: cfg.ZeroStockPolicy}, logging.Component(logger, "ledger"))

	helper, closeAssistant, err := newAssistant(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize assistant", "backend", cfg.AssistantBackend, "error", err)
		return
	}
	defer closeAssistant()

	pantry := service.NewPantryService(l, adapter, helper, service.Options{
		SoonDays:             cfg.Thresholds.ExpirySoonDays,
		GroceryWindowDays:    cfg.Thresholds.GroceryWindowDays,
		GroceryThresholdDays: cfg.Thresholds.GroceryThresholdDays,
		WasteBreakpoints:     cfg.Thresholds.WasteBreakpoints,
	}, logging.Component(logger, "service"))

	// Replay anything left in the outbox by a previous run.
	if report := adapter.Flush(ctx); report.Err != nil {
		logger.Warn("primary store unavailable at startup", "pending", report.Remaining, "error", report.Err)
	}

	server := web.NewServer(pantry, parser, logging.Component(logger, "web"))
	if err := server.ListenAndServe(cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
	}
}

func newPrimary(ctx context.Context, cfg *config.Config, logger *slog.Logger) (remote.Table, error) {
	switch cfg.PrimaryBackend {
	case "sheets":
		logger.Info("using Google Sheets primary store", "spreadsheet", cfg.SheetsSpreadsheetID)
		return sheets.New(ctx, sheets.Config{
			SpreadsheetID:     cfg.SheetsSpreadsheetID,
			CredentialsFile:   cfg.SheetsCredentialsFile,
			RequestsPerSecond: cfg.SheetsRequestsPerSecond,
		})
	case "postgres":
		logger.Info("using Postgres primary store")
		return postgres.Open(cfg.PostgresDSN)
	case "memory":
		logger.Info("using in-memory primary store")
		return memtable.New(), nil
	case "none":
		logger.Info("no primary store configured; running on the local database only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown primary backend %q", cfg.PrimaryBackend)
	}
}

func newAssistant(ctx context.Context, cfg *config.Config, logger *slog.Logger) (assistant.Assistant, func(), error) {
	switch cfg.AssistantBackend {
	case "claude":
		logger.Info("using Claude assistant backend", "model", cfg.ClaudeModel)
		return claudeassistant.NewClaudeAssistant(cfg.ClaudeAPIKey, cfg.ClaudeModel), func() {}, nil
	case "gemini":
		logger.Info("using Gemini assistant backend", "model", cfg.GeminiModel)
		g, err := geminiassistant.NewGeminiAssistant(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return g, func() {
			if err := g.Close(); err != nil {
				logger.Error("failed to close gemini client", "error", err)
			}
		}, nil
	default:
		logger.Info("assistant disabled")
		return nil, func() {}, nil
	}
}
