package main

import (
	"context"
	"time"

	"github.com/xaenox/triagebot/internal/api"
	"github.com/xaenox/triagebot/internal/bot"
	"github.com/xaenox/triagebot/internal/classifier"
	"github.com/xaenox/triagebot/internal/governor"
	"github.com/xaenox/triagebot/internal/inference"
	"github.com/xaenox/triagebot/internal/intent"
	"github.com/xaenox/triagebot/internal/models"
	"github.com/xaenox/triagebot/internal/report"
	"github.com/xaenox/triagebot/internal/session"
	"github.com/xaenox/triagebot/internal/storage"
	"github.com/xaenox/triagebot/internal/windower"
	"github.com/xaenox/triagebot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(storage.DatabaseConfig{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			DBName:      cfg.Database.DBName,
			SSLMode:     cfg.Database.SSLMode,
			UseInMemory: cfg.Database.UseInMemory,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Classifier with per-persona keyword overrides
	clf := classifier.New(classifier.Options{
		CategoryKeywords: categoryOverrides(cfg.Assistant.CategoryKeywords),
	})

	// Inference backend; nil when no API key is configured, which keeps
	// every caller on its deterministic fallback path.
	inf := inference.New(inference.Options{
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.OpenAI.Model,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Temperature: cfg.OpenAI.Temperature,
		Timeout:     time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second,
	}, logger)
	if !inf.Enabled() {
		logger.Info("Inference backend disabled, keyword fallbacks active")
	}

	sessions := session.New(store, clf, session.NewHistory(cfg.Session.HistorySize), logger)
	gov := governor.New(store,
		time.Duration(cfg.Governor.CooldownMinutes)*time.Minute,
		cfg.Governor.HourlyCap, logger)
	wind := windower.New(time.Duration(cfg.Windower.IdleGapMinutes) * time.Minute)
	reports := report.NewBuilder(store, wind, inf, logger)
	router := intent.NewRouter(inf, store, reports, sessions, intent.Persona{
		Name:               cfg.Assistant.Name,
		SystemInstructions: cfg.Assistant.SystemInstructions,
	}, logger)

	// HTTP summary API
	server := api.New(router, reports, logger)
	go func() {
		logger.Info("Starting HTTP API", zap.String("addr", cfg.HTTP.Addr))
		if err := server.Run(cfg.HTTP.Addr); err != nil {
			logger.Fatal("HTTP API error", zap.Error(err))
		}
	}()

	// Periodic maintenance: archive stale conversations, evict idle
	// history buffers.
	go runMaintenance(cfg, sessions, logger)

	if !cfg.Telegram.Enabled {
		logger.Info("Telegram gateway disabled, serving HTTP only")
		select {}
	}

	// Initialize and start the gateway
	b, err := bot.New(cfg.Telegram.Token, sessions, gov, router, reports, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	if err := b.Start(); err != nil {
		logger.Fatal("Bot error", zap.Error(err))
	}
}

func runMaintenance(cfg *config.Config, sessions *session.Sessions, logger *zap.Logger) {
	interval := time.Duration(cfg.Session.SweepIntervalMinutes) * time.Minute
	maxAge := time.Duration(cfg.Session.HistoryMaxAgeMinutes) * time.Minute

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if _, err := sessions.ArchiveStale(context.Background(), cfg.Session.ArchiveAfterDays); err != nil {
			logger.Error("archive sweep failed", zap.Error(err))
		}
		if evicted := sessions.SweepHistory(maxAge); evicted > 0 {
			logger.Info("evicted idle history buffers", zap.Int("count", evicted))
		}
	}
}

func categoryOverrides(raw map[string][]string) map[models.Category][]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[models.Category][]string, len(raw))
	for name, keywords := range raw {
		out[models.Category(name)] = keywords
	}
	return out
}
