package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/voicebridge/adapters/backend/gemini"
	"github.com/satriahrh/voicebridge/adapters/backend/openai"
	"github.com/satriahrh/voicebridge/adapters/stt"
	"github.com/satriahrh/voicebridge/domain/repositories"
	"github.com/satriahrh/voicebridge/internal/api"
	"github.com/satriahrh/voicebridge/internal/auth"
	"github.com/satriahrh/voicebridge/internal/bridge"
	"github.com/satriahrh/voicebridge/internal/config"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()
	backend, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("backend initialization failed", zap.Error(err))
	}

	tokens, err := auth.NewTokens([]byte(cfg.TokenSecret), cfg.TokenTTL)
	if err != nil {
		logger.Fatal("token authority initialization failed", zap.Error(err))
	}

	var transcriber repositories.Transcriber
	if cfg.TranscribeEnabled {
		transcriber = stt.NewGoogleTranscriber(logger)
	}

	registry := bridge.NewRegistry(cfg.MaxConcurrentCalls, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := api.NewServer(cfg, registry, backend, transcriber, tokens, logger)
	server.Register(e)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("voicebridge started",
		zap.String("port", cfg.Port),
		zap.String("provider", backend.Provider()),
		zap.Int("maxConcurrentCalls", cfg.MaxConcurrentCalls))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down, draining active calls")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	registry.Drain(shutdownCtx)
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	logger.Info("voicebridge exited")
}

func buildBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.VoiceBackend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.New(cfg.OpenAIAPIKey, cfg.ConnectTimeout, logger)
	default:
		return gemini.New(ctx, cfg.GeminiAPIKey, cfg.ConnectTimeout, logger)
	}
}
