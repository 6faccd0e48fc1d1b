// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskhive-ai-gateway/internal/config"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
	aiAdapters "taskhive-ai-gateway/internal/infra/adapters/ai"
	"taskhive-ai-gateway/internal/infra/logging"
	"taskhive-ai-gateway/internal/infra/metrics"
	"taskhive-ai-gateway/internal/infra/retry"
	"taskhive-ai-gateway/internal/infra/tokens"
	"taskhive-ai-gateway/internal/infra/web"
	"taskhive-ai-gateway/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop backend)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()

	// ---- Retry policy (shared shape, per-provider runners for metrics) ----
	policy := retry.Policy{
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     cfg.Retry.MaxDelay,
		MaxRetries:   cfg.Retry.MaxRetries,
	}
	runnerFor := func(provider string) *retry.Runner {
		return retry.New(policy, retry.WithOnRetry(func(int, error) {
			metrics.IncRetry(provider)
		}))
	}

	// ---- Backend adapters ----
	limit := cfg.AI.ConcurrentLimit
	adapters := []adapter.AIProviderAdapter{
		aiAdapters.NewLimitedAdapter(aiAdapters.NewAnthropicAdapter(aiAdapters.AnthropicConfig{
			APIKey:       cfg.AI.Anthropic.APIKey,
			BaseURL:      cfg.AI.Anthropic.BaseURL,
			DefaultModel: cfg.AI.Anthropic.DefaultModel,
		}, runnerFor("anthropic"), logger), limit),
		aiAdapters.NewLimitedAdapter(aiAdapters.NewOpenAIAdapter(aiAdapters.OpenAIConfig{
			APIKey:       cfg.AI.OpenAI.APIKey,
			BaseURL:      cfg.AI.OpenAI.BaseURL,
			DefaultModel: cfg.AI.OpenAI.DefaultModel,
		}, runnerFor("openai"), logger), limit),
		aiAdapters.NewLimitedAdapter(aiAdapters.NewGeminiAdapter(aiAdapters.GeminiConfig{
			APIKey:       cfg.AI.Gemini.APIKey,
			BaseURL:      cfg.AI.Gemini.BaseURL,
			DefaultModel: cfg.AI.Gemini.DefaultModel,
		}, runnerFor("gemini"), logger), limit),
	}
	if cfg.Runtime.Dev {
		adapters = append(adapters, aiAdapters.NewNoopAdapter())
	}

	registry := aiAdapters.NewRegistry(cfg.AI.DefaultProvider, adapters...)
	for _, a := range registry.Available() {
		logger.Info().Str("provider", a.Name()).Msg("AI backend available")
	}
	if _, err := registry.Default(); err != nil {
		log.Fatalf("registry: %v", err)
	}

	gateway := usecase.NewGatewayUseCase(registry, cfg.AI, tokens.NewEstimator(), logger)

	// ---- Diagnostics server ----
	srv := web.NewServer(gateway, logger)
	go func() {
		if err := srv.Start(cfg.Admin.Port); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("diagnostics server stopped")
			cancel()
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
}
