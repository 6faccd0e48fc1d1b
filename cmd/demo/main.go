// File: cmd/demo/main.go
//
// One-shot CLI against the configured default provider: a buffered call
// followed by a streamed call, printed to stdout.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"taskhive-ai-gateway/internal/config"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
	aiAdapters "taskhive-ai-gateway/internal/infra/adapters/ai"
	"taskhive-ai-gateway/internal/infra/logging"
	"taskhive-ai-gateway/internal/infra/retry"
	"taskhive-ai-gateway/internal/infra/tokens"
	"taskhive-ai-gateway/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	provider := flag.String("provider", "", "provider override (default from config)")
	model := flag.String("model", "", "model override")
	prompt := flag.String("prompt", "Give me three short focus tips for a busy workday.", "user prompt")
	stream := flag.Bool("stream", true, "also run a streaming call")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, true)

	policy := retry.Policy{
		InitialDelay: cfg.Retry.InitialDelay,
		Multiplier:   cfg.Retry.Multiplier,
		MaxDelay:     cfg.Retry.MaxDelay,
		MaxRetries:   cfg.Retry.MaxRetries,
	}
	runner := retry.New(policy)

	registry := aiAdapters.NewRegistry(cfg.AI.DefaultProvider,
		aiAdapters.NewAnthropicAdapter(aiAdapters.AnthropicConfig{
			APIKey:       cfg.AI.Anthropic.APIKey,
			BaseURL:      cfg.AI.Anthropic.BaseURL,
			DefaultModel: cfg.AI.Anthropic.DefaultModel,
		}, runner, logger),
		aiAdapters.NewOpenAIAdapter(aiAdapters.OpenAIConfig{
			APIKey:       cfg.AI.OpenAI.APIKey,
			BaseURL:      cfg.AI.OpenAI.BaseURL,
			DefaultModel: cfg.AI.OpenAI.DefaultModel,
		}, runner, logger),
		aiAdapters.NewGeminiAdapter(aiAdapters.GeminiConfig{
			APIKey:       cfg.AI.Gemini.APIKey,
			BaseURL:      cfg.AI.Gemini.BaseURL,
			DefaultModel: cfg.AI.Gemini.DefaultModel,
		}, runner, logger),
		aiAdapters.NewNoopAdapter(),
	)
	gateway := usecase.NewGatewayUseCase(registry, cfg.AI, tokens.NewEstimator(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := usecase.ChatOptions{Provider: *provider, Model: *model, CallerID: "demo"}

	resp, err := gateway.Chat(ctx, []adapter.Message{{Role: adapter.RoleUser, Content: *prompt}}, "", opts)
	if err != nil {
		log.Fatalf("chat: %v", err)
	}
	fmt.Printf("--- buffered (%s / %s, %d in / %d out tokens) ---\n%s\n",
		resp.Provider, resp.ModelUsed, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Content)

	if !*stream {
		return
	}

	fmt.Println("--- streamed ---")
	s, err := gateway.StreamChat(ctx, []adapter.Message{{Role: adapter.RoleUser, Content: *prompt}}, "", opts)
	if err != nil {
		log.Fatalf("stream: %v", err)
	}
	defer s.Close()
	for {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("recv: %v", err)
		}
		fmt.Fprint(os.Stdout, frag)
	}
	final, err := s.Final()
	if err != nil {
		log.Fatalf("final: %v", err)
	}
	fmt.Printf("\n--- done (%d in / %d out tokens, stop=%s) ---\n",
		final.Usage.InputTokens, final.Usage.OutputTokens, final.StopReason)
}
