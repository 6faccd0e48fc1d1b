package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"taskhive-ai-gateway/internal/config"
	"taskhive-ai-gateway/internal/domain/aierr"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
	ai "taskhive-ai-gateway/internal/infra/adapters/ai"
	"taskhive-ai-gateway/internal/infra/logging"
	"taskhive-ai-gateway/internal/infra/metrics"
	"taskhive-ai-gateway/internal/infra/tokens"
)

// ChatOptions are the per-call knobs callers may set; zero values fall
// back to configured defaults.
type ChatOptions struct {
	Provider        string // empty = registry default
	Model           string
	MaxOutputTokens int
	Temperature     float64
	CallerID        string
	ContextID       string
}

// ProviderStatus is the availability view exposed for model pickers.
type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Default    bool   `json:"default"`
	Streaming  bool   `json:"streaming"`
	ToolUse    bool   `json:"tool_use"`
}

// GatewayUseCase is the single entry point calling features (chat,
// research, drafting, decomposition, enrichment) depend on. Callers never
// need to know which backend served a call.
type GatewayUseCase interface {
	// Chat performs a buffered call against the resolved provider.
	Chat(ctx context.Context, messages []adapter.Message, systemPrompt string, opts ChatOptions) (*adapter.ChatResponse, error)

	// StreamChat returns a lazy fragment sequence terminated by the
	// aggregate ChatResponse (via the stream's Final).
	StreamChat(ctx context.Context, messages []adapter.Message, systemPrompt string, opts ChatOptions) (adapter.ChatStream, error)

	// Complete is a single-turn convenience over Chat that discards
	// usage and metadata.
	Complete(ctx context.Context, prompt, systemPrompt string, opts ChatOptions) (string, error)

	// Models lists (provider, descriptor) pairs across available backends.
	Models() []ai.ProviderModel

	// Providers reports the configured/default status of every backend.
	Providers() []ProviderStatus
}

var _ GatewayUseCase = (*gatewayUC)(nil)

type gatewayUC struct {
	registry *ai.Registry
	defaults config.AIConfig
	est      *tokens.Estimator
	log      *zerolog.Logger
}

// NewGatewayUseCase wires the facade. The estimator may be nil (pre-call
// token estimates are then skipped).
func NewGatewayUseCase(registry *ai.Registry, defaults config.AIConfig, est *tokens.Estimator, logger *zerolog.Logger) GatewayUseCase {
	return &gatewayUC{
		registry: registry,
		defaults: defaults,
		est:      est,
		log:      logger,
	}
}

// resolve picks the adapter and fails fast when it cannot serve calls.
func (g *gatewayUC) resolve(opts ChatOptions) (adapter.AIProviderAdapter, error) {
	var (
		a  adapter.AIProviderAdapter
		ok bool
	)
	if opts.Provider != "" {
		if a, ok = g.registry.Get(opts.Provider); !ok {
			return nil, &aierr.ConfigError{Provider: opts.Provider, Reason: "provider not registered"}
		}
	} else {
		var err error
		if a, err = g.registry.Default(); err != nil {
			return nil, err
		}
	}
	if !a.IsConfigured() {
		return nil, &aierr.ConfigError{Provider: a.Name(), Reason: "missing credentials"}
	}
	return a, nil
}

func (g *gatewayUC) buildRequest(messages []adapter.Message, systemPrompt string, opts ChatOptions) adapter.ChatRequest {
	req := adapter.ChatRequest{
		Messages:        messages,
		SystemPrompt:    systemPrompt,
		Model:           opts.Model,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
		CallerID:        opts.CallerID,
		ContextID:       opts.ContextID,
	}
	if req.MaxOutputTokens <= 0 {
		req.MaxOutputTokens = g.defaults.MaxOutputTokens
	}
	if req.Temperature == 0 {
		req.Temperature = g.defaults.Temperature
	}
	return req
}

// normalizeError maps anything an adapter produced into the shared
// taxonomy without inventing new information.
func normalizeError(provider string, err error) error {
	var (
		ce *aierr.ConfigError
		rl *aierr.RateLimitError
		se *aierr.ServiceError
		te *aierr.TransportError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &rl), errors.As(err, &se), errors.As(err, &te):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &aierr.TransportError{Provider: provider, Cause: err}
	}
}

func (g *gatewayUC) callContext(ctx context.Context, opts ChatOptions) (context.Context, *zerolog.Logger) {
	ctx = logging.WithTraceID(ctx, ulid.Make().String())
	if opts.CallerID != "" {
		ctx = logging.WithCallerID(ctx, opts.CallerID)
	}
	if opts.ContextID != "" {
		ctx = logging.WithContextID(ctx, opts.ContextID)
	}
	return ctx, logging.With(ctx, g.log)
}

func (g *gatewayUC) Chat(ctx context.Context, messages []adapter.Message, systemPrompt string, opts ChatOptions) (*adapter.ChatResponse, error) {
	a, err := g.resolve(opts)
	if err != nil {
		return nil, err
	}
	req := g.buildRequest(messages, systemPrompt, opts)
	ctx, log := g.callContext(ctx, opts)
	defer logging.TraceDuration(log, "Gateway.Chat")()

	if g.est != nil {
		log.Debug().Str("provider", a.Name()).Str("model", req.Model).
			Int("est_prompt_tokens", g.est.Count(req.Model, req.SystemPrompt, req.Messages)).
			Msg("dispatching chat")
	}

	start := time.Now()
	resp, err := a.Chat(ctx, req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		err = normalizeError(a.Name(), err)
		metrics.ObserveChatCall(a.Name(), req.Model, 0, 0, 0, latency, false)
		log.Warn().Err(err).Str("provider", a.Name()).Msg("chat failed")
		return nil, err
	}

	cost := a.EstimateCost(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.ModelUsed)
	metrics.ObserveChatCall(resp.Provider, resp.ModelUsed,
		resp.Usage.InputTokens, resp.Usage.OutputTokens, microUSD(cost), latency, true)
	log.Info().
		Str("provider", resp.Provider).
		Str("model", resp.ModelUsed).
		Int("tokens_in", resp.Usage.InputTokens).
		Int("tokens_out", resp.Usage.OutputTokens).
		Float64("cost_usd", cost).
		Str("stop_reason", resp.StopReason).
		Msg("chat completed")
	return resp, nil
}

func (g *gatewayUC) StreamChat(ctx context.Context, messages []adapter.Message, systemPrompt string, opts ChatOptions) (adapter.ChatStream, error) {
	a, err := g.resolve(opts)
	if err != nil {
		return nil, err
	}
	if !a.SupportsStreaming() {
		return nil, &aierr.ServiceError{
			Provider:  a.Name(),
			Retryable: false,
			Message:   "provider does not support streaming",
		}
	}
	req := g.buildRequest(messages, systemPrompt, opts)
	ctx, log := g.callContext(ctx, opts)

	start := time.Now()
	stream, err := a.StreamChat(ctx, req)
	if err != nil {
		err = normalizeError(a.Name(), err)
		metrics.ObserveChatCall(a.Name(), req.Model, 0, 0, 0, time.Since(start).Milliseconds(), false)
		log.Warn().Err(err).Str("provider", a.Name()).Msg("stream open failed")
		return nil, err
	}
	metrics.StreamOpened(a.Name())
	return &meteredStream{
		inner:    stream,
		adapter:  a,
		provider: a.Name(),
		model:    req.Model,
		start:    start,
		log:      log,
	}, nil
}

func (g *gatewayUC) Complete(ctx context.Context, prompt, systemPrompt string, opts ChatOptions) (string, error) {
	resp, err := g.Chat(ctx, []adapter.Message{{Role: adapter.RoleUser, Content: prompt}}, systemPrompt, opts)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (g *gatewayUC) Models() []ai.ProviderModel { return g.registry.AllModels() }

func (g *gatewayUC) Providers() []ProviderStatus {
	defaultName := g.registry.DefaultName()
	var out []ProviderStatus
	for _, name := range g.registry.Names() {
		a, _ := g.registry.Get(name)
		out = append(out, ProviderStatus{
			Name:       a.Name(),
			Configured: a.IsConfigured(),
			Default:    a.Name() == defaultName,
			Streaming:  a.SupportsStreaming(),
			ToolUse:    a.SupportsToolUse(),
		})
	}
	return out
}

func microUSD(usd float64) int64 { return int64(usd * 1e6) }

// meteredStream passes the adapter stream through unchanged while
// recording fragment counts and, exactly once, the terminal usage.
type meteredStream struct {
	inner    adapter.ChatStream
	adapter  adapter.AIProviderAdapter
	provider string
	model    string
	start    time.Time
	log      *zerolog.Logger

	observeOnce sync.Once
	closeOnce   sync.Once
}

func (m *meteredStream) Recv() (string, error) {
	frag, err := m.inner.Recv()
	switch {
	case err == nil:
		metrics.IncStreamFragment(m.provider)
	case errors.Is(err, io.EOF):
		m.observeFinal()
	case errors.Is(err, ai.ErrStreamClosed):
		// consumer already walked away; nothing to record
	default:
		err = normalizeError(m.provider, err)
		m.observeOnce.Do(func() {
			metrics.ObserveChatCall(m.provider, m.model, 0, 0, 0, time.Since(m.start).Milliseconds(), false)
			m.log.Warn().Err(err).Str("provider", m.provider).Msg("stream failed")
		})
	}
	return frag, err
}

func (m *meteredStream) observeFinal() {
	m.observeOnce.Do(func() {
		final, err := m.inner.Final()
		if err != nil {
			return
		}
		cost := m.adapter.EstimateCost(final.Usage.InputTokens, final.Usage.OutputTokens, final.ModelUsed)
		metrics.ObserveChatCall(final.Provider, final.ModelUsed,
			final.Usage.InputTokens, final.Usage.OutputTokens, microUSD(cost),
			time.Since(m.start).Milliseconds(), true)
		m.log.Info().
			Str("provider", final.Provider).
			Str("model", final.ModelUsed).
			Int("tokens_in", final.Usage.InputTokens).
			Int("tokens_out", final.Usage.OutputTokens).
			Float64("cost_usd", cost).
			Msg("stream completed")
	})
}

func (m *meteredStream) Final() (*adapter.ChatResponse, error) {
	final, err := m.inner.Final()
	if err != nil {
		return nil, normalizeError(m.provider, err)
	}
	return final, nil
}

func (m *meteredStream) Close() error {
	err := m.inner.Close()
	m.closeOnce.Do(func() { metrics.StreamClosed(m.provider) })
	return err
}
