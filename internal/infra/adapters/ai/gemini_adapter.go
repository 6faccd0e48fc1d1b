package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"taskhive-ai-gateway/internal/domain/aierr"
	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
	"taskhive-ai-gateway/internal/infra/retry"
)

const providerGemini = "gemini"

var geminiCatalog = model.NewCatalog(
	model.ModelDescriptor{
		ID:                  "gemini-2.5-pro",
		DisplayName:         "Gemini 2.5 Pro",
		ContextWindowTokens: 1_048_576,
		MaxOutputTokens:     65_536,
		InputPricePerMTok:   1.25,
		OutputPricePerMTok:  10,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision, model.CapReasoning},
	},
	model.ModelDescriptor{
		ID:                  "gemini-2.5-flash",
		DisplayName:         "Gemini 2.5 Flash",
		ContextWindowTokens: 1_048_576,
		MaxOutputTokens:     65_536,
		InputPricePerMTok:   0.3,
		OutputPricePerMTok:  2.5,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision},
	},
	model.ModelDescriptor{
		ID:                  "gemini-2.0-flash",
		DisplayName:         "Gemini 2.0 Flash",
		ContextWindowTokens: 1_048_576,
		MaxOutputTokens:     8_192,
		InputPricePerMTok:   0.1,
		OutputPricePerMTok:  0.4,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision},
	},
)

// GeminiConfig carries credentials and defaults for the Gemini backend.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProviderAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter implements the provider port using the official SDK.
type GeminiAdapter struct {
	cfg   GeminiConfig
	retry *retry.Runner
	log   *zerolog.Logger

	clientOnce sync.Once
	client     *genai.Client
	clientErr  error
}

func NewGeminiAdapter(cfg GeminiConfig, r *retry.Runner, logger *zerolog.Logger) *GeminiAdapter {
	return &GeminiAdapter{cfg: cfg, retry: r, log: logger}
}

func (g *GeminiAdapter) Name() string            { return providerGemini }
func (g *GeminiAdapter) IsConfigured() bool      { return g.cfg.APIKey != "" }
func (g *GeminiAdapter) SupportsStreaming() bool { return true }
func (g *GeminiAdapter) SupportsToolUse() bool   { return true }

func (g *GeminiAdapter) Models() []model.ModelDescriptor { return geminiCatalog.List() }

func (g *GeminiAdapter) EstimateCost(inputTokens, outputTokens int, modelID string) float64 {
	return geminiCatalog.EstimateCost(inputTokens, outputTokens, modelID)
}

// sdk builds the client lazily; genai.NewClient performs no network I/O.
func (g *GeminiAdapter) sdk(ctx context.Context) (*genai.Client, error) {
	g.clientOnce.Do(func() {
		g.client, g.clientErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
			HTTPOptions: genai.HTTPOptions{
				BaseURL: g.cfg.BaseURL,
			},
		})
	})
	if g.clientErr != nil {
		return nil, &aierr.ConfigError{Provider: providerGemini, Reason: g.clientErr.Error()}
	}
	return g.client, nil
}

func (g *GeminiAdapter) buildCall(req adapter.ChatRequest) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if req.Temperature < 0 || req.Temperature > 2 {
		return "", nil, nil, &aierr.ServiceError{
			Provider:   providerGemini,
			StatusCode: http.StatusBadRequest,
			Retryable:  false,
			Message:    fmt.Sprintf("temperature %.2f outside [0,2]", req.Temperature),
		}
	}
	modelID := req.Model
	if modelID == "" {
		modelID = g.cfg.DefaultModel
	}

	system := req.SystemPrompt
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		switch m.Role {
		case adapter.RoleAssistant:
			role = genai.RoleModel
		case adapter.RoleSystem:
			// No system role in Gemini history; fold into the instruction.
			if system == "" {
				system = m.Content
			} else {
				system += "\n" + m.Content
			}
			continue
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxOutputTokens),
		Temperature:     genai.Ptr(float32(req.Temperature)),
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	return modelID, contents, cfg, nil
}

func (g *GeminiAdapter) mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		msg := apierr.Message
		if msg == "" {
			msg = apierr.Status
		}
		return aierr.FromStatus(providerGemini, apierr.Code, msg, 0)
	}
	return &aierr.TransportError{Provider: providerGemini, Cause: err}
}

func (g *GeminiAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	if !g.IsConfigured() {
		return nil, &aierr.ConfigError{Provider: providerGemini, Reason: "API key not set"}
	}
	client, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}
	modelID, contents, cfg, err := g.buildCall(req)
	if err != nil {
		return nil, err
	}
	var out *adapter.ChatResponse
	err = g.retry.Do(ctx, aierr.Retryable, func(ctx context.Context) error {
		resp, err := client.Models.GenerateContent(ctx, modelID, contents, cfg)
		if err != nil {
			mapped := g.mapErr(err)
			g.log.Debug().Err(mapped).Str("model", modelID).Msg("gemini chat attempt failed")
			return mapped
		}
		out = geminiResponse(resp, modelID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func geminiResponse(resp *genai.GenerateContentResponse, modelID string) *adapter.ChatResponse {
	out := &adapter.ChatResponse{
		Content:   resp.Text(),
		ModelUsed: modelID,
		Provider:  providerGemini,
	}
	if len(resp.Candidates) > 0 {
		out.StopReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
	}
	if resp.UsageMetadata != nil {
		out.Usage = adapter.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}

// StreamChat pulls from the SDK's push iterator. The first chunk is primed
// inside the retry loop so handshake failures stay retryable; afterwards
// failures are terminal.
func (g *GeminiAdapter) StreamChat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatStream, error) {
	if !g.IsConfigured() {
		return nil, &aierr.ConfigError{Provider: providerGemini, Reason: "API key not set"}
	}
	client, err := g.sdk(ctx)
	if err != nil {
		return nil, err
	}
	modelID, contents, cfg, err := g.buildCall(req)
	if err != nil {
		return nil, err
	}

	var st *geminiStream
	err = g.retry.Do(ctx, aierr.Retryable, func(ctx context.Context) error {
		next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, modelID, contents, cfg))
		resp, rerr, ok := next()
		if !ok {
			stop()
			st = &geminiStream{model: modelID, done: true}
			return nil
		}
		if rerr != nil {
			stop()
			mapped := g.mapErr(rerr)
			g.log.Debug().Err(mapped).Str("model", modelID).Msg("gemini stream open failed")
			return mapped
		}
		st = &geminiStream{next: next, stop: stop, model: modelID}
		st.pending, st.hasPending = resp, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	model string

	pending    *genai.GenerateContentResponse
	hasPending bool

	content    strings.Builder
	usage      adapter.Usage
	stopReason string

	done   bool
	closed bool
}

func (s *geminiStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.done {
		return "", io.EOF
	}
	for {
		var resp *genai.GenerateContentResponse
		if s.hasPending {
			resp, s.hasPending = s.pending, false
		} else {
			r, err, ok := s.next()
			if !ok {
				s.done = true
				return "", io.EOF
			}
			if err != nil {
				return "", &aierr.TransportError{Provider: providerGemini, Cause: err}
			}
			resp = r
		}

		if resp.UsageMetadata != nil {
			s.usage = adapter.Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
			s.stopReason = strings.ToLower(string(resp.Candidates[0].FinishReason))
		}
		if text := resp.Text(); text != "" {
			s.content.WriteString(text)
			return text, nil
		}
	}
}

func (s *geminiStream) Final() (*adapter.ChatResponse, error) {
	if !s.done {
		return nil, ErrStreamUnfinished
	}
	return &adapter.ChatResponse{
		Content:    s.content.String(),
		Usage:      s.usage,
		StopReason: s.stopReason,
		ModelUsed:  s.model,
		Provider:   providerGemini,
	}, nil
}

func (s *geminiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stop != nil {
		s.stop()
	}
	return nil
}
