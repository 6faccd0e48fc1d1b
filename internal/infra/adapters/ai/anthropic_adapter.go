package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskhive-ai-gateway/internal/domain/aierr"
	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
	"taskhive-ai-gateway/internal/infra/retry"
)

const (
	providerAnthropic       = "anthropic"
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
)

// ErrStreamClosed is returned by Recv after the consumer closed the stream.
var ErrStreamClosed = errors.New("ai: stream closed")

// ErrStreamUnfinished is returned by Final before the fragment sequence has
// been drained to io.EOF.
var ErrStreamUnfinished = errors.New("ai: stream not finished")

var anthropicCatalog = model.NewCatalog(
	model.ModelDescriptor{
		ID:                  "claude-opus-4-1",
		DisplayName:         "Claude Opus 4.1",
		ContextWindowTokens: 200_000,
		MaxOutputTokens:     32_000,
		InputPricePerMTok:   15,
		OutputPricePerMTok:  75,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision, model.CapReasoning},
	},
	model.ModelDescriptor{
		ID:                  "claude-sonnet-4-0",
		DisplayName:         "Claude Sonnet 4",
		ContextWindowTokens: 200_000,
		MaxOutputTokens:     64_000,
		InputPricePerMTok:   3,
		OutputPricePerMTok:  15,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision, model.CapReasoning},
	},
	model.ModelDescriptor{
		ID:                  "claude-3-5-haiku-latest",
		DisplayName:         "Claude Haiku 3.5",
		ContextWindowTokens: 200_000,
		MaxOutputTokens:     8_192,
		InputPricePerMTok:   0.8,
		OutputPricePerMTok:  4,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision},
	},
)

// AnthropicConfig carries everything the adapter needs; it never reads the
// environment itself.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProviderAdapter = (*AnthropicAdapter)(nil)

// AnthropicAdapter implements the provider port against the Messages API.
// The system prompt travels as a top-level `system` field and streaming is
// a typed event sequence (message_start / content_block_delta /
// message_delta / message_stop).
type AnthropicAdapter struct {
	cfg     AnthropicConfig
	retry   *retry.Runner
	log     *zerolog.Logger
	baseURL string

	clientOnce sync.Once
	client     *http.Client
}

func NewAnthropicAdapter(cfg AnthropicConfig, r *retry.Runner, logger *zerolog.Logger) *AnthropicAdapter {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = anthropicDefaultBaseURL
	}
	return &AnthropicAdapter{cfg: cfg, retry: r, log: logger, baseURL: base}
}

func (a *AnthropicAdapter) Name() string            { return providerAnthropic }
func (a *AnthropicAdapter) IsConfigured() bool      { return a.cfg.APIKey != "" }
func (a *AnthropicAdapter) SupportsStreaming() bool { return true }
func (a *AnthropicAdapter) SupportsToolUse() bool   { return true }

func (a *AnthropicAdapter) Models() []model.ModelDescriptor { return anthropicCatalog.List() }

func (a *AnthropicAdapter) EstimateCost(inputTokens, outputTokens int, modelID string) float64 {
	return anthropicCatalog.EstimateCost(inputTokens, outputTokens, modelID)
}

// httpClient is built lazily and reused; deadlines come from the caller's
// context, not a client-level timeout.
func (a *AnthropicAdapter) httpClient() *http.Client {
	a.clientOnce.Do(func() { a.client = &http.Client{} })
	return a.client
}

// ---- wire types ----

type anthropicWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string                 `json:"model"`
	MaxTokens   int                    `json:"max_tokens"`
	Temperature float64                `json:"temperature"`
	System      string                 `json:"system,omitempty"`
	Messages    []anthropicWireMessage `json:"messages"`
	Stream      bool                   `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	Usage      anthropicUsage          `json:"usage"`
	StopReason string                  `json:"stop_reason"`
	Model      string                  `json:"model"`
}

type anthropicErrorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) buildRequest(req adapter.ChatRequest, stream bool) (*anthropicRequest, error) {
	if req.Temperature < 0 || req.Temperature > 1 {
		return nil, &aierr.ServiceError{
			Provider:   providerAnthropic,
			StatusCode: http.StatusBadRequest,
			Retryable:  false,
			Message:    fmt.Sprintf("temperature %.2f outside [0,1]", req.Temperature),
		}
	}
	modelID := req.Model
	if modelID == "" {
		modelID = a.cfg.DefaultModel
	}
	system := req.SystemPrompt
	msgs := make([]anthropicWireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		// The system role is out-of-band here.
		if m.Role == adapter.RoleSystem {
			if system == "" {
				system = m.Content
			} else {
				system += "\n" + m.Content
			}
			continue
		}
		msgs = append(msgs, anthropicWireMessage{Role: m.Role, Content: m.Content})
	}
	return &anthropicRequest{
		Model:       modelID,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		System:      system,
		Messages:    msgs,
		Stream:      stream,
	}, nil
}

func (a *AnthropicAdapter) post(ctx context.Context, wire *anthropicRequest) (*http.Response, error) {
	if !a.IsConfigured() {
		return nil, &aierr.ConfigError{Provider: providerAnthropic, Reason: "API key not set"}
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return nil, &aierr.TransportError{Provider: providerAnthropic, Cause: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(b))
	if err != nil {
		return nil, &aierr.TransportError{Provider: providerAnthropic, Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.httpClient().Do(req)
	if err != nil {
		return nil, &aierr.TransportError{Provider: providerAnthropic, Cause: err}
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		resp.Body.Close()
		return nil, anthropicStatusError(resp, body)
	}
	return resp, nil
}

func anthropicStatusError(resp *http.Response, body []byte) error {
	var env anthropicErrorEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return aierr.FromStatus(providerAnthropic, resp.StatusCode, msg, parseRetryAfter(resp.Header))
}

func parseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (a *AnthropicAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	wire, err := a.buildRequest(req, false)
	if err != nil {
		return nil, err
	}
	var out *adapter.ChatResponse
	err = a.retry.Do(ctx, aierr.Retryable, func(ctx context.Context) error {
		resp, err := a.post(ctx, wire)
		if err != nil {
			a.log.Debug().Err(err).Str("model", wire.Model).Msg("anthropic chat attempt failed")
			return err
		}
		defer resp.Body.Close()

		var payload anthropicResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return &aierr.TransportError{Provider: providerAnthropic, Cause: err}
		}
		text := ""
		for _, block := range payload.Content {
			if block.Type == "text" {
				text = block.Text
				break
			}
		}
		out = &adapter.ChatResponse{
			Content:    text,
			Usage:      adapter.Usage{InputTokens: payload.Usage.InputTokens, OutputTokens: payload.Usage.OutputTokens},
			StopReason: payload.StopReason,
			ModelUsed:  wire.Model,
			Provider:   providerAnthropic,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamChat retries only until the event stream is established; once the
// response body is handed to the stream, failures are terminal.
func (a *AnthropicAdapter) StreamChat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatStream, error) {
	wire, err := a.buildRequest(req, true)
	if err != nil {
		return nil, err
	}
	var resp *http.Response
	err = a.retry.Do(ctx, aierr.Retryable, func(ctx context.Context) error {
		r, err := a.post(ctx, wire)
		if err != nil {
			a.log.Debug().Err(err).Str("model", wire.Model).Msg("anthropic stream open failed")
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &anthropicStream{
		body:  resp.Body,
		dec:   newSSEReader(resp.Body),
		model: wire.Model,
	}, nil
}

// anthropicStream turns the typed event sequence into fragments plus a
// terminal aggregate. Content is accumulated even while streaming so Final
// always carries the full text.
type anthropicStream struct {
	body  io.ReadCloser
	dec   *sseReader
	model string

	content    strings.Builder
	usage      adapter.Usage
	stopReason string

	done   bool
	closed bool
}

type anthropicStreamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *anthropicStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.done {
		return "", io.EOF
	}
	for {
		raw, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return "", io.EOF
			}
			return "", &aierr.TransportError{Provider: providerAnthropic, Cause: err}
		}

		var ev anthropicStreamEvent
		if err := json.Unmarshal(raw.data, &ev); err != nil {
			return "", &aierr.TransportError{Provider: providerAnthropic, Cause: err}
		}
		typ := ev.Type
		if typ == "" {
			typ = raw.name
		}
		switch typ {
		case "message_start":
			s.usage.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				s.content.WriteString(ev.Delta.Text)
				return ev.Delta.Text, nil
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				s.stopReason = ev.Delta.StopReason
			}
			if ev.Usage.OutputTokens > 0 {
				s.usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_stop":
			s.done = true
			return "", io.EOF
		case "error":
			return "", &aierr.ServiceError{
				Provider:   providerAnthropic,
				StatusCode: http.StatusInternalServerError,
				Retryable:  false, // mid-stream failure is terminal
				Message:    ev.Error.Message,
			}
		}
		// ping and content_block_start/stop carry nothing for us
	}
}

func (s *anthropicStream) Final() (*adapter.ChatResponse, error) {
	if !s.done {
		return nil, ErrStreamUnfinished
	}
	return &adapter.ChatResponse{
		Content:    s.content.String(),
		Usage:      s.usage,
		StopReason: s.stopReason,
		ModelUsed:  s.model,
		Provider:   providerAnthropic,
	}, nil
}

func (s *anthropicStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
