package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/rs/zerolog"

	"taskhive-ai-gateway/internal/domain/aierr"
	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
	"taskhive-ai-gateway/internal/infra/retry"
)

const providerOpenAI = "openai"

var openaiCatalog = model.NewCatalog(
	model.ModelDescriptor{
		ID:                  "gpt-4o",
		DisplayName:         "GPT-4o",
		ContextWindowTokens: 128_000,
		MaxOutputTokens:     16_384,
		InputPricePerMTok:   2.5,
		OutputPricePerMTok:  10,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision},
	},
	model.ModelDescriptor{
		ID:                  "gpt-4o-mini",
		DisplayName:         "GPT-4o mini",
		ContextWindowTokens: 128_000,
		MaxOutputTokens:     16_384,
		InputPricePerMTok:   0.15,
		OutputPricePerMTok:  0.6,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapVision},
	},
	// The reasoning family accepts exactly one temperature and takes its
	// token limit via max_completion_tokens; both facts live in the
	// descriptor instead of comments.
	model.ModelDescriptor{
		ID:                      "o3",
		DisplayName:             "o3",
		ContextWindowTokens:     200_000,
		MaxOutputTokens:         100_000,
		InputPricePerMTok:       2,
		OutputPricePerMTok:      8,
		Capabilities:            []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapReasoning},
		FixedTemperature:        model.FixedTemp(1),
		UsesMaxCompletionTokens: true,
	},
	model.ModelDescriptor{
		ID:                      "o4-mini",
		DisplayName:             "o4-mini",
		ContextWindowTokens:     200_000,
		MaxOutputTokens:         100_000,
		InputPricePerMTok:       1.1,
		OutputPricePerMTok:      4.4,
		Capabilities:            []model.Capability{model.CapChat, model.CapStreaming, model.CapToolUse, model.CapReasoning},
		FixedTemperature:        model.FixedTemp(1),
		UsesMaxCompletionTokens: true,
	},
)

// OpenAIConfig carries credentials and defaults; the adapter never reads
// the environment itself.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProviderAdapter = (*OpenAIAdapter)(nil)

// OpenAIAdapter implements the provider port over the Chat Completions API
// via the official SDK. The system prompt is injected as the first message
// and streamed usage arrives on the trailing chunk (requested through
// stream_options.include_usage).
type OpenAIAdapter struct {
	cfg   OpenAIConfig
	retry *retry.Runner
	log   *zerolog.Logger

	clientOnce sync.Once
	client     openai.Client
}

func NewOpenAIAdapter(cfg OpenAIConfig, r *retry.Runner, logger *zerolog.Logger) *OpenAIAdapter {
	return &OpenAIAdapter{cfg: cfg, retry: r, log: logger}
}

func (o *OpenAIAdapter) Name() string            { return providerOpenAI }
func (o *OpenAIAdapter) IsConfigured() bool      { return o.cfg.APIKey != "" }
func (o *OpenAIAdapter) SupportsStreaming() bool { return true }
func (o *OpenAIAdapter) SupportsToolUse() bool   { return true }

func (o *OpenAIAdapter) Models() []model.ModelDescriptor { return openaiCatalog.List() }

func (o *OpenAIAdapter) EstimateCost(inputTokens, outputTokens int, modelID string) float64 {
	return openaiCatalog.EstimateCost(inputTokens, outputTokens, modelID)
}

// sdk builds the client once and reuses it. The SDK's own retry loop is
// disabled: the gateway's engine owns retry policy.
func (o *OpenAIAdapter) sdk() *openai.Client {
	o.clientOnce.Do(func() {
		opts := []option.RequestOption{
			option.WithAPIKey(o.cfg.APIKey),
			option.WithMaxRetries(0),
		}
		if o.cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(strings.TrimRight(o.cfg.BaseURL, "/")))
		}
		o.client = openai.NewClient(opts...)
	})
	return &o.client
}

func (o *OpenAIAdapter) buildParams(req adapter.ChatRequest) (openai.ChatCompletionNewParams, error) {
	if req.Temperature < 0 || req.Temperature > 2 {
		return openai.ChatCompletionNewParams{}, &aierr.ServiceError{
			Provider:   providerOpenAI,
			StatusCode: http.StatusBadRequest,
			Retryable:  false,
			Message:    fmt.Sprintf("temperature %.2f outside [0,2]", req.Temperature),
		}
	}
	modelID := req.Model
	if modelID == "" {
		modelID = o.cfg.DefaultModel
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case adapter.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case adapter.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: msgs,
	}

	temp := req.Temperature
	desc, known := openaiCatalog.Get(modelID)
	if known && desc.FixedTemperature != nil && temp != *desc.FixedTemperature {
		o.log.Debug().Str("model", modelID).Float64("requested", temp).
			Float64("clamped", *desc.FixedTemperature).Msg("clamping temperature for fixed-temperature model")
		temp = *desc.FixedTemperature
	}
	params.Temperature = openai.Float(temp)

	if known && desc.UsesMaxCompletionTokens {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	} else {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	return params, nil
}

func (o *OpenAIAdapter) mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		msg := apierr.Message
		if msg == "" {
			msg = http.StatusText(apierr.StatusCode)
		}
		var retryAfter time.Duration
		if apierr.Response != nil {
			retryAfter = parseRetryAfter(apierr.Response.Header)
		}
		return aierr.FromStatus(providerOpenAI, apierr.StatusCode, msg, retryAfter)
	}
	return &aierr.TransportError{Provider: providerOpenAI, Cause: err}
}

func (o *OpenAIAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	if !o.IsConfigured() {
		return nil, &aierr.ConfigError{Provider: providerOpenAI, Reason: "API key not set"}
	}
	params, err := o.buildParams(req)
	if err != nil {
		return nil, err
	}
	var out *adapter.ChatResponse
	err = o.retry.Do(ctx, aierr.Retryable, func(ctx context.Context) error {
		resp, err := o.sdk().Chat.Completions.New(ctx, params)
		if err != nil {
			mapped := o.mapErr(err)
			o.log.Debug().Err(mapped).Str("model", string(params.Model)).Msg("openai chat attempt failed")
			return mapped
		}
		if len(resp.Choices) == 0 {
			return &aierr.TransportError{Provider: providerOpenAI, Cause: errors.New("no choices in response")}
		}
		out = &adapter.ChatResponse{
			Content: resp.Choices[0].Message.Content,
			Usage: adapter.Usage{
				InputTokens:  int(resp.Usage.PromptTokens),
				OutputTokens: int(resp.Usage.CompletionTokens),
			},
			StopReason: string(resp.Choices[0].FinishReason),
			ModelUsed:  string(params.Model),
			Provider:   providerOpenAI,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StreamChat primes the stream with one read so handshake failures (401,
// 429, 5xx) stay inside the retry loop; no fragment has reached the caller
// at that point. Once the stream is returned, failures are terminal.
func (o *OpenAIAdapter) StreamChat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatStream, error) {
	if !o.IsConfigured() {
		return nil, &aierr.ConfigError{Provider: providerOpenAI, Reason: "API key not set"}
	}
	params, err := o.buildParams(req)
	if err != nil {
		return nil, err
	}
	// The trailing chunk only carries usage totals when asked for.
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	var st *openaiStream
	err = o.retry.Do(ctx, aierr.Retryable, func(ctx context.Context) error {
		s := o.sdk().Chat.Completions.NewStreaming(ctx, params)
		if !s.Next() {
			err := s.Err()
			_ = s.Close()
			if err == nil {
				// Backend closed an empty, successful stream.
				st = &openaiStream{model: string(params.Model), done: true}
				return nil
			}
			mapped := o.mapErr(err)
			o.log.Debug().Err(mapped).Str("model", string(params.Model)).Msg("openai stream open failed")
			return mapped
		}
		st = &openaiStream{stream: s, model: string(params.Model)}
		st.pending, st.hasPending = s.Current(), true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// openaiStream adapts the SDK's chunk stream to the fragment/terminal
// protocol. The final chunk alone carries usage totals.
type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	model  string

	pending    openai.ChatCompletionChunk
	hasPending bool

	content    strings.Builder
	usage      adapter.Usage
	stopReason string

	done   bool
	closed bool
}

func (s *openaiStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.done {
		return "", io.EOF
	}
	for {
		var chunk openai.ChatCompletionChunk
		if s.hasPending {
			chunk, s.hasPending = s.pending, false
		} else {
			if !s.stream.Next() {
				if err := s.stream.Err(); err != nil {
					return "", &aierr.TransportError{Provider: providerOpenAI, Cause: err}
				}
				s.done = true
				return "", io.EOF
			}
			chunk = s.stream.Current()
		}

		if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			s.usage = adapter.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			s.stopReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			s.content.WriteString(choice.Delta.Content)
			return choice.Delta.Content, nil
		}
	}
}

func (s *openaiStream) Final() (*adapter.ChatResponse, error) {
	if !s.done {
		return nil, ErrStreamUnfinished
	}
	return &adapter.ChatResponse{
		Content:    s.content.String(),
		Usage:      s.usage,
		StopReason: s.stopReason,
		ModelUsed:  s.model,
		Provider:   providerOpenAI,
	}, nil
}

func (s *openaiStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}
