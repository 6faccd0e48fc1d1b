package ai

import (
	"context"
	"io"
	"strings"

	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
)

const providerNoop = "noop"

var noopCatalog = model.NewCatalog(
	model.ModelDescriptor{
		ID:                  "noop-echo",
		DisplayName:         "Noop Echo",
		ContextWindowTokens: 8_192,
		MaxOutputTokens:     1_024,
		Capabilities:        []model.Capability{model.CapChat, model.CapStreaming},
	},
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.AIProviderAdapter = (*NoopAdapter)(nil)

// NoopAdapter is a local/dev backend: it echoes the last user message back
// instead of calling a real API. Always configured, always free.
type NoopAdapter struct{}

func NewNoopAdapter() *NoopAdapter { return &NoopAdapter{} }

func (n *NoopAdapter) Name() string            { return providerNoop }
func (n *NoopAdapter) IsConfigured() bool      { return true }
func (n *NoopAdapter) SupportsStreaming() bool { return true }
func (n *NoopAdapter) SupportsToolUse() bool   { return false }

func (n *NoopAdapter) Models() []model.ModelDescriptor { return noopCatalog.List() }

func (n *NoopAdapter) EstimateCost(inputTokens, outputTokens int, modelID string) float64 {
	return noopCatalog.EstimateCost(inputTokens, outputTokens, modelID)
}

func (n *NoopAdapter) reply(req adapter.ChatRequest) *adapter.ChatResponse {
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == adapter.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	content := "noop: " + last
	return &adapter.ChatResponse{
		Content:    content,
		Usage:      adapter.Usage{InputTokens: len(strings.Fields(last)), OutputTokens: len(strings.Fields(content))},
		StopReason: "end_turn",
		ModelUsed:  "noop-echo",
		Provider:   providerNoop,
	}
}

func (n *NoopAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return n.reply(req), nil
}

func (n *NoopAdapter) StreamChat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := n.reply(req)
	frags := strings.SplitAfter(resp.Content, " ")
	return &noopStream{fragments: frags, final: resp}, nil
}

type noopStream struct {
	fragments []string
	final     *adapter.ChatResponse
	pos       int
	closed    bool
}

func (s *noopStream) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *noopStream) Final() (*adapter.ChatResponse, error) {
	if s.pos < len(s.fragments) {
		return nil, ErrStreamUnfinished
	}
	return s.final, nil
}

func (s *noopStream) Close() error {
	s.closed = true
	return nil
}
