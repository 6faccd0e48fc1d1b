package adapter

import (
	"context"

	"taskhive-ai-gateway/internal/domain/model"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Usage for a single chat call, as reported by the backend.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatRequest is the unified request shape. Immutable once built;
// adapters may reject out-of-range fields (e.g. temperature).
type ChatRequest struct {
	Messages        []Message
	SystemPrompt    string
	Model           string
	MaxOutputTokens int
	Temperature     float64
	CallerID        string
	ContextID       string
}

// ChatResponse is the terminal result of a call, streamed or not.
// Content always holds the full assembled text.
type ChatResponse struct {
	Content    string
	Usage      Usage
	StopReason string
	ModelUsed  string
	Provider   string
}

// ChatStream is a pull-based, cancellable fragment sequence.
//
// Recv returns the next text fragment, or io.EOF once the backend is done.
// After io.EOF, Final returns the terminal aggregate with the full text and
// usage totals. Close releases the underlying connection promptly; it is
// safe to call more than once and must be called when the consumer stops
// early.
type ChatStream interface {
	Recv() (string, error)
	Final() (*ChatResponse, error)
	Close() error
}

// AIProviderAdapter is the port every LLM backend implements.
//
// IsConfigured must be a pure check of credential presence (no network I/O,
// never an error) so callers can probe availability without side effects.
type AIProviderAdapter interface {
	Name() string
	IsConfigured() bool
	SupportsStreaming() bool
	SupportsToolUse() bool

	// Models returns the adapter's static catalog.
	Models() []model.ModelDescriptor

	// EstimateCost returns the USD cost of a call given token counts.
	// Unknown model IDs cost 0; it never fails.
	EstimateCost(inputTokens, outputTokens int, modelID string) float64

	// Chat performs a buffered call. Transient failures are retried
	// internally; irrecoverable ones surface as tagged errors (aierr).
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// StreamChat opens a lazy fragment stream. Retries apply only up to
	// stream establishment; once fragments flow, failure is terminal.
	StreamChat(ctx context.Context, req ChatRequest) (ChatStream, error)
}
