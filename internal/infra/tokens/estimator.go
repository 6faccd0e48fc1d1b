// Package tokens provides best-effort local prompt-token counting, used
// for pre-call cost estimates before the backend reports exact usage.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"taskhive-ai-gateway/internal/domain/ports/adapter"
)

const fallbackEncoding = "cl100k_base"

// Estimator counts prompt tokens with tiktoken. Encoders are cached per
// encoding name; counting is approximate for non-OpenAI backends.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

func NewEstimator() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

func (e *Estimator) encoder(modelID string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	enc, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return enc
	}
	if cached, ok := e.encoders[fallbackEncoding]; ok {
		return cached
	}
	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err != nil {
		return nil
	}
	e.encoders[fallbackEncoding] = enc
	return enc
}

// Count returns the approximate prompt token total for a request.
// Falls back to a bytes/4 heuristic when no encoding is available.
func (e *Estimator) Count(modelID, systemPrompt string, messages []adapter.Message) int {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	for _, m := range messages {
		sb.WriteString("\n")
		sb.WriteString(m.Role)
		sb.WriteString("\n")
		sb.WriteString(m.Content)
	}
	text := sb.String()

	enc := e.encoder(modelID)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
