package model

import "strings"

// Capability is a declared feature a model supports, queried before use
// rather than assumed.
type Capability string

const (
	CapChat      Capability = "chat"
	CapStreaming Capability = "streaming"
	CapToolUse   Capability = "tool_use"
	CapVision    Capability = "vision"
	CapReasoning Capability = "reasoning"
)

// ModelDescriptor is the static price/capability record for one model.
// Loaded at process start, immutable for the process lifetime.
type ModelDescriptor struct {
	ID                  string
	DisplayName         string
	ContextWindowTokens int
	MaxOutputTokens     int

	// USD per million tokens.
	InputPricePerMTok  float64
	OutputPricePerMTok float64

	Capabilities []Capability

	// FixedTemperature, when non-nil, is the only temperature the backend
	// accepts for this model; adapters clamp to it.
	FixedTemperature *float64

	// UsesMaxCompletionTokens marks models whose token-limit request field
	// is "max_completion_tokens" instead of "max_tokens".
	UsesMaxCompletionTokens bool
}

// Has reports whether the descriptor declares a capability.
func (d ModelDescriptor) Has(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Catalog is a read-only lookup over one backend's model descriptors.
type Catalog struct {
	byID  map[string]ModelDescriptor
	order []string
}

// NewCatalog builds a catalog preserving declaration order.
func NewCatalog(models ...ModelDescriptor) *Catalog {
	c := &Catalog{byID: make(map[string]ModelDescriptor, len(models))}
	for _, m := range models {
		id := normalizeModelID(m.ID)
		if _, dup := c.byID[id]; dup {
			continue
		}
		c.byID[id] = m
		c.order = append(c.order, id)
	}
	return c
}

// Get returns the descriptor for a model ID.
func (c *Catalog) Get(id string) (ModelDescriptor, bool) {
	m, ok := c.byID[normalizeModelID(id)]
	return m, ok
}

// List returns descriptors in declaration order.
func (c *Catalog) List() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// EstimateCost returns the USD cost of a call: token counts times the
// per-million prices. Unknown model IDs cost 0; it never fails.
func (c *Catalog) EstimateCost(inputTokens, outputTokens int, id string) float64 {
	m, ok := c.Get(id)
	if !ok {
		return 0
	}
	return (float64(inputTokens)*m.InputPricePerMTok +
		float64(outputTokens)*m.OutputPricePerMTok) / 1_000_000
}

func normalizeModelID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// FixedTemp is a convenience for descriptor literals.
func FixedTemp(t float64) *float64 { return &t }
