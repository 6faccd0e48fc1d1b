package tokens

import (
	"testing"

	"taskhive-ai-gateway/internal/domain/ports/adapter"
)

func TestCountEmptyRequestIsZero(t *testing.T) {
	e := NewEstimator()
	if got := e.Count("gpt-4o", "", nil); got != 0 {
		t.Fatalf("Count = %d, want 0", got)
	}
}

func TestCountGrowsWithInput(t *testing.T) {
	e := NewEstimator()
	short := e.Count("gpt-4o", "", []adapter.Message{{Role: adapter.RoleUser, Content: "hello"}})
	long := e.Count("gpt-4o", "a long system prompt with many words", []adapter.Message{
		{Role: adapter.RoleUser, Content: "hello there, this message is quite a bit longer than the short one"},
		{Role: adapter.RoleAssistant, Content: "and there is a second message too"},
	})
	if short <= 0 {
		t.Fatalf("short count = %d, want > 0", short)
	}
	if long <= short {
		t.Fatalf("long count %d not greater than short count %d", long, short)
	}
}

func TestCountUnknownModelFallsBack(t *testing.T) {
	e := NewEstimator()
	if got := e.Count("some-unknown-model", "", []adapter.Message{{Role: adapter.RoleUser, Content: "four words right here"}}); got <= 0 {
		t.Fatalf("Count = %d, want > 0 via fallback", got)
	}
}
