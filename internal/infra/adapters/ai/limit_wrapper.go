package ai

import (
	"context"
	"sync"

	"taskhive-ai-gateway/internal/domain/model"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.AIProviderAdapter = (*limitedAdapter)(nil)

// limitedAdapter caps concurrent in-flight calls to a backend with a
// semaphore. Streams hold their slot until Close.
type limitedAdapter struct {
	inner adapter.AIProviderAdapter
	sem   chan struct{}
}

// NewLimitedAdapter wraps inner with a concurrency cap. A cap <= 0 returns
// inner unchanged.
func NewLimitedAdapter(inner adapter.AIProviderAdapter, maxConcurrent int) adapter.AIProviderAdapter {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedAdapter{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedAdapter) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedAdapter) release() { <-l.sem }

func (l *limitedAdapter) Name() string            { return l.inner.Name() }
func (l *limitedAdapter) IsConfigured() bool      { return l.inner.IsConfigured() }
func (l *limitedAdapter) SupportsStreaming() bool { return l.inner.SupportsStreaming() }
func (l *limitedAdapter) SupportsToolUse() bool   { return l.inner.SupportsToolUse() }

func (l *limitedAdapter) Models() []model.ModelDescriptor { return l.inner.Models() }

func (l *limitedAdapter) EstimateCost(inputTokens, outputTokens int, modelID string) float64 {
	return l.inner.EstimateCost(inputTokens, outputTokens, modelID)
}

func (l *limitedAdapter) Chat(ctx context.Context, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.release()
	return l.inner.Chat(ctx, req)
}

func (l *limitedAdapter) StreamChat(ctx context.Context, req adapter.ChatRequest) (adapter.ChatStream, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	stream, err := l.inner.StreamChat(ctx, req)
	if err != nil {
		l.release()
		return nil, err
	}
	return &limitedStream{ChatStream: stream, release: l.release}, nil
}

// limitedStream releases its semaphore slot exactly once, on Close.
type limitedStream struct {
	adapter.ChatStream
	release func()
	once    sync.Once
}

func (s *limitedStream) Close() error {
	err := s.ChatStream.Close()
	s.once.Do(s.release)
	return err
}
