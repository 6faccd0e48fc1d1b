package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"taskhive-ai-gateway/internal/domain/aierr"
	"taskhive-ai-gateway/internal/domain/ports/adapter"
)

func newOpenAI(t *testing.T, url string, sleeps *[]time.Duration) *OpenAIAdapter {
	t.Helper()
	return NewOpenAIAdapter(OpenAIConfig{
		APIKey:       "test-key",
		BaseURL:      url,
		DefaultModel: "gpt-4o-mini",
	}, testRunner(sleeps), testLogger())
}

const openaiChatBody = `{
	"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o-mini",
	"choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}],
	"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}
}`

func TestOpenAIChat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openaiChatBody))
	}))
	defer srv.Close()

	o := newOpenAI(t, srv.URL, nil)
	resp, err := o.Chat(context.Background(), userChat("hi"))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v, want 9/4", resp.Usage)
	}
	if resp.StopReason != "stop" || resp.Provider != "openai" || resp.ModelUsed != "gpt-4o-mini" {
		t.Errorf("metadata = %+v", resp)
	}
	if _, ok := gotBody["max_tokens"]; !ok {
		t.Error("standard models take max_tokens")
	}
	if _, ok := gotBody["max_completion_tokens"]; ok {
		t.Error("standard models must not send max_completion_tokens")
	}
	if temp, _ := gotBody["temperature"].(float64); temp != 0.7 {
		t.Errorf("temperature = %v, want 0.7", temp)
	}
}

func TestOpenAIChatReasoningModelWireShape(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openaiChatBody))
	}))
	defer srv.Close()

	o := newOpenAI(t, srv.URL, nil)
	req := userChat("hi")
	req.Model = "o4-mini"
	if _, err := o.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if _, ok := gotBody["max_completion_tokens"]; !ok {
		t.Error("reasoning models take max_completion_tokens")
	}
	if _, ok := gotBody["max_tokens"]; ok {
		t.Error("reasoning models must not send max_tokens")
	}
	// 0.7 was requested but the model accepts exactly one temperature.
	if temp, _ := gotBody["temperature"].(float64); temp != 1 {
		t.Errorf("temperature = %v, want clamped to 1", temp)
	}
}

func TestOpenAIChatSystemPromptLeadsMessages(t *testing.T) {
	var gotBody struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openaiChatBody))
	}))
	defer srv.Close()

	o := newOpenAI(t, srv.URL, nil)
	req := userChat("hi")
	req.SystemPrompt = "be terse"
	if _, err := o.Chat(context.Background(), req); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("messages = %+v", gotBody.Messages)
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "be terse" {
		t.Errorf("first message = %+v, want the system prompt", gotBody.Messages[0])
	}
}

func TestOpenAIChatMapsAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o := newOpenAI(t, srv.URL, &[]time.Duration{})
	_, err := o.Chat(context.Background(), userChat("hi"))
	var ce *aierr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("got %v, want ConfigError", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, auth failures must not retry", calls.Load())
	}
}

func TestOpenAIChatRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"server_error","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openaiChatBody))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	o := newOpenAI(t, srv.URL, &sleeps)
	resp, err := o.Chat(context.Background(), userChat("hi"))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("content = %q", resp.Content)
	}
	if calls.Load() != 2 || len(sleeps) != 1 {
		t.Errorf("calls=%d sleeps=%d, want one retry", calls.Load(), len(sleeps))
	}
}

const openaiStreamBody = `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"hello"}}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":" there"}}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}

data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}

data: [DONE]

`

func TestOpenAIStreamChat(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(openaiStreamBody))
	}))
	defer srv.Close()

	o := newOpenAI(t, srv.URL, nil)
	s, err := o.StreamChat(context.Background(), userChat("hi"))
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer s.Close()

	opts, _ := gotBody["stream_options"].(map[string]any)
	if opts == nil || opts["include_usage"] != true {
		t.Errorf("stream_options = %v, want include_usage", gotBody["stream_options"])
	}

	var joined string
	nfrags := 0
	for {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		joined += frag
		nfrags++
	}
	if joined != "hello there" || nfrags != 2 {
		t.Errorf("got %d fragments %q", nfrags, joined)
	}

	final, err := s.Final()
	if err != nil {
		t.Fatalf("Final: %v", err)
	}
	if final.Content != "hello there" {
		t.Errorf("final content = %q", final.Content)
	}
	if final.Usage.InputTokens != 9 || final.Usage.OutputTokens != 4 {
		t.Errorf("usage = %+v, want 9/4 from the trailing chunk", final.Usage)
	}
	if final.StopReason != "stop" {
		t.Errorf("stop reason = %q", final.StopReason)
	}
}

func TestOpenAIStreamRetriesHandshake(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(openaiStreamBody))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	o := newOpenAI(t, srv.URL, &sleeps)
	s, err := o.StreamChat(context.Background(), userChat("hi"))
	if err != nil {
		t.Fatalf("StreamChat: %v", err)
	}
	defer s.Close()
	if calls.Load() != 2 || len(sleeps) != 1 {
		t.Errorf("calls=%d sleeps=%d, want one retry during handshake", calls.Load(), len(sleeps))
	}
	frag, err := s.Recv()
	if err != nil || frag != "hello" {
		t.Fatalf("first Recv = %q, %v", frag, err)
	}
}

func TestOpenAIUnconfigured(t *testing.T) {
	o := NewOpenAIAdapter(OpenAIConfig{}, testRunner(nil), testLogger())
	var ce *aierr.ConfigError
	if _, err := o.Chat(context.Background(), userChat("hi")); !errors.As(err, &ce) {
		t.Fatalf("Chat: %v, want ConfigError", err)
	}
	if _, err := o.StreamChat(context.Background(), userChat("hi")); !errors.As(err, &ce) {
		t.Fatalf("StreamChat: %v, want ConfigError", err)
	}
}

func TestOpenAITemperatureRange(t *testing.T) {
	o := newOpenAI(t, "http://unreachable.invalid", nil)
	req := userChat("hi")
	req.Temperature = 2.5
	_, err := o.Chat(context.Background(), req)
	var se *aierr.ServiceError
	if !errors.As(err, &se) || se.Retryable {
		t.Fatalf("got %v, want non-retryable ServiceError", err)
	}
	// 2.0 is valid here even though other backends cap at 1.
	req.Temperature = 2.0
	if _, err := o.buildParams(req); err != nil {
		t.Fatalf("buildParams at 2.0: %v", err)
	}
}

var _ adapter.ChatStream = (*openaiStream)(nil)
