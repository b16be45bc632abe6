package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/promptcanvas/aibridge/internal/aierr"
	"github.com/promptcanvas/aibridge/internal/model"
)

// chunkRecorder captures the chunk sequence delivered to onChunk.
type chunkRecorder struct {
	chunks []model.StreamChunk
}

func (r *chunkRecorder) handle(c model.StreamChunk) {
	r.chunks = append(r.chunks, c)
}

// assertSequence checks the stream invariant: exactly one start chunk
// first and exactly one terminal chunk last.
func (r *chunkRecorder) assertSequence(t *testing.T, wantTerminal model.ChunkType) {
	t.Helper()
	if len(r.chunks) < 2 {
		t.Fatalf("expected at least start and terminal chunks, got %d", len(r.chunks))
	}
	if r.chunks[0].Type != model.ChunkStart {
		t.Errorf("first chunk must be start, got %s", r.chunks[0].Type)
	}
	last := r.chunks[len(r.chunks)-1]
	if last.Type != wantTerminal {
		t.Errorf("expected terminal %s, got %s", wantTerminal, last.Type)
	}
	for i, c := range r.chunks[1 : len(r.chunks)-1] {
		if c.Type != model.ChunkText {
			t.Errorf("chunk %d must be text, got %s", i+1, c.Type)
		}
	}
}

func (r *chunkRecorder) texts() string {
	var out string
	for _, c := range r.chunks {
		out += c.Content
	}
	return out
}

var userMessages = []model.Message{{Role: "user", Content: "Hello"}}

func TestOpenAI_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("expected stream to be false")
		}
		if req.Model != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %s", req.Model)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "Hello!"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	resp, err := p.Chat(context.Background(), userMessages, model.ChatOptions{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %+v", resp.Usage)
	}
}

func TestOpenAI_Chat_ValidationBeforeNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network call expected for invalid options")
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)

	_, err := p.Chat(context.Background(), userMessages, model.ChatOptions{Model: "gpt-4o", Temperature: floatPtr(2.5)})
	var ve *aierr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestOpenAI_Chat_VendorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "bad-key", 0, nil)
	_, err := p.Chat(context.Background(), userMessages, model.ChatOptions{Model: "gpt-4o"})

	var verr *aierr.VendorError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VendorError, got %v", err)
	}
	if verr.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", verr.StatusCode)
	}
	if verr.Message != "Incorrect API key provided" {
		t.Errorf("expected vendor message, got %q", verr.Message)
	}
}

func TestOpenAI_Chat_UnsupportedParamRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)

		if calls == 1 {
			if req.Temperature == nil {
				t.Error("first call should carry temperature")
			}
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": {"message": "Unsupported value: 'temperature' does not support 0.2 with this model. Only the default (1) value is supported."}}`)
			return
		}

		if req.Temperature != nil {
			t.Error("retry must omit temperature")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"model": "o3-mini", "choices": [{"message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	resp, err := p.Chat(context.Background(), userMessages, model.ChatOptions{Model: "o3-mini", Temperature: floatPtr(0.2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", calls)
	}
	if resp.Content != "ok" {
		t.Errorf("expected retried response, got %q", resp.Content)
	}
}

func TestOpenAI_Chat_NoRetryForOtherErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "context length exceeded"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	_, err := p.Chat(context.Background(), userMessages, model.ChatOptions{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected no retry, got %d calls", calls)
	}
}

func TestOpenAI_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream to be true")
		}
		if req.StreamOptions == nil || !req.StreamOptions.IncludeUsage {
			t.Error("expected stream_options.include_usage")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices": [{"delta": {"content": "Hel"}}]}`+"\n\n")
		fmt.Fprint(w, `data: not valid json`+"\n\n")
		fmt.Fprint(w, `data: {"choices": [{"delta": {"content": "lo!"}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"choices": [], "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	rec := &chunkRecorder{}
	if err := p.ChatStream(context.Background(), userMessages, model.ChatOptions{Model: "gpt-4o"}, rec.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.assertSequence(t, model.ChunkEnd)
	if got := rec.texts(); got != "Hello!" {
		t.Errorf("expected assembled text 'Hello!', got %q", got)
	}
	last := rec.chunks[len(rec.chunks)-1]
	if last.Usage == nil || last.Usage.TotalTokens != 15 {
		t.Errorf("expected cumulative usage on end chunk, got %+v", last.Usage)
	}
}

func TestOpenAI_ChatStream_VendorErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "upstream exploded"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	rec := &chunkRecorder{}
	if err := p.ChatStream(context.Background(), userMessages, model.ChatOptions{Model: "gpt-4o"}, rec.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.assertSequence(t, model.ChunkError)
	if len(rec.chunks) != 2 {
		t.Fatalf("expected [start error], got %d chunks", len(rec.chunks))
	}
	if rec.chunks[1].Error == "" {
		t.Error("error chunk must carry a message")
	}
}

func TestOpenAI_ChatStream_ValidationReturnsNoChunks(t *testing.T) {
	p := NewOpenAI("openai", "http://unused", "test-key", 0, nil)
	rec := &chunkRecorder{}
	err := p.ChatStream(context.Background(), nil, model.ChatOptions{Model: "gpt-4o"}, rec.handle)

	var ve *aierr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(rec.chunks) != 0 {
		t.Errorf("no chunks expected before validation passes, got %d", len(rec.chunks))
	}
}

func TestOpenAI_ListModels_FiltersCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("expected /models, got %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data": [
			{"id": "gpt-4o"},
			{"id": "text-embedding-3-small"},
			{"id": "whisper-1"},
			{"id": "dall-e-3"},
			{"id": "gpt-4o-mini"},
			{"id": "tts-1"},
			{"id": "o3-mini"},
			{"id": "gpt-3.5-turbo-instruct"},
			{"id": "omni-moderation-latest"}
		]}`)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	models := p.ListModels(context.Background())

	want := []string{"gpt-4o", "gpt-4o-mini", "o3-mini"}
	if len(models) != len(want) {
		t.Fatalf("expected %v, got %v", want, models)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("expected %v, got %v", want, models)
			break
		}
	}
}

func TestOpenAI_ListModels_FallbackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOpenAI("openai", srv.URL, "test-key", 0, nil)
	models := p.ListModels(context.Background())
	if len(models) != len(defaultOpenAIModels) {
		t.Errorf("expected fallback list, got %v", models)
	}
}

func TestOpenAI_ListModels_NoKeyUsesFallback(t *testing.T) {
	p := NewOpenAI("openai", "http://unused", "", 0, nil)
	models := p.ListModels(context.Background())
	if len(models) != len(defaultOpenAIModels) {
		t.Errorf("expected fallback list without key, got %v", models)
	}
	if p.Available() {
		t.Error("adapter without key must report unavailable")
	}
}

func TestOpenAI_FallbackModels_NoIO(t *testing.T) {
	custom := []string{"my-model"}
	p := NewOpenAI("openai", "http://unused", "k", 0, custom)
	got := p.FallbackModels()
	if len(got) != 1 || got[0] != "my-model" {
		t.Errorf("expected configured fallback, got %v", got)
	}
}
