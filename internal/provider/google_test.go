package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/promptcanvas/aibridge/internal/model"
)

func TestGoogle_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("expected :generateContent path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected key query param, got %q", r.URL.Query().Get("key"))
		}

		var gr geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&gr); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if len(gr.Contents) != 1 || gr.Contents[0].Role != "user" {
			t.Errorf("unexpected contents: %+v", gr.Contents)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Hi there"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 4, "totalTokenCount": 12}
		}`)
	}))
	defer srv.Close()

	p := NewGoogle("google", srv.URL, "test-key", 0, nil)
	resp, err := p.Chat(context.Background(), userMessages, model.ChatOptions{Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hi there" {
		t.Errorf("expected 'Hi there', got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected STOP mapped to stop, got %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Errorf("expected 12 total tokens, got %+v", resp.Usage)
	}
}

func TestGoogle_Chat_RoleAndSystemMapping(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, `{"candidates": [{"content": {"parts": [{"text": "ok"}]}, "finishReason": "STOP"}]}`)
	}))
	defer srv.Close()

	p := NewGoogle("google", srv.URL, "test-key", 0, nil)
	msgs := []model.Message{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello"},
		{Role: "user", Content: "Bye"},
	}
	if _, err := p.Chat(context.Background(), msgs, model.ChatOptions{Model: "gemini-2.5-flash"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "Be terse." {
		t.Errorf("system message must become systemInstruction: %+v", captured.SystemInstruction)
	}
	if len(captured.Contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" {
		t.Errorf("assistant role must map to model, got %q", captured.Contents[1].Role)
	}
}

func TestGoogle_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("expected :streamGenerateContent path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("expected alt=sse, got %q", r.URL.Query().Get("alt"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": "Hel"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates": [{"content": {"parts": [{"text": "lo"}]}, "finishReason": "STOP"}], "usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 2, "totalTokenCount": 10}}`+"\n\n")
	}))
	defer srv.Close()

	p := NewGoogle("google", srv.URL, "test-key", 0, nil)
	rec := &chunkRecorder{}
	if err := p.ChatStream(context.Background(), userMessages, model.ChatOptions{Model: "gemini-2.5-flash"}, rec.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.assertSequence(t, model.ChunkEnd)
	if got := rec.texts(); got != "Hello" {
		t.Errorf("expected assembled text 'Hello', got %q", got)
	}
	last := rec.chunks[len(rec.chunks)-1]
	if last.Usage == nil || last.Usage.TotalTokens != 10 {
		t.Errorf("expected usage on end chunk, got %+v", last.Usage)
	}
}

func TestGoogle_ChatStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "API key not valid", "status": "INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	p := NewGoogle("google", srv.URL, "bad-key", 0, nil)
	rec := &chunkRecorder{}
	if err := p.ChatStream(context.Background(), userMessages, model.ChatOptions{Model: "gemini-2.5-flash"}, rec.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.assertSequence(t, model.ChunkError)
	if !strings.Contains(rec.chunks[1].Error, "API key not valid") {
		t.Errorf("error chunk should carry the vendor message, got %q", rec.chunks[1].Error)
	}
}

func TestGoogle_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models": [
			{"name": "models/gemini-2.5-flash", "supportedGenerationMethods": ["generateContent", "countTokens"]},
			{"name": "models/text-embedding-004", "supportedGenerationMethods": ["embedContent"]},
			{"name": "models/gemini-embedding-001", "supportedGenerationMethods": ["generateContent"]},
			{"name": "models/aqa", "supportedGenerationMethods": ["generateAnswer"]},
			{"name": "models/gemini-2.5-pro", "supportedGenerationMethods": ["generateContent"]}
		]}`)
	}))
	defer srv.Close()

	p := NewGoogle("google", srv.URL, "test-key", 0, nil)
	models := p.ListModels(context.Background())
	want := []string{"gemini-2.5-flash", "gemini-2.5-pro"}
	if len(models) != 2 || models[0] != want[0] || models[1] != want[1] {
		t.Errorf("expected %v, got %v", want, models)
	}
}

func TestGoogle_ListModels_FallbackOnNetworkError(t *testing.T) {
	p := NewGoogle("google", "http://127.0.0.1:1", "test-key", 0, nil)
	models := p.ListModels(context.Background())
	if len(models) != len(defaultGoogleModels) {
		t.Errorf("expected fallback list, got %v", models)
	}
}
