// Command mockserver fakes the three upstream vendor APIs on one
// port, for local development and load testing without burning real
// API credit. Point every provider's base_url at it.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

var (
	port    int
	latency time.Duration
)

const mockText = "This is a mock response from the aibridge mock server."

func main() {
	flag.IntVar(&port, "port", 9999, "listen port")
	flag.DurationVar(&latency, "latency", 50*time.Millisecond, "simulated latency (per-chunk for streaming)")
	flag.Parse()

	// Each vendor lives under its own prefix, so a single instance
	// serves all three base_urls:
	//   openai    http://localhost:9999/openai/v1
	//   anthropic http://localhost:9999/anthropic/v1
	//   gemini    http://localhost:9999/gemini/v1beta
	mux := http.NewServeMux()
	mux.HandleFunc("POST /openai/v1/chat/completions", handleOpenAIChat)
	mux.HandleFunc("GET /openai/v1/models", handleOpenAIModels)
	mux.HandleFunc("POST /anthropic/v1/messages", handleAnthropicChat)
	mux.HandleFunc("GET /anthropic/v1/models", handleAnthropicModels)
	mux.HandleFunc("POST /gemini/v1beta/models/{model...}", handleGeminiChat)
	mux.HandleFunc("GET /gemini/v1beta/models", handleGeminiModels)
	mux.HandleFunc("GET /health", handleHealth)

	addr := fmt.Sprintf(":%d", port)
	log.Printf("mock vendors listening on %s (latency=%v)", addr, latency)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func sseHeaders(w http.ResponseWriter) *http.ResponseController {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return http.NewResponseController(w)
}

// --- OpenAI ---

func handleOpenAIChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid json"}}`, http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		req.Model = "gpt-4o-mini"
	}

	if !req.Stream {
		time.Sleep(latency)
		writeJSON(w, map[string]any{
			"model": req.Model,
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": mockText},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 12, "total_tokens": 22},
		})
		return
	}

	rc := sseHeaders(w)
	for _, word := range strings.SplitAfter(mockText, " ") {
		time.Sleep(latency)
		data, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": word}, "finish_reason": ""}},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		rc.Flush()
	}
	data, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{}, "finish_reason": "stop"}},
		"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 12, "total_tokens": 22},
	})
	fmt.Fprintf(w, "data: %s\n\n", data)
	fmt.Fprint(w, "data: [DONE]\n\n")
	rc.Flush()
}

func handleOpenAIModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"data": []map[string]string{
			{"id": "gpt-4o"},
			{"id": "gpt-4o-mini"},
			{"id": "o3-mini"},
			{"id": "whisper-1"},
			{"id": "text-embedding-3-small"},
		},
	})
}

// --- Anthropic ---

func handleAnthropicChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model  string `json:"model"`
		Stream bool   `json:"stream"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid json"}}`, http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		req.Model = "claude-sonnet-4-0"
	}

	if !req.Stream {
		time.Sleep(latency)
		writeJSON(w, map[string]any{
			"id":          "msg_mock_001",
			"model":       req.Model,
			"content":     []map[string]string{{"type": "text", "text": mockText}},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 12},
		})
		return
	}

	rc := sseHeaders(w)
	event := func(name string, payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
		rc.Flush()
	}

	event("message_start", map[string]any{
		"message": map[string]any{"usage": map[string]int{"input_tokens": 10}},
	})
	for _, word := range strings.SplitAfter(mockText, " ") {
		time.Sleep(latency)
		event("content_block_delta", map[string]any{
			"delta": map[string]string{"type": "text_delta", "text": word},
		})
	}
	event("message_delta", map[string]any{
		"delta": map[string]string{"stop_reason": "end_turn"},
		"usage": map[string]int{"output_tokens": 12},
	})
	event("message_stop", map[string]any{})
}

func handleAnthropicModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"data": []map[string]string{
			{"id": "claude-sonnet-4-0"},
			{"id": "claude-opus-4-0"},
			{"id": "claude-3-5-haiku-latest"},
		},
	})
}

// --- Gemini ---

func handleGeminiChat(w http.ResponseWriter, r *http.Request) {
	// The model path segment carries the action: model:generateContent
	// or model:streamGenerateContent.
	stream := strings.Contains(r.PathValue("model"), ":streamGenerateContent")

	if !stream {
		time.Sleep(latency)
		writeJSON(w, map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]string{{"text": mockText}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]int{"promptTokenCount": 10, "candidatesTokenCount": 12, "totalTokenCount": 22},
		})
		return
	}

	rc := sseHeaders(w)
	words := strings.SplitAfter(mockText, " ")
	for i, word := range words {
		time.Sleep(latency)
		chunk := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"role": "model", "parts": []map[string]string{{"text": word}}},
			}},
		}
		if i == len(words)-1 {
			chunk["candidates"].([]map[string]any)[0]["finishReason"] = "STOP"
			chunk["usageMetadata"] = map[string]int{"promptTokenCount": 10, "candidatesTokenCount": 12, "totalTokenCount": 22}
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		rc.Flush()
	}
}

func handleGeminiModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"models": []map[string]any{
			{"name": "models/gemini-2.0-flash", "supportedGenerationMethods": []string{"generateContent"}},
			{"name": "models/gemini-1.5-pro", "supportedGenerationMethods": []string{"generateContent"}},
			{"name": "models/text-embedding-004", "supportedGenerationMethods": []string{"embedContent"}},
		},
	})
}
