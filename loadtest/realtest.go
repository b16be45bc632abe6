//go:build ignore

// realtest.go — Integration check against a live aibridge + upstream
// vendor APIs (or the mockserver). Measures bridge overhead for
// non-streaming and streaming chat, and probes the rate limiter.
//
// Usage:
//   go run loadtest/realtest.go
//   AIBRIDGE_TEST_PROVIDER=anthropic go run loadtest/realtest.go
//
// Env vars:
//   AIBRIDGE_URL           — default http://localhost:8080
//   AIBRIDGE_TEST_PROVIDER — provider name, default "" (server default)
//   AIBRIDGE_TEST_MODEL    — default gpt-4o-mini
//   AIBRIDGE_RUNS          — default 3 (repetitions per measurement)

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var (
	bridgeURL    = env("AIBRIDGE_URL", "http://localhost:8080")
	providerName = env("AIBRIDGE_TEST_PROVIDER", "")
	modelName    = env("AIBRIDGE_TEST_MODEL", "gpt-4o-mini")
	runs         = func() int {
		n, err := strconv.Atoi(env("AIBRIDGE_RUNS", "3"))
		if err != nil || n < 1 {
			return 3
		}
		return n
	}()
)

type chatBody struct {
	Messages []map[string]string `json:"messages"`
	Options  map[string]any      `json:"options"`
	Stream   bool                `json:"stream"`
	UserID   string              `json:"userId"`
	Provider string              `json:"provider,omitempty"`
}

func newBody(user string, stream bool) []byte {
	b, _ := json.Marshal(chatBody{
		Messages: []map[string]string{{"role": "user", "content": "Reply with one short sentence."}},
		Options:  map[string]any{"model": modelName},
		Stream:   stream,
		UserID:   user,
		Provider: providerName,
	})
	return b
}

func median(durations []time.Duration) time.Duration {
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	return durations[len(durations)/2]
}

func main() {
	client := &http.Client{Timeout: 2 * time.Minute}

	fmt.Printf("aibridge realtest: url=%s provider=%q model=%s runs=%d\n\n",
		bridgeURL, providerName, modelName, runs)

	// Non-streaming latency.
	var nonStream []time.Duration
	for i := 0; i < runs; i++ {
		start := time.Now()
		resp, err := client.Post(bridgeURL+"/v1/chat", "application/json",
			bytes.NewReader(newBody("realtest-plain", false)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "non-stream request failed: %v\n", err)
			os.Exit(1)
		}
		var out struct {
			Content string `json:"content"`
			Usage   *struct {
				TotalTokens int `json:"totalTokens"`
			} `json:"usage"`
		}
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		elapsed := time.Since(start)
		nonStream = append(nonStream, elapsed)
		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "non-stream status %d\n", resp.StatusCode)
			os.Exit(1)
		}
		fmt.Printf("  non-stream run %d: %v (%d chars)\n", i+1, elapsed.Round(time.Millisecond), len(out.Content))
	}

	// Streaming: time to first text chunk and to [DONE].
	var firstChunk, total []time.Duration
	for i := 0; i < runs; i++ {
		start := time.Now()
		resp, err := client.Post(bridgeURL+"/v1/chat", "application/json",
			bytes.NewReader(newBody("realtest-stream", true)))
		if err != nil {
			fmt.Fprintf(os.Stderr, "stream request failed: %v\n", err)
			os.Exit(1)
		}
		var ttfb time.Duration
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			if data == "[DONE]" {
				break
			}
			var chunk struct {
				Type string `json:"type"`
			}
			json.Unmarshal([]byte(data), &chunk)
			if chunk.Type == "text" && ttfb == 0 {
				ttfb = time.Since(start)
			}
			if chunk.Type == "error" {
				fmt.Fprintf(os.Stderr, "stream error chunk: %s\n", data)
				os.Exit(1)
			}
		}
		resp.Body.Close()
		firstChunk = append(firstChunk, ttfb)
		total = append(total, time.Since(start))
		fmt.Printf("  stream run %d: first-chunk %v, total %v\n",
			i+1, ttfb.Round(time.Millisecond), time.Since(start).Round(time.Millisecond))
	}

	// Rate-limit probe: hammer one user until a 429 shows up.
	probeUser := fmt.Sprintf("realtest-limit-%d", time.Now().UnixNano())
	got429 := false
	for i := 0; i < 30; i++ {
		resp, err := client.Post(bridgeURL+"/v1/chat", "application/json",
			bytes.NewReader(newBody(probeUser, false)))
		if err != nil {
			break
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			fmt.Printf("\n  rate limiter kicked in after %d requests (Retry-After: %s)\n",
				i+1, resp.Header.Get("Retry-After"))
			got429 = true
			break
		}
	}
	if !got429 {
		fmt.Println("\n  warning: no 429 within 30 requests, limits may be high")
	}

	fmt.Printf("\nmedians: non-stream %v, first-chunk %v, stream-total %v\n",
		median(nonStream).Round(time.Millisecond),
		median(firstChunk).Round(time.Millisecond),
		median(total).Round(time.Millisecond))
}
