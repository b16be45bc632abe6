package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/promptcanvas/aibridge/internal/aierr"
	"github.com/promptcanvas/aibridge/internal/model"
)

// Anthropic SSE event type byte slices for zero-alloc comparison.
var (
	eventMessageStart      = []byte("message_start")
	eventContentBlockDelta = []byte("content_block_delta")
	eventMessageDelta      = []byte("message_delta")
	eventMessageStop       = []byte("message_stop")
	eventError             = []byte("error")
)

var defaultAnthropicModels = []string{
	"claude-sonnet-4-5",
	"claude-haiku-4-5",
	"claude-opus-4-1",
}

// anthropicDefaultMaxTokens is used when the caller sets no limit;
// the Messages API requires max_tokens.
const anthropicDefaultMaxTokens = 4096

// Anthropic is an adapter for the Anthropic Messages API.
type Anthropic struct {
	name     string
	baseURL  string
	apiKey   string
	timeout  time.Duration
	fallback []string
	client   *http.Client
}

// NewAnthropic creates a new Anthropic adapter.
func NewAnthropic(name, baseURL, apiKey string, timeout time.Duration, fallback []string) *Anthropic {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if len(fallback) == 0 {
		fallback = defaultAnthropicModels
	}
	return &Anthropic{
		name:     name,
		baseURL:  baseURL,
		apiKey:   apiKey,
		timeout:  timeout,
		fallback: fallback,
		client:   newHTTPClient(),
	}
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) Available() bool { return a.apiKey != "" }

func (a *Anthropic) FallbackModels() []string { return a.fallback }

type anthropicRequest struct {
	Model       string         `json:"model"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
}

type anthropicMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicMessageStart struct {
	Message anthropicResponse `json:"message"`
}

type anthropicContentBlockDelta struct {
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage anthropicUsage `json:"usage"`
}

// convertRequest moves system-role content into the top-level system
// field the Messages API expects; multiple system messages are joined
// with blank lines.
func (a *Anthropic) convertRequest(messages []model.Message, opts model.ChatOptions, stream bool) *anthropicRequest {
	ar := &anthropicRequest{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   anthropicDefaultMaxTokens,
		Stream:      stream,
	}
	if opts.MaxTokens != nil {
		ar.MaxTokens = *opts.MaxTokens
	}

	var system []string
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMsg{Role: msg.Role, Content: msg.Content})
	}
	ar.System = strings.Join(system, "\n\n")
	return ar
}

func anthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func (a *Anthropic) send(ctx context.Context, messages []model.Message, opts model.ChatOptions, stream bool) (*http.Response, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(a.convertRequest(messages, opts, stream)); err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, vendorError(a.name, resp.StatusCode, body)
	}
	return resp, nil
}

func (a *Anthropic) sendWithRetry(ctx context.Context, messages []model.Message, opts model.ChatOptions, stream bool) (*http.Response, error) {
	resp, err := a.send(ctx, messages, opts, stream)
	if err != nil {
		if param, ok := retryableParam(err); ok {
			return a.send(ctx, messages, withoutParam(opts, param), stream)
		}
	}
	return resp, err
}

// Chat sends a non-streaming chat completion request.
func (a *Anthropic) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.Response, error) {
	if err := validateChat(messages, opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.sendWithRetry(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	var content strings.Builder
	for _, c := range ar.Content {
		if c.Type == "text" {
			content.WriteString(c.Text)
		}
	}

	return &model.Response{
		Content: content.String(),
		Model:   ar.Model,
		Usage: &model.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
		FinishReason: anthropicStopReason(ar.StopReason),
	}, nil
}

// ChatStream sends a streaming chat completion request, decoding the
// event-typed SSE stream.
func (a *Anthropic) ChatStream(ctx context.Context, messages []model.Message, opts model.ChatOptions, onChunk model.ChunkHandler) error {
	if err := validateChat(messages, opts); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	onChunk(model.StartChunk())

	resp, err := a.sendWithRetry(ctx, messages, opts, true)
	if err != nil {
		onChunk(model.ErrorChunk(err))
		return nil
	}
	defer resp.Body.Close()

	eventPrefix := []byte("event: ")

	var promptTokens int
	var usage *model.Usage
	var curEvent []byte

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()

		if bytes.HasPrefix(line, eventPrefix) {
			curEvent = append(curEvent[:0], line[len(eventPrefix):]...)
			continue
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := line[len(dataPrefix):]

		switch {
		case bytes.Equal(curEvent, eventMessageStart):
			var ms anthropicMessageStart
			if err := json.Unmarshal(data, &ms); err != nil {
				continue
			}
			promptTokens = ms.Message.Usage.InputTokens

		case bytes.Equal(curEvent, eventContentBlockDelta):
			var cbd anthropicContentBlockDelta
			if err := json.Unmarshal(data, &cbd); err != nil {
				continue
			}
			if cbd.Delta.Text != "" {
				c := model.TextChunk(cbd.Delta.Text)
				c.Usage = usage
				onChunk(c)
			}

		case bytes.Equal(curEvent, eventMessageDelta):
			var md anthropicMessageDelta
			if err := json.Unmarshal(data, &md); err != nil {
				continue
			}
			usage = &model.Usage{
				PromptTokens:     promptTokens,
				CompletionTokens: md.Usage.OutputTokens,
				TotalTokens:      promptTokens + md.Usage.OutputTokens,
			}

		case bytes.Equal(curEvent, eventMessageStop):
			onChunk(model.EndChunk(usage))
			return nil

		case bytes.Equal(curEvent, eventError):
			msg := string(data)
			var parsed vendorErrorBody
			if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
				msg = parsed.Error.Message
			}
			onChunk(model.ErrorChunk(&aierr.VendorError{Provider: a.name, StatusCode: resp.StatusCode, Message: msg}))
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		onChunk(model.ErrorChunk(&aierr.StreamError{Provider: a.name, Cause: err}))
		return nil
	}

	onChunk(model.EndChunk(usage))
	return nil
}

type anthropicModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels queries the vendor catalog, keeping only chat-capable
// claude models. Any failure falls back to the static list.
func (a *Anthropic) ListModels(ctx context.Context) []string {
	if a.apiKey == "" {
		return a.fallback
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return a.fallback
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return a.fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return a.fallback
	}

	var list anthropicModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return a.fallback
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if strings.HasPrefix(strings.ToLower(m.ID), "claude") {
			models = append(models, m.ID)
		}
	}
	if len(models) == 0 {
		return a.fallback
	}
	return models
}
