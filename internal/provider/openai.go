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

var defaultOpenAIModels = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4.1",
	"gpt-4.1-mini",
	"o3-mini",
}

// OpenAI is an adapter for the OpenAI chat completions API and
// compatible servers.
type OpenAI struct {
	name     string
	baseURL  string
	apiKey   string
	timeout  time.Duration
	fallback []string
	client   *http.Client
}

// NewOpenAI creates a new OpenAI adapter. A zero timeout selects
// DefaultTimeout; a nil fallback selects the built-in model list.
func NewOpenAI(name, baseURL, apiKey string, timeout time.Duration, fallback []string) *OpenAI {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if len(fallback) == 0 {
		fallback = defaultOpenAIModels
	}
	return &OpenAI{
		name:     name,
		baseURL:  baseURL,
		apiKey:   apiKey,
		timeout:  timeout,
		fallback: fallback,
		client:   newHTTPClient(),
	}
}

func (o *OpenAI) Name() string { return o.name }

func (o *OpenAI) Available() bool { return o.apiKey != "" }

// FallbackModels returns the static model list without any I/O.
func (o *OpenAI) FallbackModels() []string { return o.fallback }

type openaiRequest struct {
	Model            string              `json:"model"`
	Messages         []model.Message     `json:"messages"`
	Temperature      *float64            `json:"temperature,omitempty"`
	TopP             *float64            `json:"top_p,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
	FrequencyPenalty *float64            `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64            `json:"presence_penalty,omitempty"`
	Stream           bool                `json:"stream,omitempty"`
	StreamOptions    *openaiStreamOption `json:"stream_options,omitempty"`
}

type openaiStreamOption struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      model.Message `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage,omitempty"`
}

func (u *openaiUsage) toModel() *model.Usage {
	if u == nil {
		return nil
	}
	return &model.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (o *OpenAI) convertRequest(messages []model.Message, opts model.ChatOptions, stream bool) *openaiRequest {
	req := &openaiRequest{
		Model:            opts.Model,
		Messages:         messages,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		MaxTokens:        opts.MaxTokens,
		FrequencyPenalty: opts.FrequencyPenalty,
		PresencePenalty:  opts.PresencePenalty,
		Stream:           stream,
	}
	if stream {
		req.StreamOptions = &openaiStreamOption{IncludeUsage: true}
	}
	return req
}

// send issues one chat completions call. Non-2xx responses are read,
// closed and returned as a VendorError.
func (o *OpenAI) send(ctx context.Context, messages []model.Message, opts model.ChatOptions, stream bool) (*http.Response, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(o.convertRequest(messages, opts, stream)); err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, vendorError(o.name, resp.StatusCode, body)
	}
	return resp, nil
}

// sendWithRetry applies the single unsupported-parameter retry.
func (o *OpenAI) sendWithRetry(ctx context.Context, messages []model.Message, opts model.ChatOptions, stream bool) (*http.Response, error) {
	resp, err := o.send(ctx, messages, opts, stream)
	if err != nil {
		if param, ok := retryableParam(err); ok {
			return o.send(ctx, messages, withoutParam(opts, param), stream)
		}
	}
	return resp, err
}

// Chat sends a non-streaming chat completion request.
func (o *OpenAI) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.Response, error) {
	if err := validateChat(messages, opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.sendWithRetry(ctx, messages, opts, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var or openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := &model.Response{
		Model: or.Model,
		Usage: or.Usage.toModel(),
	}
	if out.Model == "" {
		out.Model = opts.Model
	}
	if len(or.Choices) > 0 {
		out.Content = or.Choices[0].Message.Content
		out.FinishReason = or.Choices[0].FinishReason
	}
	return out, nil
}

// ChatStream sends a streaming chat completion request, decoding SSE
// data lines into chunks as they arrive.
func (o *OpenAI) ChatStream(ctx context.Context, messages []model.Message, opts model.ChatOptions, onChunk model.ChunkHandler) error {
	if err := validateChat(messages, opts); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	onChunk(model.StartChunk())

	resp, err := o.sendWithRetry(ctx, messages, opts, true)
	if err != nil {
		onChunk(model.ErrorChunk(err))
		return nil
	}
	defer resp.Body.Close()

	var usage *model.Usage
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := line[len(dataPrefix):]
		if bytes.Equal(data, doneMarker) {
			onChunk(model.EndChunk(usage))
			return nil
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed fragments rather than aborting the stream.
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage.toModel()
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			c := model.TextChunk(chunk.Choices[0].Delta.Content)
			c.Usage = usage
			onChunk(c)
		}
	}

	if err := scanner.Err(); err != nil {
		onChunk(model.ErrorChunk(&aierr.StreamError{Provider: o.name, Cause: err}))
		return nil
	}

	// EOF without [DONE] still counts as graceful completion.
	onChunk(model.EndChunk(usage))
	return nil
}

type openaiModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Model families excluded from the chat catalog: embeddings, audio,
// image, video, moderation and fine-tune/legacy variants.
var openaiExcluded = []string{
	"embedding", "embed", "whisper", "tts", "audio", "dall-e",
	"image", "video", "moderation", "realtime", "transcribe",
	"davinci", "babbage", "instruct", "ft:",
}

func openaiChatCapable(id string) bool {
	lower := strings.ToLower(id)
	for _, ex := range openaiExcluded {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	return strings.HasPrefix(lower, "gpt-") ||
		strings.HasPrefix(lower, "chatgpt-") ||
		strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") ||
		strings.HasPrefix(lower, "o4")
}

// ListModels queries the vendor catalog. Any failure falls back to
// the static list so model selection keeps working offline.
func (o *OpenAI) ListModels(ctx context.Context) []string {
	if o.apiKey == "" {
		return o.fallback
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/models", nil)
	if err != nil {
		return o.fallback
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return o.fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return o.fallback
	}

	var list openaiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return o.fallback
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		if openaiChatCapable(m.ID) {
			models = append(models, m.ID)
		}
	}
	if len(models) == 0 {
		return o.fallback
	}
	return models
}
