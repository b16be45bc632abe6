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

var defaultGoogleModels = []string{
	"gemini-2.5-pro",
	"gemini-2.5-flash",
	"gemini-2.0-flash",
}

// Google is an adapter for the Gemini API.
type Google struct {
	name     string
	baseURL  string
	apiKey   string
	timeout  time.Duration
	fallback []string
	client   *http.Client
}

// NewGoogle creates a new Google (Gemini) adapter.
func NewGoogle(name, baseURL, apiKey string, timeout time.Duration, fallback []string) *Google {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if len(fallback) == 0 {
		fallback = defaultGoogleModels
	}
	return &Google{
		name:     name,
		baseURL:  baseURL,
		apiKey:   apiKey,
		timeout:  timeout,
		fallback: fallback,
		client:   newHTTPClient(),
	}
}

func (g *Google) Name() string { return g.name }

func (g *Google) Available() bool { return g.apiKey != "" }

func (g *Google) FallbackModels() []string { return g.fallback }

type geminiRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *geminiUsage `json:"usageMetadata,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func (u *geminiUsage) toModel() *model.Usage {
	if u == nil {
		return nil
	}
	return &model.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

// convertRequest maps canonical messages onto Gemini contents: system
// messages become systemInstruction and the assistant role is renamed
// to model.
func (g *Google) convertRequest(messages []model.Message, opts model.ChatOptions) *geminiRequest {
	gr := &geminiRequest{}

	var genConfig geminiGenerationConfig
	hasConfig := false
	if opts.Temperature != nil {
		genConfig.Temperature = opts.Temperature
		hasConfig = true
	}
	if opts.TopP != nil {
		genConfig.TopP = opts.TopP
		hasConfig = true
	}
	if opts.MaxTokens != nil {
		genConfig.MaxOutputTokens = opts.MaxTokens
		hasConfig = true
	}
	if opts.FrequencyPenalty != nil {
		genConfig.FrequencyPenalty = opts.FrequencyPenalty
		hasConfig = true
	}
	if opts.PresencePenalty != nil {
		genConfig.PresencePenalty = opts.PresencePenalty
		hasConfig = true
	}
	if hasConfig {
		gr.GenerationConfig = &genConfig
	}

	var system []geminiPart
	for _, msg := range messages {
		if msg.Role == model.RoleSystem {
			system = append(system, geminiPart{Text: msg.Content})
			continue
		}
		role := msg.Role
		if role == model.RoleAssistant {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	if len(system) > 0 {
		gr.SystemInstruction = &geminiSystemInstruction{Parts: system}
	}
	return gr
}

func (g *Google) chatURL(modelName string) string {
	return g.baseURL + "/models/" + modelName + ":generateContent?key=" + g.apiKey
}

func (g *Google) streamURL(modelName string) string {
	return g.baseURL + "/models/" + modelName + ":streamGenerateContent?alt=sse&key=" + g.apiKey
}

func geminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY":
		return "content_filter"
	default:
		return reason
	}
}

func (g *Google) send(ctx context.Context, url string, messages []model.Message, opts model.ChatOptions) (*http.Response, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)
	if err := json.NewEncoder(buf).Encode(g.convertRequest(messages, opts)); err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, vendorError(g.name, resp.StatusCode, body)
	}
	return resp, nil
}

func (g *Google) sendWithRetry(ctx context.Context, url string, messages []model.Message, opts model.ChatOptions) (*http.Response, error) {
	resp, err := g.send(ctx, url, messages, opts)
	if err != nil {
		if param, ok := retryableParam(err); ok {
			return g.send(ctx, url, messages, withoutParam(opts, param))
		}
	}
	return resp, err
}

// Chat sends a non-streaming chat completion request.
func (g *Google) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.Response, error) {
	if err := validateChat(messages, opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.sendWithRetry(ctx, g.chatURL(opts.Model), messages, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := &model.Response{
		Model: opts.Model,
		Usage: gr.UsageMetadata.toModel(),
	}
	if len(gr.Candidates) > 0 {
		cand := gr.Candidates[0]
		var content strings.Builder
		for _, part := range cand.Content.Parts {
			content.WriteString(part.Text)
		}
		out.Content = content.String()
		out.FinishReason = geminiFinishReason(cand.FinishReason)
	}
	return out, nil
}

// ChatStream sends a streaming chat completion request. Gemini has no
// end-of-stream sentinel; EOF is the graceful terminal condition.
func (g *Google) ChatStream(ctx context.Context, messages []model.Message, opts model.ChatOptions, onChunk model.ChunkHandler) error {
	if err := validateChat(messages, opts); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	onChunk(model.StartChunk())

	resp, err := g.sendWithRetry(ctx, g.streamURL(opts.Model), messages, opts)
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

		var gr geminiResponse
		if err := json.Unmarshal(data, &gr); err != nil {
			continue
		}
		if gr.UsageMetadata != nil {
			usage = gr.UsageMetadata.toModel()
		}
		if len(gr.Candidates) > 0 {
			var text strings.Builder
			for _, part := range gr.Candidates[0].Content.Parts {
				text.WriteString(part.Text)
			}
			if text.Len() > 0 {
				c := model.TextChunk(text.String())
				c.Usage = usage
				onChunk(c)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		onChunk(model.ErrorChunk(&aierr.StreamError{Provider: g.name, Cause: err}))
		return nil
	}

	onChunk(model.EndChunk(usage))
	return nil
}

type geminiModelList struct {
	Models []struct {
		Name                       string   `json:"name"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
}

// Gemini model families that never serve generateContent chat:
// embeddings, retrieval QA, image, video and speech models.
var geminiExcluded = []string{"embedding", "aqa", "imagen", "veo", "tts"}

func geminiChatCapable(name string, methods []string) bool {
	lower := strings.ToLower(name)
	for _, ex := range geminiExcluded {
		if strings.Contains(lower, ex) {
			return false
		}
	}
	for _, m := range methods {
		if m == "generateContent" {
			return true
		}
	}
	return false
}

// ListModels queries the vendor catalog. Any failure falls back to
// the static list.
func (g *Google) ListModels(ctx context.Context) []string {
	if g.apiKey == "" {
		return g.fallback
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/models?key="+g.apiKey, nil)
	if err != nil {
		return g.fallback
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.fallback
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return g.fallback
	}

	var list geminiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return g.fallback
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		if geminiChatCapable(m.Name, m.SupportedGenerationMethods) {
			models = append(models, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	if len(models) == 0 {
		return g.fallback
	}
	return models
}
