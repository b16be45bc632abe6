package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/promptcanvas/aibridge/internal/aierr"
	"github.com/promptcanvas/aibridge/internal/model"
)

// DefaultTimeout bounds every outbound vendor call unless configured
// otherwise.
const DefaultTimeout = 30 * time.Second

// Provider is the capability set every vendor adapter implements.
type Provider interface {
	// Name returns the provider's identifier.
	Name() string
	// Available reports whether the adapter holds a credential.
	Available() bool
	// Chat sends a non-streaming chat completion request.
	Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.Response, error)
	// ChatStream sends a streaming chat completion request. After
	// validation passes it always delivers exactly one start chunk,
	// zero or more text chunks and one terminal end or error chunk to
	// onChunk, and returns nil.
	ChatStream(ctx context.Context, messages []model.Message, opts model.ChatOptions, onChunk model.ChunkHandler) error
	// ListModels queries the vendor catalog, filtered to
	// chat-capable models. Any failure yields the fallback list.
	ListModels(ctx context.Context) []string
	// FallbackModels returns the static built-in model list.
	FallbackModels() []string
}

// Registry maps provider names to adapters, with one designated
// default. Registration is explicit; deployments register only the
// adapters they hold credentials for.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	defaultName string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under its name. The first registered
// provider becomes the default until SetDefault overrides it.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) == 0 {
		r.defaultName = p.Name()
	}
	r.providers[p.Name()] = p
}

// SetDefault designates the default provider.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return &aierr.UnknownProviderError{Name: name}
	}
	r.defaultName = name
	return nil
}

// Resolve returns the named provider, or the default when name is
// empty.
func (r *Registry) Resolve(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, &aierr.UnknownProviderError{Name: name}
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

var (
	dataPrefix = []byte("data: ")
	doneMarker = []byte("[DONE]")
)

// newHTTPClient builds the shared transport tuning used by all
// adapters.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		DisableCompression:  true,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 1000,
		IdleConnTimeout:     90 * time.Second,
		WriteBufferSize:     32 << 10,
		ReadBufferSize:      32 << 10,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Transport: transport}
}

// validateChat runs the shared precondition checks. It is identical
// for every adapter and runs before any network call.
func validateChat(messages []model.Message, opts model.ChatOptions) error {
	if len(messages) == 0 {
		return &aierr.ValidationError{Field: "messages", Reason: "must not be empty"}
	}
	for i, m := range messages {
		if m.Role == "" {
			return &aierr.ValidationError{Field: "messages", Reason: fmt.Sprintf("missing role at index %d", i)}
		}
		if m.Content == "" {
			return &aierr.ValidationError{Field: "messages", Reason: fmt.Sprintf("missing content at index %d", i)}
		}
	}
	if opts.Model == "" {
		return &aierr.ValidationError{Field: "model", Reason: "is required"}
	}
	if opts.Temperature != nil && (*opts.Temperature < 0 || *opts.Temperature > 2) {
		return &aierr.ValidationError{Field: "temperature", Reason: "must be between 0 and 2"}
	}
	if opts.MaxTokens != nil && *opts.MaxTokens < 1 {
		return &aierr.ValidationError{Field: "maxTokens", Reason: "must be at least 1"}
	}
	return nil
}

type vendorErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// vendorError builds a VendorError from a non-2xx response body,
// preferring the vendor-reported message when the body parses.
func vendorError(provider string, status int, body []byte) *aierr.VendorError {
	msg := strings.TrimSpace(string(body))
	var parsed vendorErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &aierr.VendorError{Provider: provider, StatusCode: status, Message: msg}
}

// Sampling parameters some models fix to their defaults. When a
// vendor rejects one, the adapter retries once with it omitted.
var samplingParams = []string{
	"temperature",
	"top_p",
	"frequency_penalty",
	"presence_penalty",
}

// retryableParam reports which sampling parameter a vendor error
// names as unsupported, if any. Only this failure mode is retried.
func retryableParam(err error) (string, bool) {
	var ve *aierr.VendorError
	if !errors.As(err, &ve) {
		return "", false
	}
	lower := strings.ToLower(ve.Message)
	mentioned := strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "not supported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "only the default")
	if !mentioned {
		return "", false
	}
	for _, p := range samplingParams {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// withoutParam returns a copy of opts with the named sampling
// parameter cleared.
func withoutParam(opts model.ChatOptions, param string) model.ChatOptions {
	switch param {
	case "temperature":
		opts.Temperature = nil
	case "top_p":
		opts.TopP = nil
	case "frequency_penalty":
		opts.FrequencyPenalty = nil
	case "presence_penalty":
		opts.PresencePenalty = nil
	}
	return opts
}
