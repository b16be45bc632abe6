package model

// Message roles understood by this layer.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a canonical chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries per-call sampling parameters.
// Model is required; the rest are optional and omitted from vendor
// requests when nil.
type ChatOptions struct {
	Model            string   `json:"model"`
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	FrequencyPenalty *float64 `json:"frequencyPenalty,omitempty"`
	PresencePenalty  *float64 `json:"presencePenalty,omitempty"`
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is the canonical shape of a non-streaming chat completion.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Usage        *Usage `json:"usage,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// ChunkType tags a StreamChunk variant.
type ChunkType string

const (
	ChunkStart ChunkType = "start"
	ChunkText  ChunkType = "text"
	ChunkEnd   ChunkType = "end"
	ChunkError ChunkType = "error"
)

// StreamChunk is one element of a streamed chat completion. A stream
// is a finite ordered sequence: exactly one start chunk first, zero or
// more text chunks, then exactly one terminal end or error chunk.
// Usage, when present, is cumulative for the call so far.
type StreamChunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
	Usage   *Usage    `json:"usage,omitempty"`
}

// Terminal reports whether the chunk ends its stream.
func (c StreamChunk) Terminal() bool {
	return c.Type == ChunkEnd || c.Type == ChunkError
}

// StartChunk returns the opening chunk of a stream.
func StartChunk() StreamChunk {
	return StreamChunk{Type: ChunkStart}
}

// TextChunk returns an incremental content chunk.
func TextChunk(content string) StreamChunk {
	return StreamChunk{Type: ChunkText, Content: content}
}

// EndChunk returns the graceful terminal chunk.
func EndChunk(usage *Usage) StreamChunk {
	return StreamChunk{Type: ChunkEnd, Usage: usage}
}

// ErrorChunk returns the failure terminal chunk.
func ErrorChunk(err error) StreamChunk {
	return StreamChunk{Type: ChunkError, Error: err.Error()}
}

// ChunkHandler receives stream chunks in decode order.
type ChunkHandler func(StreamChunk)

// ErrorResponse is the wire shape of an HTTP error.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail holds error information.
type ErrorDetail struct {
	Message           string `json:"message"`
	Type              string `json:"type"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}
