package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/promptcanvas/aibridge/internal/model"
)

// Counter estimates token counts for chat messages. OpenAI-family
// models use a real tiktoken encoding; other vendors fall back to a
// len/4 heuristic, which is close enough for logging and quota
// bookkeeping.
type Counter struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewCounter creates a new token counter.
func NewCounter() *Counter {
	return &Counter{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// modelEncoding maps model-name prefixes to tiktoken encoding names.
// Anthropic and Gemini models have no public tokenizer, so they are
// absent and take the heuristic path.
var modelEncoding = map[string]string{
	"gpt-5":    "o200k_base",
	"gpt-4o":   "o200k_base",
	"gpt-4.1":  "o200k_base",
	"chatgpt-": "o200k_base",
	"o1":       "o200k_base",
	"o3":       "o200k_base",
	"o4":       "o200k_base",
	"gpt-4":    "cl100k_base",
	"gpt-3.5":  "cl100k_base",
}

func encodingForModel(modelName string) string {
	// Longest prefix wins so gpt-4o is not claimed by gpt-4.
	best, bestLen := "", 0
	for prefix, enc := range modelEncoding {
		if strings.HasPrefix(modelName, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

func (c *Counter) getEncoding(modelName string) *tiktoken.Tiktoken {
	encName := encodingForModel(modelName)
	if encName == "" {
		return nil
	}

	c.mu.RLock()
	enc, ok := c.encodings[encName]
	c.mu.RUnlock()
	if ok {
		return enc
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if enc, ok := c.encodings[encName]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(encName)
	if err != nil {
		return nil
	}
	c.encodings[encName] = enc
	return enc
}

// CountMessages estimates the token count for a conversation. Uses
// tiktoken when the model has a known encoding, falls back to len/4.
func (c *Counter) CountMessages(modelName string, messages []model.Message) int {
	enc := c.getEncoding(modelName)
	if enc == nil {
		return c.fallbackCount(messages)
	}

	// Per-message framing overhead per the OpenAI chat format:
	// <|im_start|>{role}\n{content}<|im_end|>\n
	tokensPerMessage := 3
	tokens := 0
	for _, msg := range messages {
		tokens += tokensPerMessage
		tokens += len(enc.Encode(msg.Role, nil, nil))
		tokens += len(enc.Encode(msg.Content, nil, nil))
	}
	tokens += 3 // reply primed with <|im_start|>assistant<|message|>
	return tokens
}

// CountText estimates the token count for a single text string.
func (c *Counter) CountText(modelName string, text string) int {
	enc := c.getEncoding(modelName)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// QuickEstimate returns a fast len/4 estimate without tiktoken, for
// hot paths that only need a rough number.
func (c *Counter) QuickEstimate(messages []model.Message) int {
	return c.fallbackCount(messages)
}

func (c *Counter) fallbackCount(messages []model.Message) int {
	total := 0
	for _, msg := range messages {
		total += len(msg.Content) / 4
	}
	return total
}
