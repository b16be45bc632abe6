// Package normalize repairs loosely-typed inbound message payloads
// into the canonical message list the router consumes. Callers send
// messages shaped by several UI generations, so content may live
// under content, message, content.parts, content.text or text.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/promptcanvas/aibridge/internal/model"
)

// Messages converts an arbitrary list of inbound message objects into
// canonical messages. Malformed entries degrade to an empty message
// and are dropped; the function never panics and the output is never
// longer than the input.
func Messages(raw []any) []model.Message {
	out := make([]model.Message, 0, len(raw))
	for _, entry := range raw {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		content := strings.TrimSpace(resolveContent(obj))
		if content == "" {
			continue
		}
		out = append(out, model.Message{
			Role:    resolveRole(obj),
			Content: content,
		})
	}
	return out
}

func resolveRole(obj map[string]any) string {
	role, _ := obj["role"].(string)
	switch role {
	case model.RoleSystem, model.RoleUser, model.RoleAssistant:
		return role
	default:
		return model.RoleUser
	}
}

// resolveContent tries each known content shape in order; first match
// wins.
func resolveContent(obj map[string]any) string {
	if s, ok := obj["content"].(string); ok {
		return s
	}
	if s, ok := obj["message"].(string); ok {
		return s
	}
	if inner, ok := obj["content"].(map[string]any); ok {
		if parts, ok := inner["parts"].([]any); ok {
			return joinParts(parts, "")
		}
	}
	if parts, ok := obj["content"].([]any); ok {
		return joinParts(parts, "\n")
	}
	if inner, ok := obj["content"].(map[string]any); ok {
		if s, ok := inner["text"].(string); ok {
			return s
		}
	}
	if s, ok := obj["text"].(string); ok {
		return s
	}
	return ""
}

// joinParts concatenates parts with the given separator, stringifying
// non-string parts as JSON.
func joinParts(parts []any, sep string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteString(sep)
		}
		if s, ok := part.(string); ok {
			b.WriteString(s)
			continue
		}
		data, err := json.Marshal(part)
		if err != nil {
			continue
		}
		b.Write(data)
	}
	return b.String()
}
