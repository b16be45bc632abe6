package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/promptcanvas/aibridge/internal/aierr"
	"github.com/promptcanvas/aibridge/internal/model"
)

// stubProvider satisfies Provider for registry tests.
type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return true }
func (s *stubProvider) FallbackModels() []string {
	return []string{s.name + "-model"}
}
func (s *stubProvider) ListModels(ctx context.Context) []string {
	return s.FallbackModels()
}
func (s *stubProvider) Chat(ctx context.Context, messages []model.Message, opts model.ChatOptions) (*model.Response, error) {
	return &model.Response{Content: "ok", Model: opts.Model}, nil
}
func (s *stubProvider) ChatStream(ctx context.Context, messages []model.Message, opts model.ChatOptions, onChunk model.ChunkHandler) error {
	onChunk(model.StartChunk())
	onChunk(model.EndChunk(nil))
	return nil
}

func TestRegistry_ResolveByName(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "anthropic"})

	p, err := r.Resolve("anthropic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("expected anthropic, got %s", p.Name())
	}
}

func TestRegistry_FirstRegisteredIsDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "google"})

	p, err := r.Resolve("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("expected default openai, got %s", p.Name())
	}
}

func TestRegistry_SetDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "google"})

	if err := r.SetDefault("google"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := r.Resolve("")
	if p.Name() != "google" {
		t.Errorf("expected default google, got %s", p.Name())
	}

	if err := r.SetDefault("missing"); err == nil {
		t.Error("expected error for unknown default")
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})

	_, err := r.Resolve("nope")
	var upe *aierr.UnknownProviderError
	if !errors.As(err, &upe) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}
	if upe.Name != "nope" {
		t.Errorf("expected name nope, got %q", upe.Name)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "anthropic"})

	names := r.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("expected sorted [anthropic openai], got %v", names)
	}
}
