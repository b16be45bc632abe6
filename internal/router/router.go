// Package router dispatches canonical chat calls to the registered
// provider adapters, gating every call on the per-user rate limiter
// and recording usage after completion.
package router

import (
	"context"
	"log/slog"

	"github.com/promptcanvas/aibridge/internal/aierr"
	"github.com/promptcanvas/aibridge/internal/catalog"
	"github.com/promptcanvas/aibridge/internal/metrics"
	"github.com/promptcanvas/aibridge/internal/model"
	"github.com/promptcanvas/aibridge/internal/provider"
	"github.com/promptcanvas/aibridge/internal/ratelimit"
)

// Router resolves a provider, enforces the rate limiter before
// dispatch and tracks usage after completion.
type Router struct {
	registry *provider.Registry
	limiter  *ratelimit.Limiter
	catalog  *catalog.Cache
	logger   *slog.Logger
}

// New creates a router over the given registry and limiter. The
// catalog cache may be nil to disable model-list caching.
func New(registry *provider.Registry, limiter *ratelimit.Limiter, cat *catalog.Cache, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		limiter:  limiter,
		catalog:  cat,
		logger:   logger,
	}
}

// Chat dispatches a non-streaming chat call for a user. Rate-limited
// calls fail with a RateLimitError and never reach the adapter.
func (rt *Router) Chat(ctx context.Context, user string, messages []model.Message, opts model.ChatOptions, providerName string) (*model.Response, error) {
	p, err := rt.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	if st := rt.limiter.CheckLimit(user); st.Limited {
		metrics.ChatRequestsTotal.WithLabelValues(p.Name(), "rate_limited").Inc()
		rt.logger.Warn("rate limit exceeded",
			"user", user,
			"provider", p.Name(),
			"next_available_in", st.NextAvailableIn.String(),
		)
		return nil, &aierr.RateLimitError{NextAvailableIn: st.NextAvailableIn}
	}

	resp, err := p.Chat(ctx, messages, opts)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
		return nil, err
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	rt.recordUsage(ctx, user, tokens)
	metrics.ChatRequestsTotal.WithLabelValues(p.Name(), "ok").Inc()
	return resp, nil
}

// ChatStream dispatches a streaming chat call. Rate-limited calls
// produce a single synthesized error chunk and never reach the
// adapter. The latest cumulative usage seen across chunks is recorded
// once after the stream ends.
func (rt *Router) ChatStream(ctx context.Context, user string, messages []model.Message, opts model.ChatOptions, onChunk model.ChunkHandler, providerName string) error {
	p, err := rt.registry.Resolve(providerName)
	if err != nil {
		return err
	}

	if st := rt.limiter.CheckLimit(user); st.Limited {
		metrics.ChatRequestsTotal.WithLabelValues(p.Name(), "rate_limited").Inc()
		rt.logger.Warn("rate limit exceeded",
			"user", user,
			"provider", p.Name(),
			"next_available_in", st.NextAvailableIn.String(),
		)
		onChunk(model.ErrorChunk(&aierr.RateLimitError{NextAvailableIn: st.NextAvailableIn}))
		return nil
	}

	totalTokens := 0
	failed := false
	wrapped := func(c model.StreamChunk) {
		if c.Usage != nil {
			totalTokens = c.Usage.TotalTokens
		}
		if c.Type == model.ChunkError {
			failed = true
		}
		metrics.StreamChunksTotal.Inc()
		onChunk(c)
	}

	if err := p.ChatStream(ctx, messages, opts, wrapped); err != nil {
		// Pre-stream failure (validation), nothing emitted, no quota.
		metrics.ChatRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
		return err
	}

	rt.recordUsage(ctx, user, totalTokens)
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	metrics.ChatRequestsTotal.WithLabelValues(p.Name(), outcome).Inc()
	return nil
}

// ListModels returns the provider's chat-capable model catalog,
// served from the cache when fresh.
func (rt *Router) ListModels(ctx context.Context, providerName string) ([]string, error) {
	p, err := rt.registry.Resolve(providerName)
	if err != nil {
		return nil, err
	}

	if rt.catalog != nil {
		if models, ok := rt.catalog.Get(p.Name()); ok {
			return models, nil
		}
	}
	models := p.ListModels(ctx)
	if rt.catalog != nil {
		rt.catalog.Put(p.Name(), models)
	}
	return models, nil
}

// Providers returns the registered provider names.
func (rt *Router) Providers() []string {
	return rt.registry.Names()
}

// recordUsage charges the user's quota once per completed call. A
// cancelled call consumes no quota.
func (rt *Router) recordUsage(ctx context.Context, user string, tokens int) {
	if ctx.Err() != nil {
		return
	}
	rt.limiter.RecordRequest(user, tokens)
	if tokens > 0 {
		metrics.TokensRecordedTotal.Add(float64(tokens))
	}
	metrics.TrackedUsers.Set(float64(rt.limiter.UserCount()))
}
