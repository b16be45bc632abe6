package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/promptcanvas/aibridge/internal/catalog"
	"github.com/promptcanvas/aibridge/internal/config"
	"github.com/promptcanvas/aibridge/internal/metrics"
	"github.com/promptcanvas/aibridge/internal/provider"
	"github.com/promptcanvas/aibridge/internal/ratelimit"
	"github.com/promptcanvas/aibridge/internal/router"
	"github.com/promptcanvas/aibridge/internal/server"
	"github.com/promptcanvas/aibridge/internal/tokenizer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if os.Getenv("AIBRIDGE_PPROF") == "1" {
		go func() {
			logger.Info("pprof enabled on :6060")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				logger.Error("pprof server error", "error", err)
			}
		}()
	}

	configPath := "config/config.yaml"
	if p := os.Getenv("AIBRIDGE_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		var p provider.Provider
		switch pc.Type {
		case "openai":
			p = provider.NewOpenAI(pc.Name, pc.BaseURL, pc.APIKey, pc.Timeout, pc.Fallback)
		case "anthropic":
			p = provider.NewAnthropic(pc.Name, pc.BaseURL, pc.APIKey, pc.Timeout, pc.Fallback)
		case "google":
			p = provider.NewGoogle(pc.Name, pc.BaseURL, pc.APIKey, pc.Timeout, pc.Fallback)
		default:
			// Unreachable after config validation.
			logger.Warn("unknown provider type, skipping", "type", pc.Type, "name", pc.Name)
			continue
		}
		registry.Register(p)
		logger.Info("registered provider", "name", pc.Name, "type", pc.Type, "configured", p.Available())
	}
	if err := registry.SetDefault(cfg.DefaultProvider); err != nil {
		logger.Error("failed to set default provider", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.Limits())
	defer limiter.Close()

	cat := catalog.New(cfg.CatalogCache.TTL, cfg.CatalogCache.MaxEntries)
	rt := router.New(registry, limiter, cat, logger)

	metrics.Register()

	handler := server.NewHandler(rt, tokenizer.NewCounter(), logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	wrapped := server.Chain(mux,
		server.RequestID,
		server.Logger(logger),
		server.Recovery(logger),
		server.CORS,
		metrics.Middleware,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           wrapped,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting aibridge", "port", cfg.Server.Port, "default_provider", cfg.DefaultProvider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}
