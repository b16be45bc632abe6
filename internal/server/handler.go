package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/promptcanvas/aibridge/internal/aierr"
	"github.com/promptcanvas/aibridge/internal/model"
	"github.com/promptcanvas/aibridge/internal/normalize"
	"github.com/promptcanvas/aibridge/internal/router"
	"github.com/promptcanvas/aibridge/internal/sse"
	"github.com/promptcanvas/aibridge/internal/tokenizer"
)

// Handler serves the chat and catalog endpoints.
type Handler struct {
	router  *router.Router
	counter *tokenizer.Counter
	logger  *slog.Logger
}

// NewHandler creates a new request handler.
func NewHandler(rt *router.Router, counter *tokenizer.Counter, logger *slog.Logger) *Handler {
	return &Handler{
		router:  rt,
		counter: counter,
		logger:  logger,
	}
}

// RegisterRoutes registers all HTTP routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/chat", h.handleChat)
	mux.HandleFunc("GET /v1/providers/{provider}/models", h.handleModels)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

// chatRequest is the wire shape of POST /v1/chat. Messages arrive as
// raw JSON values and go through the normalizer, so loosely shaped
// front-end payloads are accepted.
type chatRequest struct {
	Messages []any             `json:"messages"`
	Options  model.ChatOptions `json:"options"`
	Stream   bool              `json:"stream"`
	UserID   string            `json:"userId"`
	Provider string            `json:"provider"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var chatReq chatRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "Failed to parse request body: "+err.Error())
		return
	}

	if chatReq.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "userId is required")
		return
	}

	messages := normalize.Messages(chatReq.Messages)

	if chatReq.Stream {
		h.handleStreaming(w, r, chatReq, messages)
	} else {
		h.handleNonStreaming(w, r, chatReq, messages)
	}
}

func (h *Handler) handleNonStreaming(w http.ResponseWriter, r *http.Request, chatReq chatRequest, messages []model.Message) {
	resp, err := h.router.Chat(r.Context(), chatReq.UserID, messages, chatReq.Options, chatReq.Provider)
	if err != nil {
		h.writeChatError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Model", resp.Model)
	if resp.Usage != nil {
		w.Header().Set("X-Tokens-Total", strconv.Itoa(resp.Usage.TotalTokens))
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write response", "error", err, "request_id", GetRequestID(r.Context()))
	}
}

func (h *Handler) handleStreaming(w http.ResponseWriter, r *http.Request, chatReq chatRequest, messages []model.Message) {
	sw := sse.NewWriter(w)
	// Upstream usage arrives late in the stream, so surface a fast
	// estimate up front.
	sw.SetHeader("X-Tokens-Input", strconv.Itoa(h.counter.QuickEstimate(messages)))

	wroteAny := false
	err := h.router.ChatStream(r.Context(), chatReq.UserID, messages, chatReq.Options, func(c model.StreamChunk) {
		wroteAny = true
		if werr := sse.WriteJSON(sw, c); werr != nil {
			h.logger.Warn("client write failed",
				"error", werr,
				"request_id", GetRequestID(r.Context()),
			)
		}
	}, chatReq.Provider)
	if err != nil {
		if !wroteAny {
			// Nothing on the wire yet; fall back to a plain error
			// response despite the SSE headers being set.
			h.writeChatError(w, r, err)
			return
		}
		h.logger.Error("stream failed mid-flight", "error", err, "request_id", GetRequestID(r.Context()))
		return
	}

	if derr := sw.Done(); derr != nil {
		h.logger.Warn("failed to terminate stream", "error", derr, "request_id", GetRequestID(r.Context()))
	}
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")

	models, err := h.router.ListModels(r.Context(), providerName)
	if err != nil {
		// The catalog endpoint never fails: serve an empty list so
		// front-end dropdowns degrade instead of breaking.
		h.logger.Warn("model listing failed", "provider", providerName, "error", err)
		models = []string{}
	}
	if models == nil {
		models = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string][]string{"models": models}); err != nil {
		h.logger.Error("failed to write model list", "error", err, "request_id", GetRequestID(r.Context()))
	}
}

// writeChatError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeChatError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  *aierr.ValidationError
		upe *aierr.UnknownProviderError
		rle *aierr.RateLimitError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
	case errors.As(err, &upe):
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
	case errors.As(err, &rle):
		retryAfter := rle.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(model.ErrorResponse{
			Error: model.ErrorDetail{
				Message:           err.Error(),
				Type:              "rate_limit_exceeded",
				RetryAfterSeconds: retryAfter,
			},
		})
	default:
		h.logger.Error("chat failed", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}
