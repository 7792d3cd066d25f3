package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/gemini"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/ratelimit"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/tracing"
)

const maxBodyBytes = 8 << 20

// Generator streams provider chunks for a request.
type Generator interface {
	Stream(ctx context.Context, req gemini.Request) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Handler serves the OpenAI-compatible endpoints and the filter hooks.
type Handler struct {
	gen       Generator
	pipeline  *citations.Pipeline
	registry  *gemini.Registry
	logger    *zap.Logger
	heartbeat time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeat overrides the SSE keepalive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) { h.heartbeat = d }
}

// NewHandler creates the gateway handler.
func NewHandler(gen Generator, pipeline *citations.Pipeline, registry *gemini.Registry, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{gen: gen, pipeline: pipeline, registry: registry, logger: logger, heartbeat: HeartbeatInterval}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the API routes on mux, each wrapped by wrap when non-nil.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("POST /v1/chat/completions", wrap(http.HandlerFunc(h.ChatCompletions)))
	mux.Handle("POST /v1/filter/inlet", wrap(http.HandlerFunc(h.Inlet)))
	mux.Handle("POST /v1/filter/outlet", wrap(http.HandlerFunc(h.Outlet)))
	mux.Handle("GET /v1/models", wrap(http.HandlerFunc(h.ListModels)))
}

// ChatCompletions handles POST /v1/chat/completions
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(tracing.ExtractHTTP(r), "gateway.chat_completions")
	defer span.End()

	var req ChatCompletionRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), ErrorTypeInvalidRequest, ErrorCodeInvalidRequest, http.StatusBadRequest)
		return
	}

	model := req.Model
	if model == "" {
		model = h.registry.DefaultModel()
	}
	model = gemini.NormalizeModel(model)
	metrics := NewMetricsRecorder(model, "chat_completions", req.Stream)
	span.SetAttributes(attribute.String("gateway.model", model), attribute.Bool("gateway.stream", req.Stream))

	if err := gemini.ValidateModel(model); err != nil {
		tracing.RecordError(span, err)
		h.handleError(w, err, metrics)
		return
	}

	user := requestUser(ctx, req.User)
	messages, err := h.pipeline.Inlet(ctx, model, req.Messages, user)
	if err != nil {
		tracing.RecordError(span, err)
		h.handleError(w, err, metrics)
		return
	}

	fragments := citations.Annotate(h.gen.Stream(ctx, h.generationRequest(model, messages, &req)))

	h.logger.Info("Chat completion started",
		zap.String("model", model),
		zap.String("user_id", user.IDOrDefault()),
		zap.Int("messages", len(messages)),
		zap.Bool("stream", req.Stream))

	if req.Stream {
		streamer := NewStreamer(h.logger, model, metrics, h.heartbeat)
		err := streamer.Stream(ctx, w, fragments)
		switch {
		case err == nil:
			metrics.RecordSuccess()
		case errors.Is(err, ErrStreamNotStarted):
			tracing.RecordError(span, err)
			h.handleError(w, err, metrics)
		case errors.Is(err, context.Canceled):
			h.logger.Debug("Client disconnected", zap.String("completion_id", streamer.CompletionID()))
		default:
			tracing.RecordError(span, err)
			metrics.RecordStreamError(errorReason(err))
			metrics.RecordError(ErrorTypeServer, ErrorCodeUpstream)
		}
		return
	}

	text, err := citations.Collect(fragments)
	if err != nil {
		tracing.RecordError(span, err)
		h.handleError(w, err, metrics)
		return
	}

	conversation := append(append([]models.Message(nil), messages...), models.Message{Role: models.RoleAssistant, Content: text})
	out, res, err := h.pipeline.Outlet(ctx, conversation)
	if err != nil {
		// The raw tagged text is still a usable answer.
		h.logger.Warn("Returning unreconciled completion", zap.Error(err))
	}
	answer := out[len(out)-1]

	metrics.RecordSuccess()
	h.writeJSON(w, http.StatusOK, &ChatCompletionResponse{
		ID:      GenerateCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []Choice{{Index: 0, Message: &answer, FinishReason: stopReason()}},
		Sources: res.Sources,
	})
}

func (h *Handler) generationRequest(model string, messages []models.Message, req *ChatCompletionRequest) gemini.Request {
	greq := gemini.Request{
		Model:       model,
		Messages:    messages,
		Title:       req.Title,
		Temperature: toFloat32(req.Temperature),
		TopP:        toFloat32(req.TopP),
		TopK:        toFloat32(req.TopK),
		MaxTokens:   int32(min(req.MaxTokens, math.MaxInt32)),
		Stop:        req.Stop,
	}
	if greq.MaxTokens <= 0 {
		if cfg, err := h.registry.GetModel(model); err == nil && cfg.MaxTokensDefault > 0 {
			greq.MaxTokens = cfg.MaxTokensDefault
		}
	}
	return greq
}

// Inlet handles POST /v1/filter/inlet
func (h *Handler) Inlet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(tracing.ExtractHTTP(r), "gateway.inlet")
	defer span.End()

	var req FilterRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), ErrorTypeInvalidRequest, ErrorCodeInvalidRequest, http.StatusBadRequest)
		return
	}
	model := gemini.NormalizeModel(req.Model)
	metrics := NewMetricsRecorder(model, "inlet", false)

	user := req.User
	if u, ok := auth.UserFromContext(ctx); ok {
		user = u
	}
	messages, err := h.pipeline.Inlet(ctx, model, req.Messages, user)
	if err != nil {
		tracing.RecordError(span, err)
		h.handleError(w, err, metrics)
		return
	}
	metrics.RecordSuccess()
	h.writeJSON(w, http.StatusOK, &FilterResponse{Model: req.Model, Messages: messages})
}

// Outlet handles POST /v1/filter/outlet
func (h *Handler) Outlet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(tracing.ExtractHTTP(r), "gateway.outlet")
	defer span.End()

	var req FilterRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.sendError(w, fmt.Sprintf("Invalid request body: %v", err), ErrorTypeInvalidRequest, ErrorCodeInvalidRequest, http.StatusBadRequest)
		return
	}
	metrics := NewMetricsRecorder(gemini.NormalizeModel(req.Model), "outlet", false)

	messages, res, err := h.pipeline.Outlet(ctx, req.Messages)
	if err != nil {
		tracing.RecordError(span, err)
		h.handleError(w, err, metrics)
		return
	}
	metrics.RecordSuccess()
	h.writeJSON(w, http.StatusOK, &FilterResponse{
		Model:       req.Model,
		Messages:    messages,
		Sources:     res.Sources,
		Diagnostics: res.Diagnostics,
	})
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	list := h.registry.ListModels()
	resp := ModelsResponse{Object: "list", Data: make([]ModelObject, 0, len(list))}
	for _, m := range list {
		resp.Data = append(resp.Data, ModelObject{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: "google",
			Name:    m.Name,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleError maps pipeline and provider errors onto the error envelope.
func (h *Handler) handleError(w http.ResponseWriter, err error, metrics *MetricsRecorder) {
	var limitErr *ratelimit.LimitError
	var provErr *gemini.ProviderError

	switch {
	case errors.Is(err, gemini.ErrInvalidModel):
		metrics.RecordError(ErrorTypeInvalidRequest, ErrorCodeModelNotFound)
		h.sendError(w, fmt.Sprintf("Invalid model name format: %s", metrics.model), ErrorTypeInvalidRequest, ErrorCodeModelNotFound, http.StatusBadRequest)

	case errors.Is(err, citations.ErrInvalidRole):
		metrics.RecordError(ErrorTypeInvalidRequest, ErrorCodeInvalidRequest)
		h.sendError(w, err.Error(), ErrorTypeInvalidRequest, ErrorCodeInvalidRequest, http.StatusBadRequest)

	case errors.Is(err, citations.ErrNoAssistantMessage), errors.Is(err, citations.ErrEmptySegment):
		metrics.RecordError(ErrorTypeInvalidRequest, ErrorCodeInvalidRequest)
		h.sendError(w, err.Error(), ErrorTypeInvalidRequest, ErrorCodeInvalidRequest, http.StatusUnprocessableEntity)

	case errors.Is(err, ratelimit.ErrRateLimited):
		metrics.RecordRateLimited()
		if errors.As(err, &limitErr) && limitErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limitErr.RetryAfter.Seconds()))))
		}
		h.sendError(w, ratelimit.Message, ErrorTypeRateLimit, ErrorCodeRateLimitExceeded, http.StatusTooManyRequests)

	case errors.As(err, &provErr):
		status := provErr.HTTPStatus()
		errType := ErrorTypeServer
		switch status {
		case http.StatusBadRequest:
			errType = ErrorTypeInvalidRequest
		case http.StatusTooManyRequests:
			errType = ErrorTypeRateLimit
		}
		metrics.RecordError(errType, string(provErr.Reason))
		h.sendError(w, provErr.Error(), errType, ErrorCodeUpstream, status)

	default:
		h.logger.Error("Request failed", zap.Error(err))
		metrics.RecordError(ErrorTypeServer, ErrorCodeInternalError)
		h.sendError(w, err.Error(), ErrorTypeServer, ErrorCodeInternalError, http.StatusInternalServerError)
	}
}

// sendError sends an OpenAI-compatible error response.
func (h *Handler) sendError(w http.ResponseWriter, message, errType, code string, httpStatus int) {
	h.writeJSON(w, httpStatus, NewErrorResponse(message, errType, code))
}

// SendAuthError is the rejection hook for the auth middleware.
func (h *Handler) SendAuthError(w http.ResponseWriter, _ error) {
	h.sendError(w, "Invalid API key", ErrorTypeAuthentication, ErrorCodeInvalidAPIKey, http.StatusUnauthorized)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// requestUser prefers the authenticated identity over the body's user field.
func requestUser(ctx context.Context, bodyUser string) *models.User {
	if u, ok := auth.UserFromContext(ctx); ok {
		return u
	}
	return &models.User{ID: bodyUser}
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func errorReason(err error) string {
	var pe *gemini.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Reason)
	}
	return "unknown"
}
