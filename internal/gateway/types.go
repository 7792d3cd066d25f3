// Package gateway exposes the grounding pipeline over an OpenAI-compatible
// HTTP API.
package gateway

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/citations"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
)

// ChatCompletionRequest is an OpenAI-compatible chat completion request.
// top_k is a Gemini extension.
type ChatCompletionRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Stream      bool             `json:"stream,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"` // Pointer to distinguish 0 from unset
	TopP        *float64         `json:"top_p,omitempty"`
	TopK        *float64         `json:"top_k,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	User        string           `json:"user,omitempty"`
	// Title marks a chat-title request; only the latest user turn is sent.
	Title bool `json:"title,omitempty"`
}

// ChatCompletionResponse is a non-streaming response.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	// Sources lists the reconciled citations, numbered as in the text.
	Sources []string `json:"sources,omitempty"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int             `json:"index"`
	Message      *models.Message `json:"message,omitempty"` // non-streaming
	Delta        *ChatDelta      `json:"delta,omitempty"`   // streaming
	FinishReason *string         `json:"finish_reason"`
}

// ChatDelta is incremental content in a streaming response.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChatCompletionChunk is one streaming chunk.
type ChatCompletionChunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"` // "chat.completion.chunk"
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// ModelObject is a model in the /v1/models response.
type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // "model"
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
	Name    string `json:"name,omitempty"`
}

// ModelsResponse is the /v1/models response.
type ModelsResponse struct {
	Object string        `json:"object"` // "list"
	Data   []ModelObject `json:"data"`
}

// FilterRequest is the body of the inlet and outlet hooks.
type FilterRequest struct {
	Model    string           `json:"model"`
	Messages []models.Message `json:"messages"`
	User     *models.User     `json:"user,omitempty"`
}

// FilterResponse returns the (possibly rewritten) conversation.
type FilterResponse struct {
	Model       string                 `json:"model,omitempty"`
	Messages    []models.Message       `json:"messages"`
	Sources     []string               `json:"sources,omitempty"`
	Diagnostics []citations.Diagnostic `json:"diagnostics,omitempty"`
}

// ErrorResponse is an OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// NewErrorResponse creates a new error response.
func NewErrorResponse(message, errType, code string) *ErrorResponse {
	return &ErrorResponse{Error: ErrorDetail{Message: message, Type: errType, Code: code}}
}

// Error types matching OpenAI's taxonomy.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAuthentication = "authentication_error"
	ErrorTypeRateLimit      = "rate_limit_error"
	ErrorTypeServer         = "server_error"
)

// Error codes.
const (
	ErrorCodeInvalidRequest    = "invalid_request"
	ErrorCodeInvalidAPIKey     = "invalid_api_key"
	ErrorCodeModelNotFound     = "model_not_found"
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrorCodeUpstream          = "upstream_error"
	ErrorCodeInternalError     = "internal_error"
)

// GenerateCompletionID generates a unique completion ID.
func GenerateCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func stopReason() *string {
	s := "stop"
	return &s
}
