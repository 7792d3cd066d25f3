// Package gemini streams grounded completions from Gemini models on Vertex AI.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/tracing"
)

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	vertexAPIVersion   = "v1"
	modelPrefix        = "gemini-"

	defaultProbeModel = "gemini-2.0-flash-001"
	probePrompt       = "Please respond with 'hi' and nothing else."
)

// Generation defaults applied when the caller leaves a parameter unset.
const (
	DefaultTemperature float32 = 0.7
	DefaultTopP        float32 = 0.9
	DefaultTopK        float32 = 40
	DefaultMaxTokens   int32   = 8192
)

// Config holds client settings.
type Config struct {
	ProjectID string
	Region    string
	// CredentialsJSON is a service-account key. It selects the Vertex backend.
	CredentialsJSON string
	// APIKey selects the Gemini API backend when no service account is set.
	APIKey           string
	PermissiveSafety bool
	ProbeModel       string
}

// Request is one generation call.
type Request struct {
	Model    string
	Messages []models.Message
	// Title marks chat-title generation; only the latest user message is sent.
	Title          bool
	Temperature    *float32
	TopP           *float32
	TopK           *float32
	MaxTokens      int32
	Stop           []string
	SafetySettings []*genai.SafetySetting
}

type streamFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// Client wraps the genai SDK with request building, safety policy and error
// classification.
type Client struct {
	stream     streamFunc
	generate   generateFunc
	permissive bool
	probeModel string
	breaker    *circuitbreaker.Breaker
	logger     *zap.Logger
}

// NewClient authenticates and builds a client.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.CredentialsJSON != "":
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			CredentialsJSON: []byte(cfg.CredentialsJSON),
			Scopes:          []string{cloudPlatformScope},
		})
		if err != nil {
			return nil, fmt.Errorf("gemini: failed to load service account credentials: %w", err)
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.ProjectID
		cc.Location = cfg.Region
		cc.Credentials = creds
		cc.HTTPOptions = genai.HTTPOptions{APIVersion: vertexAPIVersion}
	case cfg.APIKey != "":
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	default:
		return nil, errors.New("gemini: no credentials configured (set VERTEX_API_KEY_JSON)")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	logger.Info("Gemini client created",
		zap.String("backend", cc.Backend.String()),
		zap.String("project", cfg.ProjectID),
		zap.String("region", cfg.Region))

	return newClient(client.Models.GenerateContentStream, client.Models.GenerateContent, cfg, logger), nil
}

func newClient(stream streamFunc, generate generateFunc, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := cfg.ProbeModel
	if probe == "" {
		probe = defaultProbeModel
	}
	return &Client{
		stream:     stream,
		generate:   generate,
		permissive: cfg.PermissiveSafety,
		probeModel: probe,
		breaker:    circuitbreaker.New("gemini", circuitbreaker.DefaultConfig(), logger),
		logger:     logger,
	}
}

// NormalizeModel strips a routing prefix such as "vertex.gemini-2.0-flash".
func NormalizeModel(id string) string {
	if i := strings.Index(id, "."+modelPrefix); i >= 0 {
		return id[i+1:]
	}
	return id
}

// ValidateModel rejects ids outside the Gemini family.
func ValidateModel(id string) error {
	if !strings.HasPrefix(id, modelPrefix) {
		return fmt.Errorf("%w: %s", ErrInvalidModel, id)
	}
	return nil
}

// Stream starts a grounded generation and yields the provider's chunks. The
// request is sent when iteration begins; stopping iteration cancels nothing
// already received but pulls no further chunks.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		model := NormalizeModel(req.Model)
		if err := ValidateModel(model); err != nil {
			yield(nil, err)
			return
		}
		contents, system, err := BuildContents(req.Messages, req.Title)
		if err != nil {
			yield(nil, &ProviderError{Reason: ReasonInvalidRequest, Model: model, Cause: err})
			return
		}

		done, err := c.breaker.Allow()
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(model, "rejected").Inc()
			yield(nil, &ProviderError{Reason: ReasonUnavailable, Model: model, Cause: err})
			return
		}
		healthy := true
		defer func() { done(healthy) }()

		ctx, span := tracing.StartSpan(ctx, "gemini.stream",
			attribute.String("gemini.model", model),
			attribute.Int("gemini.contents", len(contents)))
		defer span.End()

		chunks := 0
		for resp, err := range c.stream(ctx, model, contents, c.generationConfig(req, system)) {
			if err != nil {
				werr := wrapError(err, model)
				var pe *ProviderError
				healthy = !(errors.As(werr, &pe) && pe.Reason.IsRetryable() && pe.Reason != ReasonRateLimit)
				tracing.RecordError(span, werr)
				metrics.ProviderRequests.WithLabelValues(model, "error").Inc()
				c.logger.Warn("Gemini stream failed",
					zap.String("model", model),
					zap.Int("chunks", chunks),
					zap.Error(werr))
				yield(nil, werr)
				return
			}
			chunks++
			if !yield(resp, nil) {
				metrics.ProviderRequests.WithLabelValues(model, "cancelled").Inc()
				return
			}
		}
		span.SetAttributes(attribute.Int("gemini.chunks", chunks))
		metrics.ProviderRequests.WithLabelValues(model, "success").Inc()
	}
}

func (c *Client) generationConfig(req Request, system *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       genai.Ptr(DefaultTemperature),
		TopP:              genai.Ptr(DefaultTopP),
		TopK:              genai.Ptr(DefaultTopK),
		MaxOutputTokens:   DefaultMaxTokens,
		StopSequences:     req.Stop,
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = req.TopP
	}
	if req.TopK != nil {
		cfg.TopK = req.TopK
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = req.MaxTokens
	}
	if c.permissive {
		cfg.SafetySettings = PermissiveSafety()
	} else {
		cfg.SafetySettings = req.SafetySettings
	}
	return cfg
}

// PermissiveSafety disables blocking on the four configurable harm categories.
func PermissiveSafety() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHateSpeech,
		genai.HarmCategoryDangerousContent,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryHarassment,
	}
	out := make([]*genai.SafetySetting, len(categories))
	for i, cat := range categories {
		out[i] = &genai.SafetySetting{Category: cat, Threshold: genai.HarmBlockThresholdBlockNone}
	}
	return out
}

// Probe asks the probe model for a trivial answer to confirm credentials and
// connectivity.
func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.generate(ctx, c.probeModel,
		[]*genai.Content{genai.NewContentFromText(probePrompt, genai.RoleUser)},
		&genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0), TopP: genai.Ptr[float32](1)})
	if err != nil {
		return wrapError(err, c.probeModel)
	}
	if resp == nil || !strings.Contains(strings.ToLower(resp.Text()), "hi") {
		return fmt.Errorf("gemini: unexpected probe response from %s", c.probeModel)
	}
	c.logger.Info("Gemini client initialized successfully", zap.String("probe_model", c.probeModel))
	return nil
}
