package citations

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
	"github.com/Kocoro-lab/Shannon/go/grounding/internal/tracing"
)

var (
	// ErrNoAssistantMessage is returned by Outlet when there is nothing to reconcile.
	ErrNoAssistantMessage = errors.New("no assistant message in conversation")
	// ErrInvalidRole is returned for a message whose role is not recognised.
	ErrInvalidRole = errors.New("invalid message role")
)

// Limiter admits or rejects a request before generation.
type Limiter interface {
	Allow(ctx context.Context, userID, model string) error
}

// Pipeline wires the pre-generation and post-generation hooks.
type Pipeline struct {
	rewriter *Rewriter
	limiter  Limiter
	logger   *zap.Logger
}

// NewPipeline builds the hooks. limiter may be nil to admit every request.
func NewPipeline(rewriter *Rewriter, limiter Limiter, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{rewriter: rewriter, limiter: limiter, logger: logger}
}

// Rewriter exposes the reconciler used by Outlet.
func (p *Pipeline) Rewriter() *Rewriter {
	return p.rewriter
}

// Inlet validates the conversation and applies the rate limit for user on
// model. Messages are returned unchanged.
func (p *Pipeline) Inlet(ctx context.Context, model string, messages []models.Message, user *models.User) ([]models.Message, error) {
	for i, m := range messages {
		if !models.ValidRole(m.Role) {
			return messages, fmt.Errorf("%w %q at index %d", ErrInvalidRole, m.Role, i)
		}
	}
	if p.limiter == nil {
		return messages, nil
	}
	if err := p.limiter.Allow(ctx, user.IDOrDefault(), model); err != nil {
		p.logger.Info("Request rejected by inlet",
			zap.String("user_id", user.IDOrDefault()),
			zap.String("model", model),
			zap.Error(err))
		return messages, err
	}
	return messages, nil
}

// Outlet reconciles the most recent assistant message in place. All other
// messages are left untouched. On a reconciliation error the messages are
// returned as they came in, tags intact.
func (p *Pipeline) Outlet(ctx context.Context, messages []models.Message) ([]models.Message, Result, error) {
	_, span := tracing.StartSpan(ctx, "citations.reconcile",
		attribute.String("citations.mode", string(p.rewriter.Mode())))
	defer span.End()

	idx := LastAssistant(messages)
	if idx < 0 {
		tracing.RecordError(span, ErrNoAssistantMessage)
		return messages, Result{}, ErrNoAssistantMessage
	}

	res, err := p.rewriter.Rewrite(messages[idx].Content)
	if err != nil {
		tracing.RecordError(span, err)
		p.logger.Error("Citation reconciliation failed", zap.Error(err))
		return messages, res, fmt.Errorf("reconcile assistant message: %w", err)
	}
	span.SetAttributes(
		attribute.Int("citations.segments", res.Segments),
		attribute.Int("citations.sources", len(res.Sources)),
		attribute.Int("citations.diagnostics", len(res.Diagnostics)),
	)
	if !res.Changed() {
		return messages, res, nil
	}

	out := make([]models.Message, len(messages))
	copy(out, messages)
	out[idx].SetText(res.Text)
	return out, res, nil
}

// LastAssistant returns the index of the most recent assistant message, or -1.
func LastAssistant(messages []models.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return i
		}
	}
	return -1
}
