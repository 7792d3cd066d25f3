package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
)

// ContextKey is the key type for context values
type ContextKey string

// UserContextKey holds the authenticated *models.User.
const UserContextKey ContextKey = "user"

// ErrUnauthorized is returned when no accepted credential is present.
var ErrUnauthorized = errors.New("unauthorized")

// Middleware accepts either the static gateway API key or a signed JWT.
// With neither configured, every request passes anonymously.
type Middleware struct {
	apiKey     string
	jwtManager *JWTManager
	logger     *zap.Logger
	onReject   func(w http.ResponseWriter, err error)
}

// NewMiddleware creates the auth middleware. jwtManager may be nil.
func NewMiddleware(apiKey string, jwtManager *JWTManager, logger *zap.Logger, onReject func(http.ResponseWriter, error)) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onReject == nil {
		onReject = func(w http.ResponseWriter, err error) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		}
	}
	return &Middleware{apiKey: apiKey, jwtManager: jwtManager, logger: logger, onReject: onReject}
}

// Enabled reports whether any credential is required.
func (m *Middleware) Enabled() bool {
	return m.apiKey != "" || m.jwtManager != nil
}

// Authenticate resolves the caller from the Authorization header. A nil user
// with a nil error means the static key matched and identity comes from the
// request body.
func (m *Middleware) Authenticate(r *http.Request) (*models.User, error) {
	if !m.Enabled() {
		return nil, nil
	}
	token, err := ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}
	if m.apiKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(m.apiKey)) == 1 {
		return nil, nil
	}
	if m.jwtManager == nil {
		return nil, ErrUnauthorized
	}
	user, err := m.jwtManager.Validate(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// HTTPMiddleware rejects unauthenticated requests and stores the JWT user,
// if any, in the request context.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.Authenticate(r)
		if err != nil {
			m.logger.Debug("Rejected request", zap.String("path", r.URL.Path), zap.Error(err))
			m.onReject(w, err)
			return
		}
		if user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*models.User)
	return u, ok && u != nil
}

// ExtractBearerToken extracts the token from an Authorization header
func ExtractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrUnauthorized
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}
	return strings.TrimSpace(token), nil
}
