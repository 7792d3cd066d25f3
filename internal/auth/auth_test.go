package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
)

func TestJWTManager_RoundTrip(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)
	token, err := m.Issue(models.User{ID: "u-1", Name: "Ada", Email: "ada@example.com", Role: "admin"})
	require.NoError(t, err)

	u, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, &models.User{ID: "u-1", Name: "Ada", Email: "ada@example.com", Role: "admin"}, u)
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("secret", time.Hour)

	other, err := NewJWTManager("other", time.Hour).Issue(models.User{ID: "u-1"})
	require.NoError(t, err)
	_, err = m.Validate(other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = m.Validate(s)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub, err := m.Issue(models.User{})
	require.NoError(t, err)
	_, err = m.Validate(noSub)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = ExtractBearerToken("bearer  abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Basic abc", "Bearer", "Bearer  "} {
		_, err := ExtractBearerToken(h)
		assert.ErrorIs(t, err, ErrUnauthorized, h)
	}
}

func TestMiddleware(t *testing.T) {
	jm := NewJWTManager("secret", time.Hour)
	mw := NewMiddleware("static-key", jm, nil, nil)

	var seen *models.User
	h := mw.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) int {
		seen = nil
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(""))
	assert.Equal(t, http.StatusUnauthorized, serve("Bearer wrong"))

	assert.Equal(t, http.StatusNoContent, serve("Bearer static-key"))
	assert.Nil(t, seen)

	token, err := jm.Issue(models.User{ID: "u-9", Name: "Grace"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, serve("Bearer "+token))
	require.NotNil(t, seen)
	assert.Equal(t, "u-9", seen.ID)
	assert.Equal(t, "Grace", seen.Name)
}

func TestMiddleware_Disabled(t *testing.T) {
	mw := NewMiddleware("", nil, nil, nil)
	assert.False(t, mw.Enabled())

	rec := httptest.NewRecorder()
	mw.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
