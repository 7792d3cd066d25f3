package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/models"
)

const issuer = "grounding-gateway"

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = errors.New("invalid token")

// JWTManager signs and validates HS256 bearer tokens.
type JWTManager struct {
	signingKey []byte
	expiry     time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(signingKey string, expiry time.Duration) *JWTManager {
	return &JWTManager{signingKey: []byte(signingKey), expiry: expiry}
}

// CustomClaims carries the caller identity forwarded to the inlet.
type CustomClaims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Issue creates a signed token for user.
func (j *JWTManager) Issue(user models.User) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Name:  user.Name,
		Email: user.Email,
		Role:  user.Role,
	}
	if j.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.expiry))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signingKey)
}

// Validate parses tokenString and returns the user it names. Tokens from
// other issuers are accepted as long as the signature holds.
func (j *JWTManager) Validate(tokenString string) (*models.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &models.User{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}
