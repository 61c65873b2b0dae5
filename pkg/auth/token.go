package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. A token minted for one scope is never accepted for another:
// an MFA step-up token cannot call authenticated endpoints, and a recovery
// token cannot complete an MFA login.
const (
	ScopeAccess   = "access"
	ScopeMFA      = "mfa"
	ScopeRecovery = "recovery"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrWrongScope   = errors.New("token not valid for this operation")
)

// Claims carried by every token the service signs.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	Scope    string `json:"scope"`
}

// Signer issues and validates HMAC-signed tokens. The secret is injected from
// process configuration at startup and can be rotated by restarting with a
// new value; it is never embedded as a literal.
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner creates a Signer from the configured signing secret.
func NewSigner(secret []byte, issuer string) (*Signer, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	return &Signer{secret: secret, issuer: issuer}, nil
}

// Generate signs a token for the given user, scope and lifetime.
func (s *Signer) Generate(userID uuid.UUID, username, role, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: username,
		Role:     role,
		Scope:    scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies the token signature and checks that the token
// was minted for the expected scope.
func (s *Signer) Validate(tokenString, scope string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope != scope {
		return nil, ErrWrongScope
	}
	return claims, nil
}

// UserID returns the subject as a parsed uuid.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}
