package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/circularops/api/internal/domain"
)

func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken is what the store keeps instead of the raw session cookie value.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewSession mints a session for operatorID and returns it with the raw token
// that goes into the cookie.
func NewSession(operatorID uuid.UUID, ttl time.Duration, now time.Time) (domain.Session, string, error) {
	token, err := GenerateToken()
	if err != nil {
		return domain.Session{}, "", fmt.Errorf("generate session token: %w", err)
	}
	csrf, err := GenerateToken()
	if err != nil {
		return domain.Session{}, "", fmt.Errorf("generate csrf token: %w", err)
	}
	return domain.Session{
		OperatorID: operatorID,
		TokenHash:  HashToken(token),
		CSRFToken:  csrf,
		ExpiresAt:  now.Add(ttl),
	}, token, nil
}
