package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims identify the actor behind a REST call or socket connection.
// Tokens are minted by the auth collaborator; IssueToken exists for dev tooling and tests.
type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func (c Claims) complete() bool {
	return c.Sub != "" && c.Name != "" && c.Role != "" && c.Exp != 0
}

// Verifier checks token signatures and expiry against one shared secret.
type Verifier struct {
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

// NewVerifier accepts tokens up to leeway past their exp to absorb clock skew
// between this service and the issuer.
func NewVerifier(secret []byte, leeway time.Duration) *Verifier {
	return &Verifier{secret: secret, leeway: leeway, now: time.Now}
}

func (v *Verifier) Verify(token string) (Claims, error) {
	payload, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(v.secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil || !claims.complete() {
		return Claims{}, ErrInvalidToken
	}
	if !v.now().Before(time.Unix(claims.Exp, 0).Add(v.leeway)) {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// ParseToken verifies with no leeway.
func ParseToken(secret []byte, token string) (Claims, error) {
	return NewVerifier(secret, 0).Verify(token)
}

func IssueToken(secret []byte, claims Claims) (string, error) {
	if !claims.complete() {
		return "", fmt.Errorf("issue token: sub, name, role and exp are required")
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + sign(secret, payload), nil
}

func sign(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
