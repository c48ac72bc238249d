package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the web tier reads.
type Claims struct {
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// ClaimsParser reads access token claims. With a secret configured the HS256
// signature is verified, otherwise the token is decoded without verification and
// only used as a hint (the identity provider stays the authority).
type ClaimsParser struct {
	secret []byte
	now    func() time.Time
}

// NewClaimsParser creates a parser. secret may be empty.
func NewClaimsParser(secret string) *ClaimsParser {
	p := &ClaimsParser{now: time.Now}
	if secret != "" {
		p.secret = []byte(secret)
	}
	return p
}

// Verifies reports whether signatures are checked.
func (p *ClaimsParser) Verifies() bool {
	return len(p.secret) > 0
}

// Parse decodes the token claims.
func (p *ClaimsParser) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	if !p.Verifies() {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("failed to decode access token: %w", err)
		}
		return claims, nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}
	return claims, nil
}

// Subject returns the user id carried by the token.
func (p *ClaimsParser) Subject(token string) (string, error) {
	claims, err := p.Parse(token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("access token has no subject")
	}
	return claims.Subject, nil
}

// ExpiresAt returns the token expiry, or the zero time when the token carries none.
func (p *ClaimsParser) ExpiresAt(token string) time.Time {
	claims, err := p.Parse(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
