package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/athalino-bakti/UTS/internal/config"
)

// DefaultTokenTTL applies when the configured TTL is zero.
const DefaultTokenTTL = 24 * time.Hour

// SigningKeyProvider is the interface the issuer uses to obtain its signing key.
// Implemented by keystore.KeyStore.
type SigningKeyProvider interface {
	PrivateKey() (*rsa.PrivateKey, error)
	KeyID() string
}

// Issuer mints RS256 access tokens.
type Issuer struct {
	keys   SigningKeyProvider
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// IssuerOption customises an Issuer.
type IssuerOption func(*Issuer)

// WithIssuerClock replaces time.Now, for tests.
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer. It fails when no signing key is available,
// which callers must treat as fatal at startup.
func NewIssuer(cfg config.TokenConfig, keys SigningKeyProvider, opts ...IssuerOption) (*Issuer, error) {
	if keys == nil {
		return nil, fmt.Errorf("no signing key provider configured")
	}
	if _, err := keys.PrivateKey(); err != nil {
		return nil, fmt.Errorf("signing key unavailable: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	i := &Issuer{
		keys:   keys,
		ttl:    ttl,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs a token for the given identity, valid for the configured TTL.
func (i *Issuer) Issue(subjectID, email, role string) (string, error) {
	if subjectID == "" {
		return "", fmt.Errorf("subject is required")
	}

	key, err := i.keys.PrivateKey()
	if err != nil {
		return "", fmt.Errorf("signing key unavailable: %w", err)
	}

	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.New().String(),
		},
		Email: email,
		Role:  role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid := i.keys.KeyID(); kid != "" {
		token.Header["kid"] = kid
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// TTL returns the token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}
