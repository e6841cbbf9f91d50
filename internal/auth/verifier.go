package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerificationKeyProvider supplies the public key. Implemented by keycache.Cache.
type VerificationKeyProvider interface {
	Key(ctx context.Context) (*rsa.PublicKey, error)
}

// Verifier checks authenticity and freshness of access tokens. It does not
// authorize: role checks belong to the backends.
type Verifier struct {
	keys   VerificationKeyProvider
	now    func() time.Time
	parser *jwt.Parser
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock replaces time.Now, for tests.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier backed by keys.
func NewVerifier(keys VerificationKeyProvider, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys: keys,
		now:  time.Now,
		// Expiry is checked by Verify itself so that the kind is reported
		// before the signature is looked at.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// Verify validates the Authorization header value and returns the caller identity.
func (v *Verifier) Verify(ctx context.Context, authorization string) (*Identity, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return nil, ErrNoCredential
	}
	return v.VerifyToken(ctx, token)
}

// VerifyToken validates a raw compact token.
func (v *Verifier) VerifyToken(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrNoCredential
	}

	unverified := &Claims{}
	if _, _, err := v.parser.ParseUnverified(raw, unverified); err != nil {
		return nil, newError(KindInvalidCredential, err)
	}
	if unverified.ExpiresAt == nil {
		return nil, newError(KindInvalidCredential, errors.New("token has no expiry"))
	}
	if v.now().After(unverified.ExpiresAt.Time) {
		return nil, newError(KindExpiredCredential, jwt.ErrTokenExpired)
	}

	key, err := v.keys.Key(ctx)
	if err != nil {
		return nil, newError(KindKeyUnavailable, err)
	}

	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return nil, newError(KindInvalidCredential, err)
	}
	if !token.Valid {
		return nil, newError(KindInvalidCredential, errors.New("token is not valid"))
	}
	if claims.Subject == "" {
		return nil, newError(KindInvalidCredential, errors.New("token has no subject"))
	}

	return identityFromClaims(claims), nil
}
