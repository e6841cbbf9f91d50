// Package keystore holds the RSA signing key pair of the auth service.
//
// The private half never leaves the process. The public half is served
// unauthenticated at GET /public-key and is what gateways verify against.
package keystore

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/athalino-bakti/UTS/internal/logger"
)

// MinKeyBits is the smallest RSA modulus accepted for signing.
const MinKeyBits = 2048

// Key store errors.
var (
	// ErrSigningKeyMissing means the private key could not be loaded. Fatal at startup.
	ErrSigningKeyMissing = errors.New("signing key missing")
	// ErrKeyUnavailable means the public key material cannot be served.
	ErrKeyUnavailable = errors.New("public key unavailable")
)

// KeyStore holds the signing key pair. It is immutable after construction
// apart from the optional public key file, which is re-read on every request.
type KeyStore struct {
	log *logger.Logger

	mu            sync.RWMutex
	private       *rsa.PrivateKey
	publicPEM     []byte
	publicKeyFile string
	keyID         string
}

// Load reads the private key from privatePath. publicPath may be empty, in
// which case the public PEM is derived from the private key.
func Load(privatePath, publicPath string, log *logger.Logger) (*KeyStore, error) {
	if privatePath == "" {
		return nil, fmt.Errorf("%w: no private key file configured", ErrSigningKeyMissing)
	}

	raw, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningKeyMissing, err)
	}

	priv, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrSigningKeyMissing, privatePath, err)
	}

	ks, err := New(priv, log)
	if err != nil {
		return nil, err
	}
	if publicPath != "" {
		pub, err := os.ReadFile(publicPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSigningKeyMissing, err)
		}
		if err := matchesPrivate(pub, priv); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSigningKeyMissing, publicPath, err)
		}
	}
	ks.publicKeyFile = publicPath

	ks.log.Info().
		Str("key_id", ks.keyID).
		Int("bits", priv.N.BitLen()).
		Str("public_key_file", publicPath).
		Msg("loaded signing key")

	return ks, nil
}

// New wraps an already parsed private key.
func New(priv *rsa.PrivateKey, log *logger.Logger) (*KeyStore, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrSigningKeyMissing)
	}
	if priv.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: key is %d bits, need at least %d", ErrSigningKeyMissing, priv.N.BitLen(), MinKeyBits)
	}

	pemBytes, err := EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	kid, err := Thumbprint(&priv.PublicKey)
	if err != nil {
		return nil, err
	}

	return &KeyStore{
		log:       log.WithComponent("keystore"),
		private:   priv,
		publicPEM: pemBytes,
		keyID:     kid,
	}, nil
}

// PrivateKey returns the signing key.
func (s *KeyStore) PrivateKey() (*rsa.PrivateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.private == nil {
		return nil, ErrSigningKeyMissing
	}
	return s.private, nil
}

// PublicKeyPEM returns the PEM encoded public key.
func (s *KeyStore) PublicKeyPEM() ([]byte, error) {
	s.mu.RLock()
	file := s.publicKeyFile
	derived := s.publicPEM
	priv := s.private
	s.mu.RUnlock()

	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		}
		if err := matchesPrivate(raw, priv); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrKeyUnavailable, file, err)
		}
		return raw, nil
	}

	if len(derived) == 0 {
		return nil, ErrKeyUnavailable
	}
	out := make([]byte, len(derived))
	copy(out, derived)
	return out, nil
}

// KeyID returns the RFC 7638 style thumbprint used as the "kid" header.
func (s *KeyStore) KeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyID
}

// Thumbprint is the base64url SHA-256 of the PKIX encoded public key.
func Thumbprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// matchesPrivate checks that raw is a PEM public key belonging to priv.
func matchesPrivate(raw []byte, priv *rsa.PrivateKey) error {
	if len(raw) == 0 {
		return errors.New("public key file is empty")
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(raw)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	if !pub.Equal(&priv.PublicKey) {
		return errors.New("public key does not match the signing key")
	}
	return nil
}
