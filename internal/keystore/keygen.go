package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Key file names written by WriteKeyPair.
const (
	PrivateKeyFileName = "private.pem"
	PublicKeyFileName  = "public.pem"
)

// GenerateKey creates a new RSA private key.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("key size %d is below the minimum of %d bits", bits, MinKeyBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes key as a PKCS#8 "PRIVATE KEY" block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// WriteKeyPair generates a key and writes private.pem (0600) and public.pem
// (0644) into dir. Existing files are left alone unless force is set.
func WriteKeyPair(dir string, bits int, force bool) (privatePath, publicPath string, err error) {
	privatePath = filepath.Join(dir, PrivateKeyFileName)
	publicPath = filepath.Join(dir, PublicKeyFileName)

	if !force {
		for _, p := range []string{privatePath, publicPath} {
			if _, statErr := os.Stat(p); statErr == nil {
				return "", "", fmt.Errorf("%s already exists (use --force to overwrite)", p)
			} else if !errors.Is(statErr, os.ErrNotExist) {
				return "", "", fmt.Errorf("failed to stat %s: %w", p, statErr)
			}
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("failed to create key directory: %w", err)
	}

	key, err := GenerateKey(bits)
	if err != nil {
		return "", "", err
	}

	privPEM, err := EncodePrivateKeyPEM(key)
	if err != nil {
		return "", "", err
	}
	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return "", "", err
	}

	if err := os.WriteFile(privatePath, privPEM, 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, pubPEM, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write public key: %w", err)
	}

	return privatePath, publicPath, nil
}
