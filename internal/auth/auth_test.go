package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/keystore"
	"github.com/athalino-bakti/UTS/internal/logger"
)

var (
	keysOnce  sync.Once
	signKey   *rsa.PrivateKey
	otherKey  *rsa.PrivateKey
	keysError error
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		signKey, keysError = keystore.GenerateKey(2048)
		if keysError == nil {
			otherKey, keysError = keystore.GenerateKey(2048)
		}
	})
	require.NoError(t, keysError)
	return signKey, otherKey
}

// staticKey serves a fixed public key, or err when set.
type staticKey struct {
	key *rsa.PublicKey
	err error
}

func (s staticKey) Key(context.Context) (*rsa.PublicKey, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.key, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newIssuerAndVerifier(t *testing.T) (*Issuer, *Verifier, *fakeClock) {
	t.Helper()

	priv, _ := testKeys(t)
	ks, err := keystore.New(priv, logger.Nop())
	require.NoError(t, err)

	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	iss, err := NewIssuer(config.TokenConfig{TTL: 24 * time.Hour, Issuer: "uts-auth"}, ks, WithIssuerClock(clock.Now))
	require.NoError(t, err)

	ver := NewVerifier(staticKey{key: &priv.PublicKey}, WithVerifierClock(clock.Now))
	return iss, ver, clock
}

// tamper flips one character in the middle of the given segment.
func tamper(token string, segment int) string {
	parts := strings.Split(token, ".")
	s := []byte(parts[segment])
	i := len(s) / 2
	if s[i] == 'A' {
		s[i] = 'B'
	} else {
		s[i] = 'A'
	}
	parts[segment] = string(s)
	return strings.Join(parts, ".")
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	iss, ver, _ := newIssuerAndVerifier(t)

	cases := []Identity{
		{SubjectID: "u1", Email: "a@example.com", Role: "admin"},
		{SubjectID: "u2", Email: "b@example.com", Role: "member"},
		{SubjectID: "7f7c0d1e-0000-4000-8000-000000000000", Email: "", Role: ""},
	}

	for _, want := range cases {
		t.Run(want.SubjectID, func(t *testing.T) {
			token, err := iss.Issue(want.SubjectID, want.Email, want.Role)
			require.NoError(t, err)

			got, err := ver.Verify(context.Background(), "Bearer "+token)
			require.NoError(t, err)
			assert.Equal(t, want, *got)
		})
	}
}

func TestIssue_Claims(t *testing.T) {
	t.Parallel()

	iss, _, clock := newIssuerAndVerifier(t)
	token, err := iss.Issue("u1", "a@example.com", "admin")
	require.NoError(t, err)

	claims := &Claims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)

	assert.Equal(t, "RS256", parsed.Header["alg"])
	assert.NotEmpty(t, parsed.Header["kid"])
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "uts-auth", claims.Issuer)
	assert.Equal(t, clock.Now().Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, clock.Now().Add(24*time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, 24*time.Hour, iss.TTL())

	_, err = iss.Issue("", "a@example.com", "admin")
	assert.Error(t, err)
}

func TestVerify_Expiry(t *testing.T) {
	t.Parallel()

	t.Run("valid until exactly exp", func(t *testing.T) {
		t.Parallel()

		iss, ver, clock := newIssuerAndVerifier(t)
		token, err := iss.Issue("u1", "a@example.com", "admin")
		require.NoError(t, err)

		clock.Advance(24 * time.Hour)
		_, err = ver.Verify(context.Background(), "Bearer "+token)
		assert.NoError(t, err)
	})

	t.Run("expired one second after exp", func(t *testing.T) {
		t.Parallel()

		iss, ver, clock := newIssuerAndVerifier(t)
		token, err := iss.Issue("u1", "a@example.com", "admin")
		require.NoError(t, err)

		clock.Advance(24*time.Hour + time.Second)
		_, err = ver.Verify(context.Background(), "Bearer "+token)
		assert.ErrorIs(t, err, ErrExpiredCredential)
		assert.Equal(t, KindExpiredCredential, KindOf(err))
	})

	t.Run("expired wins over a bad signature", func(t *testing.T) {
		t.Parallel()

		iss, ver, clock := newIssuerAndVerifier(t)
		token, err := iss.Issue("u1", "a@example.com", "admin")
		require.NoError(t, err)

		clock.Advance(48 * time.Hour)
		_, err = ver.VerifyToken(context.Background(), tamper(token, 2))
		assert.ErrorIs(t, err, ErrExpiredCredential)
	})

	t.Run("expired does not need the key", func(t *testing.T) {
		t.Parallel()

		iss, _, clock := newIssuerAndVerifier(t)
		ver := NewVerifier(staticKey{err: errors.New("down")}, WithVerifierClock(clock.Now))
		token, err := iss.Issue("u1", "a@example.com", "admin")
		require.NoError(t, err)

		clock.Advance(25 * time.Hour)
		_, err = ver.VerifyToken(context.Background(), token)
		assert.ErrorIs(t, err, ErrExpiredCredential)
	})
}

func TestVerify_InvalidCredential(t *testing.T) {
	t.Parallel()

	iss, ver, clock := newIssuerAndVerifier(t)
	token, err := iss.Issue("u1", "a@example.com", "admin")
	require.NoError(t, err)

	priv, other := testKeys(t)
	otherKS, err := keystore.New(other, logger.Nop())
	require.NoError(t, err)
	foreignIssuer, err := NewIssuer(config.TokenConfig{}, otherKS, WithIssuerClock(clock.Now))
	require.NoError(t, err)
	foreign, err := foreignIssuer.Issue("u1", "a@example.com", "admin")
	require.NoError(t, err)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	hsToken, err := hs.SignedString([]byte("secret"))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(priv)
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour))},
	}).SignedString(priv)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"tampered signature", tamper(token, 2)},
		{"tampered payload", tamper(token, 1)},
		{"signed by another key", foreign},
		{"hmac algorithm", hsToken},
		{"missing exp", noExp},
		{"missing sub", noSub},
		{"not a jwt", "abc.def"},
		{"garbage", "!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ver.Verify(context.Background(), "Bearer "+tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidCredential)

			var ae *Error
			require.True(t, errors.As(err, &ae))
			assert.True(t, ae.Unauthenticated())
			assert.Equal(t, http.StatusUnauthorized, ae.HTTPStatus())
		})
	}
}

func TestVerify_TamperEverySignatureByte(t *testing.T) {
	t.Parallel()

	iss, ver, _ := newIssuerAndVerifier(t)
	token, err := iss.Issue("u1", "a@example.com", "admin")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := parts[2]
	// The last character carries padding bits, so skip it.
	for i := 0; i < len(sig)-1; i += 17 {
		b := []byte(sig)
		if b[i] == 'x' {
			b[i] = 'y'
		} else {
			b[i] = 'x'
		}
		forged := parts[0] + "." + parts[1] + "." + string(b)
		_, err := ver.VerifyToken(context.Background(), forged)
		assert.ErrorIs(t, err, ErrInvalidCredential, fmt.Sprintf("byte %d", i))
	}
}

func TestVerify_NoCredential(t *testing.T) {
	t.Parallel()

	_, ver, _ := newIssuerAndVerifier(t)

	for _, header := range []string{"", "Bearer", "Bearer   ", "Basic dXNlcjpwYXNz", "Token abc", "abc"} {
		t.Run(fmt.Sprintf("%q", header), func(t *testing.T) {
			_, err := ver.Verify(context.Background(), header)
			assert.ErrorIs(t, err, ErrNoCredential)
			assert.Equal(t, http.StatusUnauthorized, err.(*Error).HTTPStatus())
		})
	}
}

func TestVerify_KeyUnavailable(t *testing.T) {
	t.Parallel()

	iss, _, clock := newIssuerAndVerifier(t)
	token, err := iss.Issue("u1", "a@example.com", "admin")
	require.NoError(t, err)

	cause := errors.New("no key cached and fetch failed")
	ver := NewVerifier(staticKey{err: cause}, WithVerifierClock(clock.Now))

	_, err = ver.Verify(context.Background(), "bearer "+token)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
	assert.ErrorIs(t, err, cause)

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.False(t, ae.Unauthenticated())
	assert.Equal(t, http.StatusServiceUnavailable, ae.HTTPStatus())
	assert.Equal(t, "key_unavailable", ae.Kind.Code())
}

type brokenSigner struct{}

func (brokenSigner) PrivateKey() (*rsa.PrivateKey, error) { return nil, keystore.ErrSigningKeyMissing }
func (brokenSigner) KeyID() string                        { return "" }

func TestNewIssuer_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer(config.TokenConfig{}, brokenSigner{})
	assert.ErrorIs(t, err, keystore.ErrSigningKeyMissing)

	_, err = NewIssuer(config.TokenConfig{}, nil)
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tok, ok := BearerToken("Bearer abc.def.ghi")
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, ok = BearerToken("BEARER  abc ")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
}

func TestPassword(t *testing.T) {
	t.Parallel()

	params := &Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	hash, err := HashPassword("correct horse battery staple", params)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("x", "$bcrypt$nope")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
