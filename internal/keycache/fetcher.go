package keycache

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sony/gobreaker"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/logger"
)

// maxKeyResponse caps the public key response body.
const maxKeyResponse = 64 << 10

// publicKeyResponse is the body of GET /public-key.
type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// HTTPFetcher fetches the PEM public key from the auth service over HTTP.
// Repeated failures open a circuit breaker so an unreachable Key Store is not
// hammered on every request while a stale key is being served.
type HTTPFetcher struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

// NewHTTPFetcher creates a fetcher for url. client may be nil.
func NewHTTPFetcher(url string, cfg config.BreakerConfig, client *http.Client, log *logger.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}

	f := &HTTPFetcher{
		url:    url,
		client: client,
		log:    log.WithComponent("keyfetcher"),
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}

	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "public-key",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			f.log.Info().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return f
}

// Fetch performs GET url and parses the returned PEM.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*rsa.PublicKey, error) {
	res, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("key store circuit open: %w", err)
		}
		return nil, err
	}
	return res.(*rsa.PublicKey), nil
}

// State exposes the breaker state.
func (f *HTTPFetcher) State() gobreaker.State {
	return f.breaker.State()
}

func (f *HTTPFetcher) fetch(ctx context.Context) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build key request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("key store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxKeyResponse))
		return nil, fmt.Errorf("key store returned status %d", resp.StatusCode)
	}

	var body publicKeyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxKeyResponse)).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode key response: %w", err)
	}
	if body.PublicKey == "" {
		return nil, errors.New("key store returned an empty key")
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(body.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
