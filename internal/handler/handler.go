package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/athalino-bakti/UTS/internal/logger"
	"github.com/athalino-bakti/UTS/internal/middleware"
	"github.com/athalino-bakti/UTS/internal/model"
)

// PublicKeySource is satisfied by *keystore.KeyStore.
type PublicKeySource interface {
	PublicKeyPEM() ([]byte, error)
}

// TokenIssuer is satisfied by *auth.Issuer.
type TokenIssuer interface {
	Issue(subjectID, email, role string) (string, error)
}

// UserStore is satisfied by *repository.UserRepository.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

// HealthChecker is satisfied by *database.Postgres and *database.Redis.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler holds all HTTP handlers of the auth service
type Handler struct {
	log      *logger.Logger
	keys     PublicKeySource
	issuer   TokenIssuer
	users    UserStore
	tokenTTL int64
	checks   map[string]HealthChecker
}

// New creates a new Handler instance. users may be nil, in which case login
// is unavailable. checks names the dependencies reported by /health.
func New(log *logger.Logger, keys PublicKeySource, issuer TokenIssuer, users UserStore, tokenTTLSeconds int64, checks map[string]HealthChecker) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		log:      log.WithComponent("handler"),
		keys:     keys,
		issuer:   issuer,
		users:    users,
		tokenTTL: tokenTTLSeconds,
		checks:   checks,
	}
}

// JSON helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	middleware.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	middleware.WriteError(w, status, code, message)
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
