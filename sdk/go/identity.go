package utsid

import (
	"context"
	"encoding/json"
	"net/http"
)

// Headers set by the gateway after a successful verification. The gateway
// removes any client supplied copies, so a backend reachable only through
// the gateway can trust them.
const (
	HeaderSubjectID = "X-User-Id"
	HeaderEmail     = "X-User-Email"
	HeaderRole      = "X-User-Role"
)

type contextKey struct{}

// IdentityFromRequest reads the gateway identity headers.
func IdentityFromRequest(r *http.Request) (*Identity, error) {
	id := r.Header.Get(HeaderSubjectID)
	if id == "" {
		return nil, ErrNoIdentity
	}
	return &Identity{
		SubjectID: id,
		Email:     r.Header.Get(HeaderEmail),
		Role:      r.Header.Get(HeaderRole),
	}, nil
}

// GetIdentity retrieves the identity stored by Middleware.
// Returns nil if none was attached.
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return id
	}
	return nil
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Required rejects requests without an identity with 401.
	// When false the request continues anonymously.
	Required bool

	// Roles, when non-empty, restricts access to the listed roles (403).
	Roles []string
}

// Middleware attaches the gateway identity to the request context.
//
//	mux.Handle("/orders", utsid.Middleware(utsid.MiddlewareConfig{Required: true})(orders))
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := IdentityFromRequest(r)
			if err != nil {
				if cfg.Required {
					writeError(w, http.StatusUnauthorized, "no_credential", "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if len(cfg.Roles) > 0 && !hasRole(cfg.Roles, id.Role) {
				writeError(w, http.StatusForbidden, "forbidden", "Access forbidden")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorWrapper{Error: struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message}})
}
