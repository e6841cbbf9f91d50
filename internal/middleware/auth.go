package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/athalino-bakti/UTS/internal/auth"
)

// IdentityKey is the context key of the verified *auth.Identity.
const IdentityKey contextKey = "identity"

// IdentityVerifier is satisfied by *auth.Verifier.
type IdentityVerifier interface {
	Verify(ctx context.Context, authorization string) (*auth.Identity, error)
}

// StripIdentity removes caller-supplied identity headers. Applied to every
// route so a backend only ever sees identity headers set by Authenticate.
func (m *Middleware) StripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stripIdentityHeaders(r.Header)
		next.ServeHTTP(w, r)
	})
}

// Authenticate verifies the bearer token and annotates the request with the
// resulting identity. With required set, failures are answered here and the
// request goes no further; otherwise any failure is treated as an anonymous
// request and forwarded without identity.
func (m *Middleware) Authenticate(v IdentityVerifier, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			stripIdentityHeaders(r.Header)

			id, err := v.Verify(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				var ae *auth.Error
				if !errors.As(err, &ae) {
					ae = &auth.Error{Kind: auth.KindKeyUnavailable, Err: err}
				}
				m.metrics.Verification(ae.Kind.Code())

				log := m.log.WithRequestID(GetRequestID(r.Context()))
				if !required {
					log.Debug().Err(err).Str("path", r.URL.Path).Msg("optional verification failed, forwarding anonymously")
					next.ServeHTTP(w, r)
					return
				}

				if ae.Unauthenticated() {
					log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
				} else {
					log.Error().Err(err).Str("path", r.URL.Path).Msg("token verification unavailable")
				}
				WriteError(w, ae.HTTPStatus(), ae.Kind.Code(), ae.Kind.Message())
				return
			}

			m.metrics.Verification("ok")

			r.Header.Set(auth.HeaderSubjectID, id.SubjectID)
			r.Header.Set(auth.HeaderEmail, id.Email)
			r.Header.Set(auth.HeaderRole, id.Role)

			ctx := context.WithValue(r.Context(), IdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentity returns the identity attached by Authenticate, if any.
func GetIdentity(ctx context.Context) (*auth.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(*auth.Identity)
	return id, ok && id != nil
}

func stripIdentityHeaders(h http.Header) {
	for _, name := range auth.IdentityHeaders {
		h.Del(name)
	}
}
