package gateway

import (
	"net/http"
	"time"

	"github.com/athalino-bakti/UTS/internal/keycache"
	"github.com/athalino-bakti/UTS/internal/middleware"
)

// KeyStatusProvider is satisfied by *keycache.Cache.
type KeyStatusProvider interface {
	Status() keycache.Status
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status          string                `json:"status"`
	VerificationKey VerificationKeyStatus `json:"verificationKey"`
}

// VerificationKeyStatus describes the cached public key.
type VerificationKeyStatus struct {
	Cached     bool       `json:"cached"`
	FetchedAt  *time.Time `json:"fetchedAt,omitempty"`
	AgeSeconds float64    `json:"ageSeconds"`
	Fresh      bool       `json:"fresh"`
	LastError  string     `json:"lastError,omitempty"`
}

// Health reports whether a verification key is cached and how old it is.
// Without a key every protected request would fail, so the gateway reports
// itself degraded with 503.
func Health(keys KeyStatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := keys.Status()

		resp := HealthResponse{
			Status: "ok",
			VerificationKey: VerificationKeyStatus{
				Cached:    st.Cached,
				Fresh:     st.Fresh,
				LastError: st.LastError,
			},
		}
		if st.Cached {
			fetched := st.FetchedAt.UTC()
			resp.VerificationKey.FetchedAt = &fetched
			resp.VerificationKey.AgeSeconds = st.Age.Seconds()
		}

		status := http.StatusOK
		if !st.Cached {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		middleware.WriteJSON(w, status, resp)
	}
}
