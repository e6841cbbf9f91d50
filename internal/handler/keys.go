package handler

import (
	"net/http"
)

// PublicKeyResponse is the body of GET /public-key.
type PublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

// PublicKey serves the PEM encoded verification key. It is unauthenticated.
// Missing key material is a server fault and answered with 500, never 401.
func (h *Handler) PublicKey(w http.ResponseWriter, r *http.Request) {
	pemBytes, err := h.keys.PublicKeyPEM()
	if err != nil {
		h.log.Error().Err(err).Msg("public key unavailable")
		writeError(w, http.StatusInternalServerError, "key_unavailable", "The public key is not available")
		return
	}

	writeJSON(w, http.StatusOK, PublicKeyResponse{PublicKey: string(pemBytes)})
}
