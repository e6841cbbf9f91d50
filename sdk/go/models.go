package utsid

// LoginRequest contains the credentials for authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Identity is the caller identity the gateway attaches to forwarded requests.
type Identity struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

// publicKeyResponse is the body of GET /public-key.
type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}
