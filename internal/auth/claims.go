package auth

import "github.com/golang-jwt/jwt/v5"

// Identity header names attached by the gateway for backends. Callers can
// never set these; the gateway strips them on every inbound request.
const (
	HeaderSubjectID = "X-User-Id"
	HeaderEmail     = "X-User-Email"
	HeaderRole      = "X-User-Role"
)

// IdentityHeaders lists every header the gateway owns.
var IdentityHeaders = []string{HeaderSubjectID, HeaderEmail, HeaderRole}

// Claims is the payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Identity is the verified caller. Only Verifier produces one.
type Identity struct {
	SubjectID string
	Email     string
	Role      string
}

func identityFromClaims(c *Claims) *Identity {
	return &Identity{
		SubjectID: c.Subject,
		Email:     c.Email,
		Role:      c.Role,
	}
}
