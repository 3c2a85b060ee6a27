package identity

import (
	jwt "github.com/golang-jwt/jwt/v5"
)

// Credential is the read-only bearer capability supplied by the identity
// collaborator. The chat client never refreshes or validates it; signature
// verification is the backend's job.
type Credential struct {
	Token  string
	UserID string
}

// Empty reports whether no usable credential is present.
func (c Credential) Empty() bool {
	return c.Token == ""
}

// FromToken builds a Credential from a raw bearer token, extracting the
// subject claim without verifying the signature. A token whose claims
// cannot be decoded still works as an opaque credential; only "my message"
// rendering degrades.
func FromToken(token string) Credential {
	cred := Credential{Token: token}
	if token == "" {
		return cred
	}

	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil {
		cred.UserID = claims.Subject
	}
	return cred
}
