// Package auth verifies presented credentials and resolves them to an
// identity. Token issuance is an external concern; the core only checks a
// token it is handed.
package auth

// Identity is the result of a successful credential verification.
type Identity struct {
	UserID      string
	DisplayName string
	// Elevated marks identities allowed to archive or delete rooms they
	// do not own.
	Elevated bool
}

// Authenticator validates a presented credential.
type Authenticator interface {
	Verify(token string) (Identity, error)
}
