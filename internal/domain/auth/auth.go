// Package auth checks the shared-secret credential that guards writes.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/okian/stakerank/internal/domain/leaderboard"
)

// ErrNoSecret is returned when an Authorizer is built without a secret.
var ErrNoSecret = errors.New("sync secret must not be empty")

const bearerPrefix = "Bearer "

// Authorizer verifies write credentials against one configured secret.
type Authorizer struct {
	digest [sha256.Size]byte
}

// NewAuthorizer creates an Authorizer for secret.
func NewAuthorizer(secret string) (*Authorizer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Authorizer{digest: sha256.Sum256([]byte(secret))}, nil
}

// Check returns an *leaderboard.AuthorizationError unless credential equals
// the secret. The comparison is constant time in the credential length.
func (a *Authorizer) Check(credential string) error {
	if credential == "" {
		return &leaderboard.AuthorizationError{Reason: "missing credential"}
	}
	got := sha256.Sum256([]byte(credential))
	if subtle.ConstantTimeCompare(got[:], a.digest[:]) != 1 {
		return &leaderboard.AuthorizationError{Reason: "invalid credential"}
	}
	return nil
}

// FromHeader extracts the credential from an Authorization header value.
// Only the Bearer scheme is accepted.
func FromHeader(header string) string {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}
