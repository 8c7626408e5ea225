// Package claims decodes the payload segment of bearer tokens issued by the
// console backend.
//
// Tokens are decoded without verifying their cryptographic signature. The
// backend is the enforcement point for every authenticated call; the client
// only uses claims for session bookkeeping and permission hints, so a local
// key set would add operational surface without adding protection.
package claims

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	console "github.com/chimerakang/console-go"
)

// ErrMalformed is returned when a token cannot be decoded: wrong segment
// count, invalid base64url encoding, or an invalid payload structure.
var ErrMalformed = errors.New("console/claims: malformed token")

// tokenClaims is the wire form of the payload segment.
type tokenClaims struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Status      string `json:"status"`
	Permissions string `json:"permissions"`
	jwt.RegisteredClaims
}

// Decode extracts the claims embedded in token. It performs no signature
// verification and no expiry validation; callers decide what an expired
// claim set means for them.
func Decode(token string) (*console.Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrMalformed)
	}

	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	c := &console.Claims{
		Subject:        tc.Subject,
		FirstName:      tc.FirstName,
		LastName:       tc.LastName,
		Status:         tc.Status,
		PermissionBits: tc.Permissions,
	}
	if tc.IssuedAt != nil {
		c.IssuedAt = tc.IssuedAt.Time
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}
