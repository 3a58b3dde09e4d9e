package auth

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/goliatone/go-errors"
)

// secretTokenBytes gives every opaque token 256 bits of entropy.
const secretTokenBytes = 32

// NewSecretToken returns a url-safe opaque token for email verification and
// password reset flows. These tokens are validated by direct value lookup,
// not by signature, and are stored raw next to their expiry.
//
// Hardening note: callers wanting a stronger posture can hash the value
// before storage and compare hashes on consumption.
func NewSecretToken() (string, error) {
	b := make([]byte, secretTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random bytes for secret token")
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}
