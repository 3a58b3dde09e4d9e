package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind discriminates signed tokens through the "type" claim.
type TokenKind = string

const (
	// TokenKindAccess is a short lived credential authorizing API calls.
	TokenKindAccess TokenKind = "access"
	// TokenKindRefresh is a longer lived credential used only to mint new
	// access/refresh pairs.
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the claim set carried by every signed token: subject,
// expiry, and the access/refresh type discriminator.
type TokenClaims struct {
	jwt.RegisteredClaims
	TokenType TokenKind `json:"type,omitempty"`
}

var _ jwt.Claims = (*TokenClaims)(nil)

// UserID returns the token subject.
func (c *TokenClaims) UserID() string {
	return c.RegisteredClaims.Subject
}

// Kind returns the type discriminator.
func (c *TokenClaims) Kind() TokenKind {
	return c.TokenType
}

// Expires returns the expiration time
func (c *TokenClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// ensureTokenID backfills a jti so two tokens minted for the same subject in
// the same second are still distinct strings.
func ensureTokenID(claims *jwt.RegisteredClaims) {
	if claims == nil || claims.ID != "" {
		return
	}
	claims.ID = uuid.NewString()
}
