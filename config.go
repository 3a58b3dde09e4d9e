package auth

import "time"

const (
	// DefaultAccessTokenTTL is the lifetime of access tokens.
	DefaultAccessTokenTTL = 30 * time.Minute
	// DefaultRefreshTokenTTL is the lifetime of refresh tokens.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	// DefaultVerificationTokenTTL is the lifetime of email verification tokens.
	DefaultVerificationTokenTTL = 3 * 24 * time.Hour
	// DefaultPasswordResetTokenTTL is the lifetime of password reset tokens.
	DefaultPasswordResetTokenTTL = 24 * time.Hour
)

// Config holds auth options. It is constructed once at process start and
// handed to each component constructor; nothing in this package reads
// configuration ad hoc.
type Config interface {
	GetSigningKey() string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
	GetVerificationTokenTTL() time.Duration
	GetPasswordResetTokenTTL() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetBcryptCost() int
}

// BaseConfig is a plain Config implementation. Zero values fall back to the
// package defaults through the getters.
type BaseConfig struct {
	SigningKey            string
	AccessTokenTTL        time.Duration
	RefreshTokenTTL       time.Duration
	VerificationTokenTTL  time.Duration
	PasswordResetTokenTTL time.Duration
	Issuer                string
	Audience              []string
	BcryptCost            int
}

var _ Config = BaseConfig{}

func (c BaseConfig) GetSigningKey() string { return c.SigningKey }

func (c BaseConfig) GetAccessTokenTTL() time.Duration {
	if c.AccessTokenTTL <= 0 {
		return DefaultAccessTokenTTL
	}
	return c.AccessTokenTTL
}

func (c BaseConfig) GetRefreshTokenTTL() time.Duration {
	if c.RefreshTokenTTL <= 0 {
		return DefaultRefreshTokenTTL
	}
	return c.RefreshTokenTTL
}

func (c BaseConfig) GetVerificationTokenTTL() time.Duration {
	if c.VerificationTokenTTL <= 0 {
		return DefaultVerificationTokenTTL
	}
	return c.VerificationTokenTTL
}

func (c BaseConfig) GetPasswordResetTokenTTL() time.Duration {
	if c.PasswordResetTokenTTL <= 0 {
		return DefaultPasswordResetTokenTTL
	}
	return c.PasswordResetTokenTTL
}

func (c BaseConfig) GetIssuer() string { return c.Issuer }

func (c BaseConfig) GetAudience() []string { return c.Audience }

func (c BaseConfig) GetBcryptCost() int {
	if c.BcryptCost <= 0 {
		return DefaultBcryptCost
	}
	return c.BcryptCost
}
