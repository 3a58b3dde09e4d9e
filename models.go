package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserState describes where a user sits in the account lifecycle. The state
// is derived from the is_active/is_email_verified flags rather than stored,
// so the two columns remain the single source of truth.
type UserState = string

const (
	// StateUnverifiedActive is a freshly registered account that has not
	// confirmed its email address yet.
	StateUnverifiedActive UserState = "unverified-active"
	// StateVerifiedActive is an account with a confirmed email address.
	StateVerifiedActive UserState = "verified-active"
	// StateInactive is a deactivated account. Inactive users cannot log in
	// or consume verification/reset tokens.
	StateInactive UserState = "inactive"
)

// User is the user model
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email        string    `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	FullName     string    `bun:"full_name" json:"full_name,omitempty"`

	IsActive      bool `bun:"is_active,notnull,default:true" json:"is_active"`
	IsSuperuser   bool `bun:"is_superuser,notnull,default:false" json:"is_superuser"`
	EmailVerified bool `bun:"is_email_verified,notnull,default:false" json:"is_email_verified"`

	LastLoginAt *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`

	// Verification and reset tokens are stored raw next to their absolute
	// expiry. Both columns of a pair are set and cleared together.
	VerificationToken         *string    `bun:"verification_token,nullzero" json:"-"`
	VerificationTokenExpires  *time.Time `bun:"verification_token_expires,nullzero" json:"-"`
	PasswordResetToken        *string    `bun:"password_reset_token,nullzero" json:"-"`
	PasswordResetTokenExpires *time.Time `bun:"password_reset_token_expires,nullzero" json:"-"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// State derives the lifecycle state from the persisted flags.
func (u *User) State() UserState {
	if u == nil {
		return ""
	}

	if !u.IsActive {
		return StateInactive
	}

	if u.EmailVerified {
		return StateVerifiedActive
	}

	return StateUnverifiedActive
}

// View returns the caller-visible representation of the user. The password
// hash and the secret token columns never leave the auth boundary.
func (u *User) View() UserView {
	return UserView{
		ID:            u.ID,
		Email:         u.Email,
		FullName:      u.FullName,
		IsActive:      u.IsActive,
		IsSuperuser:   u.IsSuperuser,
		EmailVerified: u.EmailVerified,
		LastLoginAt:   u.LastLoginAt,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// UserView is the public projection of a User
type UserView struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	FullName      string     `json:"full_name,omitempty"`
	IsActive      bool       `json:"is_active"`
	IsSuperuser   bool       `json:"is_superuser"`
	EmailVerified bool       `json:"is_email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
