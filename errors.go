package auth

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	TextCodeInactiveAccount        = "INACTIVE_ACCOUNT"
	TextCodeDuplicateEmail         = "DUPLICATE_EMAIL"
	TextCodeInvalidOrExpiredToken  = "INVALID_OR_EXPIRED_TOKEN"
	TextCodeWrongTokenType         = "WRONG_TOKEN_TYPE"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeTokenMalformed         = "TOKEN_MALFORMED"
	TextCodeInvalidSignature       = "INVALID_TOKEN_SIGNATURE"
	TextCodeSelfDeletionForbidden  = "SELF_DELETION_FORBIDDEN"
	TextCodeUserNotFound           = "USER_NOT_FOUND"
	TextCodeInsufficientPrivilege  = "INSUFFICIENT_PRIVILEGE"
	TextCodeInvalidUserTransition  = "INVALID_USER_STATE_TRANSITION"
	TextCodeEmptyPassword          = "EMPTY_PASSWORD"
	TextCodePasswordHashMismatched = "PASSWORD_HASH_MISMATCH"
)

// ErrInvalidCredentials is returned when a login identifier/password pair
// does not match. It deliberately does not distinguish "no such email" from
// "wrong password".
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrInactiveAccount is returned when a deactivated user attempts to log in
// or consume a token.
var ErrInactiveAccount = errors.New("account is inactive", errors.CategoryAuthz).
	WithTextCode(TextCodeInactiveAccount).
	WithCode(errors.CodeForbidden)

// ErrDuplicateEmail is returned when a create or update would violate email
// uniqueness.
var ErrDuplicateEmail = errors.New("email already registered", errors.CategoryConflict).
	WithTextCode(TextCodeDuplicateEmail).
	WithCode(errors.CodeConflict)

// ErrInvalidOrExpiredToken is the unified failure for verification and
// password-reset tokens. No match, expiry, and inactive user all surface the
// same error to prevent account enumeration.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidOrExpiredToken).
	WithCode(errors.CodeBadRequest)

// ErrWrongTokenType is returned when a signed token decodes correctly but
// carries the wrong type claim for the call site.
var ErrWrongTokenType = errors.New("wrong token type", errors.CategoryAuth).
	WithTextCode(TextCodeWrongTokenType).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is returned for signed tokens past their expiry.
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that cannot be parsed.
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// ErrInvalidSignature is returned for tokens signed with a different key or
// method.
var ErrInvalidSignature = errors.New("invalid token signature", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(errors.CodeUnauthorized)

// ErrSelfDeletionForbidden is returned when a user attempts to delete their
// own account through the admin delete flow.
var ErrSelfDeletionForbidden = errors.New("users cannot delete their own account", errors.CategoryValidation).
	WithTextCode(TextCodeSelfDeletionForbidden).
	WithCode(errors.CodeBadRequest)

// ErrUserNotFound is returned when a lookup by id or email has no match.
var ErrUserNotFound = errors.New("user not found", errors.CategoryNotFound).
	WithTextCode(TextCodeUserNotFound).
	WithCode(errors.CodeNotFound)

// ErrInsufficientPrivilege is returned when a non superuser calls a
// superuser gated operation.
var ErrInsufficientPrivilege = errors.New("insufficient privilege", errors.CategoryAuthz).
	WithTextCode(TextCodeInsufficientPrivilege).
	WithCode(errors.CodeForbidden)

// ErrInvalidTransition is returned when a requested lifecycle change is not
// allowed from the user's current state.
var ErrInvalidTransition = errors.New("invalid user state transition", errors.CategoryValidation).
	WithTextCode(TextCodeInvalidUserTransition).
	WithCode(errors.CodeBadRequest)

// ErrNoEmptyString is returned when hashing an empty password.
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the sentinel for a failed password
// comparison.
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithTextCode(TextCodePasswordHashMismatched).
	WithCode(errors.CodeUnauthorized)
