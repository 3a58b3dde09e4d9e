package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Token consumption is a single conditional UPDATE so that two concurrent
// attempts on the same token value produce exactly one success. The matched
// token pair is cleared in the same statement that applies the effect.
var ConsumeVerificationTokenSQL = `UPDATE "users" AS "usr"
SET
	"is_email_verified" = TRUE,
	"verification_token" = NULL,
	"verification_token_expires" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."verification_token" = ?
AND "usr"."verification_token_expires" > ?
AND "usr"."is_active" = TRUE
RETURNING *;`

var ConsumePasswordResetTokenSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"password_reset_token" = NULL,
	"password_reset_token_expires" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."password_reset_token" = ?
AND "usr"."password_reset_token_expires" > ?
AND "usr"."is_active" = TRUE
RETURNING *;`

// Users is the explicit persistence surface for the user entity. Methods
// are statically typed per operation; no reflection-driven field access.
type Users interface {
	Create(ctx context.Context, record *User) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	List(ctx context.Context, limit, offset int) ([]*User, error)
	Update(ctx context.Context, record *User) (*User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	Delete(ctx context.Context, id uuid.UUID) error

	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expires time.Time) error
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*User, error)
	ConsumeVerificationTokenTx(ctx context.Context, tx bun.IDB, token string, now time.Time) (*User, error)

	SetPasswordResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error
	SetPasswordResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expires time.Time) error
	ConsumePasswordResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*User, error)
	ConsumePasswordResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash string, now time.Time) (*User, error)

	SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error)
	SetSuperuser(ctx context.Context, id uuid.UUID, superuser bool) (*User, error)
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*users)(nil)

// NewUsersRepository builds the bun-backed Users repository.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) Create(ctx context.Context, record *User) (*User, error) {
	return a.CreateTx(ctx, a.db, record)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	prepareUserDefaults(record)
	created, err := a.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return created, nil
}

func (a *users) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *users) GetByIDTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return record, nil
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return record, nil
}

func (a *users) List(ctx context.Context, limit, offset int) ([]*User, error) {
	if limit <= 0 {
		limit = 100
	}

	records := []*User{}
	err := a.db.NewSelect().
		Model(&records).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)

	if err != nil {
		return nil, err
	}

	return records, nil
}

func (a *users) Update(ctx context.Context, record *User) (*User, error) {
	updated, err := a.Repository.Update(ctx, record, repository.UpdateByID(record.ID.String()))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		if repository.IsRecordNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (a *users) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffectedRow(res)
}

func (a *users) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewDelete().
		Model((*User)(nil)).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffectedRow(res)
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	now := time.Now()
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("last_login_at = ?", now).
		Where("id = ?", user.ID).
		Exec(ctx)

	if err == nil {
		user.LastLoginAt = &now
	}

	return err
}

func (a *users) SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return a.SetVerificationTokenTx(ctx, a.db, id, token, expires)
}

// SetVerificationTokenTx overwrites the verification pair; any previously
// issued token stops matching immediately.
func (a *users) SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expires time.Time) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("verification_token = ?", token).
		Set("verification_token_expires = ?", expires).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffectedRow(res)
}

func (a *users) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*User, error) {
	return a.ConsumeVerificationTokenTx(ctx, a.db, token, now)
}

func (a *users) ConsumeVerificationTokenTx(ctx context.Context, tx bun.IDB, token string, now time.Time) (*User, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	matched, err := a.Repository.RawTx(ctx, tx, ConsumeVerificationTokenSQL, token, now)
	if err != nil {
		return nil, err
	}

	if len(matched) == 0 {
		return nil, ErrInvalidOrExpiredToken
	}

	return matched[0], nil
}

func (a *users) SetPasswordResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return a.SetPasswordResetTokenTx(ctx, a.db, id, token, expires)
}

func (a *users) SetPasswordResetTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expires time.Time) error {
	res, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("password_reset_token = ?", token).
		Set("password_reset_token_expires = ?", expires).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return err
	}

	return requireAffectedRow(res)
}

func (a *users) ConsumePasswordResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*User, error) {
	return a.ConsumePasswordResetTokenTx(ctx, a.db, token, passwordHash, now)
}

func (a *users) ConsumePasswordResetTokenTx(ctx context.Context, tx bun.IDB, token, passwordHash string, now time.Time) (*User, error) {
	if token == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	matched, err := a.Repository.RawTx(ctx, tx, ConsumePasswordResetTokenSQL, passwordHash, token, now)
	if err != nil {
		return nil, err
	}

	if len(matched) == 0 {
		return nil, ErrInvalidOrExpiredToken
	}

	return matched[0], nil
}

func (a *users) SetActive(ctx context.Context, id uuid.UUID, active bool) (*User, error) {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return nil, err
	}

	if err := requireAffectedRow(res); err != nil {
		return nil, err
	}

	return a.GetByID(ctx, id)
}

func (a *users) SetSuperuser(ctx context.Context, id uuid.UUID, superuser bool) (*User, error) {
	res, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("is_superuser = ?", superuser).
		Set("updated_at = CURRENT_TIMESTAMP").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return nil, err
	}

	if err := requireAffectedRow(res); err != nil {
		return nil, err
	}

	return a.GetByID(ctx, id)
}

func requireAffectedRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrUserNotFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
