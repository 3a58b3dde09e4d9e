package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-userauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegisterUser(t *testing.T) {
	repo := newFakeRepo()
	mailer := newCaptureMailer()
	sink := &memorySink{}

	handler := auth.NewRegisterUserHandler(repo).
		WithMailer(mailer).
		WithActivitySink(sink)

	var res *auth.RegisterUserResponse
	err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    "alice@example.com",
		Password: "secret-password",
		FullName: "Alice Smith",
		OnResponse: func(resp *auth.RegisterUserResponse) {
			res = resp
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.User)

	user := res.User
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, "Alice Smith", user.FullName)
	assert.Equal(t, auth.StateUnverifiedActive, user.State())
	assert.False(t, user.IsSuperuser)

	// password stored as hash, not plaintext
	assert.NotEqual(t, "secret-password", user.PasswordHash)
	assert.NoError(t, auth.ComparePasswordAndHash("secret-password", user.PasswordHash))

	// first verification token minted and mailed
	token := mailer.verificationToken("alice@example.com")
	assert.NotEmpty(t, token)

	stored, err := repo.Users().GetByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.VerificationToken)
	assert.Equal(t, token, *stored.VerificationToken)
	require.NotNil(t, stored.VerificationTokenExpires)
	assert.True(t, stored.VerificationTokenExpires.After(time.Now()))

	assert.True(t, sink.hasEvent(auth.ActivityEventUserRegistered))
}

func TestRegisterUserDuplicateEmail(t *testing.T) {
	repo := newFakeRepo()
	mustRegisterUser(repo, "alice@example.com", "password123")

	handler := auth.NewRegisterUserHandler(repo)

	err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    "alice@example.com",
		Password: "another-password",
	})
	require.Error(t, err)
	assertTextCode(t, err, auth.TextCodeDuplicateEmail)
}

func TestRegisterUserCustomTokenTTL(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	handler := auth.NewRegisterUserHandler(repo).
		WithVerificationTokenTTL(time.Hour).
		WithClock(func() time.Time { return now })

	err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    "ttl@example.com",
		Password: "secret-password",
	})
	require.NoError(t, err)

	stored, err := repo.Users().GetByEmail(context.Background(), "ttl@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.VerificationTokenExpires)
	assert.Equal(t, now.Add(time.Hour), *stored.VerificationTokenExpires)
}

func TestRegisterUserBcryptCost(t *testing.T) {
	repo := newFakeRepo()

	handler := auth.NewRegisterUserHandler(repo).
		WithBcryptCost(bcrypt.MinCost)

	err := handler.Execute(context.Background(), auth.RegisterUserMessage{
		Email:    "cost@example.com",
		Password: "secret-password",
	})
	require.NoError(t, err)

	stored, err := repo.Users().GetByEmail(context.Background(), "cost@example.com")
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(stored.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)
}

func TestRegisterUserCancelledContext(t *testing.T) {
	repo := newFakeRepo()
	handler := auth.NewRegisterUserHandler(repo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := handler.Execute(ctx, auth.RegisterUserMessage{
		Email:    "cancelled@example.com",
		Password: "secret-password",
	})
	assert.Error(t, err)
}
