package auth_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-userauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangePassword(t *testing.T) {
	repo := newFakeRepo()
	sink := &memorySink{}

	user := mustRegisterUser(repo, "alice@example.com", "current-password")

	handler := auth.NewChangePasswordHandler(repo).WithActivitySink(sink)

	var res *auth.ChangePasswordResponse
	err := handler.Execute(context.Background(), auth.ChangePasswordMessage{
		UserID:          user.ID,
		CurrentPassword: "current-password",
		NewPassword:     "next-password",
		OnResponse: func(resp *auth.ChangePasswordResponse) {
			res = resp
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Changed)

	stored, err := repo.Users().GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("next-password", stored.PasswordHash))
	assert.True(t, sink.hasEvent(auth.ActivityEventPasswordChanged))
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	repo := newFakeRepo()

	user := mustRegisterUser(repo, "alice@example.com", "current-password")

	handler := auth.NewChangePasswordHandler(repo)

	var res *auth.ChangePasswordResponse
	err := handler.Execute(context.Background(), auth.ChangePasswordMessage{
		UserID:          user.ID,
		CurrentPassword: "wrong-password",
		NewPassword:     "next-password",
		OnResponse: func(resp *auth.ChangePasswordResponse) {
			res = resp
		},
	})

	// a wrong current password is a boolean outcome, not an error
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Changed)

	stored, err := repo.Users().GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NoError(t, auth.ComparePasswordAndHash("current-password", stored.PasswordHash))
}

func TestChangePasswordUnknownUser(t *testing.T) {
	repo := newFakeRepo()
	user := mustRegisterUser(repo, "alice@example.com", "current-password")

	require.NoError(t, repo.Users().Delete(context.Background(), user.ID))

	handler := auth.NewChangePasswordHandler(repo)

	err := handler.Execute(context.Background(), auth.ChangePasswordMessage{
		UserID:          user.ID,
		CurrentPassword: "current-password",
		NewPassword:     "next-password",
	})
	assertTextCode(t, err, auth.TextCodeUserNotFound)
}
