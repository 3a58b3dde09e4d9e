package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-userauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(repo auth.RepositoryManager) *auth.Auther {
	return auth.NewAuthenticator(repo, auth.BaseConfig{
		SigningKey: "test-signing-key-32-bytes-long!!",
		Issuer:     "userauth-test",
	})
}

func TestLogin(t *testing.T) {
	repo := newFakeRepo()
	sink := &memorySink{}

	user := mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo).WithActivitySink(sink)

	pair, err := auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.NoError(t, err)
	require.NotNil(t, pair)

	assert.Equal(t, "bearer", pair.TokenType)

	claims, err := auther.TokenService().Validate(pair.AccessToken, auth.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID())

	// login is tracked
	stored, err := repo.Users().GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
	assert.WithinDuration(t, time.Now(), *stored.LastLoginAt, 5*time.Second)

	assert.True(t, sink.hasEvent(auth.ActivityEventLoginSuccess))
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newFakeRepo()
	sink := &memorySink{}

	mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo).WithActivitySink(sink)

	_, err := auther.Login(context.Background(), "alice@example.com", "not-the-password")
	require.Error(t, err)
	assertTextCode(t, err, auth.TextCodeInvalidCredentials)
	assert.True(t, sink.hasEvent(auth.ActivityEventLoginFailure))
}

func TestLoginUnknownEmail(t *testing.T) {
	repo := newFakeRepo()
	auther := newTestAuthenticator(repo)

	_, err := auther.Login(context.Background(), "nobody@example.com", "whatever")
	require.Error(t, err)

	// unknown email and wrong password are the same error
	assertTextCode(t, err, auth.TextCodeInvalidCredentials)
}

func TestLoginInactiveAccount(t *testing.T) {
	repo := newFakeRepo()

	user := mustRegisterUser(repo, "alice@example.com", "secret-password")
	_, err := repo.Users().SetActive(context.Background(), user.ID, false)
	require.NoError(t, err)

	auther := newTestAuthenticator(repo)

	_, err = auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.Error(t, err)
	assertTextCode(t, err, auth.TextCodeInactiveAccount)
}

func TestRefreshRotatesPair(t *testing.T) {
	repo := newFakeRepo()

	mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo)

	first, err := auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.NoError(t, err)

	second, err := auther.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// both refresh tokens remain valid until their own expiry
	_, err = auther.Refresh(context.Background(), first.RefreshToken)
	assert.NoError(t, err)

	_, err = auther.TokenService().Validate(second.AccessToken, auth.TokenKindAccess)
	assert.NoError(t, err)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	repo := newFakeRepo()

	mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo)

	pair, err := auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.NoError(t, err)

	_, err = auther.Refresh(context.Background(), pair.AccessToken)
	require.Error(t, err)
	assertTextCode(t, err, auth.TextCodeWrongTokenType)
}

func TestRefreshRejectsInactiveAccount(t *testing.T) {
	repo := newFakeRepo()

	user := mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo)

	pair, err := auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.NoError(t, err)

	_, err = repo.Users().SetActive(context.Background(), user.ID, false)
	require.NoError(t, err)

	_, err = auther.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assertTextCode(t, err, auth.TextCodeInactiveAccount)
}

func TestRefreshRejectsDeletedAccount(t *testing.T) {
	repo := newFakeRepo()

	user := mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo)

	pair, err := auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.NoError(t, err)

	require.NoError(t, repo.Users().Delete(context.Background(), user.ID))

	_, err = auther.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assertTextCode(t, err, auth.TextCodeInvalidCredentials)
}

func TestLogout(t *testing.T) {
	repo := newFakeRepo()
	sink := &memorySink{}

	user := mustRegisterUser(repo, "alice@example.com", "secret-password")

	auther := newTestAuthenticator(repo).WithActivitySink(sink)

	err := auther.Logout(context.Background(), user.ID.String())
	require.NoError(t, err)
	assert.True(t, sink.hasEvent(auth.ActivityEventLogout))
}
