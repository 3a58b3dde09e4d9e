package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-userauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app    *fiber.App
	repo   *fakeRepo
	auther *auth.Auther
	mailer *captureMailer
}

func newTestServer() *testServer {
	return newTestServerWithConfig(auth.BaseConfig{
		SigningKey: "test-signing-key-32-bytes-long!!",
		Issuer:     "userauth-test",
	})
}

func newTestServerWithConfig(cfg auth.BaseConfig) *testServer {
	repo := newFakeRepo()
	mailer := newCaptureMailer()

	auther := auth.NewAuthenticator(repo, cfg)
	guard := auth.NewHTTPAuthMiddleware(auther.TokenService(), repo)

	controller := auth.NewAuthController(
		auth.WithControllerRepo(repo),
		auth.WithControllerAuthenticator(auther),
		auth.WithControllerConfig(cfg),
		auth.WithControllerMailer(mailer),
	)

	app := fiber.New()
	auth.RegisterAuthRoutes(app, controller, guard)

	return &testServer{app: app, repo: repo, auther: auther, mailer: mailer}
}

func (s *testServer) request(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *testServer) loginToken(t *testing.T, email, password string) string {
	t.Helper()

	pair, err := s.auther.Login(context.Background(), email, password)
	require.NoError(t, err)
	return pair.AccessToken
}

func TestRequireAuthMissingHeader(t *testing.T) {
	srv := newTestServer()

	resp := srv.request(t, http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAuthBadToken(t *testing.T) {
	srv := newTestServer()

	resp := srv.request(t, http.MethodGet, "/users/me", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// decode failures collapse into the generic body
	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "invalid credentials", errObj["message"])
}

func TestRequireAuthRejectsRefreshToken(t *testing.T) {
	srv := newTestServer()
	mustRegisterUser(srv.repo, "alice@example.com", "secret-password")

	pair, err := srv.auther.Login(context.Background(), "alice@example.com", "secret-password")
	require.NoError(t, err)

	resp := srv.request(t, http.MethodGet, "/users/me", pair.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAuthRejectsInactiveUser(t *testing.T) {
	srv := newTestServer()
	user := mustRegisterUser(srv.repo, "alice@example.com", "secret-password")

	token := srv.loginToken(t, "alice@example.com", "secret-password")

	// deactivation locks out live tokens immediately
	_, err := srv.repo.Users().SetActive(context.Background(), user.ID, false)
	require.NoError(t, err)

	resp := srv.request(t, http.MethodGet, "/users/me", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequireSuperuserGate(t *testing.T) {
	srv := newTestServer()
	mustRegisterUser(srv.repo, "alice@example.com", "secret-password")

	token := srv.loginToken(t, "alice@example.com", "secret-password")

	resp := srv.request(t, http.MethodGet, "/users/", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestRequireSuperuserAllowsAdmin(t *testing.T) {
	srv := newTestServer()
	mustRegisterUser(srv.repo, "admin@example.com", "secret-password", func(u *auth.User) {
		u.IsSuperuser = true
	})

	token := srv.loginToken(t, "admin@example.com", "secret-password")

	resp := srv.request(t, http.MethodGet, "/users/", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
