package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// userContextKey is where RequireAuth stores the authenticated user.
const userContextKey = "auth:user"

// HTTPAuthMiddleware guards fiber routes with bearer access tokens. Every
// request revalidates the token and reloads the user, so a deactivated
// account is locked out immediately even while its tokens are unexpired.
type HTTPAuthMiddleware struct {
	tokenService TokenService
	repo         RepositoryManager
	logger       Logger
}

// NewHTTPAuthMiddleware builds the bearer token middleware.
func NewHTTPAuthMiddleware(tokenService TokenService, repo RepositoryManager) *HTTPAuthMiddleware {
	return &HTTPAuthMiddleware{
		tokenService: tokenService,
		repo:         repo,
		logger:       defLogger{},
	}
}

func (m *HTTPAuthMiddleware) WithLogger(logger Logger) *HTTPAuthMiddleware {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// RequireAuth rejects requests without a valid bearer access token and
// stashes the loaded user in the request context.
func (m *HTTPAuthMiddleware) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return RenderError(c, err)
		}

		claims, err := m.tokenService.Validate(raw, TokenKindAccess)
		if err != nil {
			return RenderError(c, err)
		}

		id, err := uuid.Parse(claims.UserID())
		if err != nil {
			return RenderError(c, ErrTokenMalformed)
		}

		user, err := m.repo.Users().GetByID(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				return RenderError(c, ErrInvalidCredentials)
			}
			m.logger.Error("auth middleware user lookup error: %v", err)
			return RenderError(c, err)
		}

		if !user.IsActive {
			return RenderError(c, ErrInactiveAccount)
		}

		c.Locals(userContextKey, user)

		return c.Next()
	}
}

// RequireSuperuser must run after RequireAuth.
func (m *HTTPAuthMiddleware) RequireSuperuser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, ok := UserFromContext(c)
		if !ok {
			return RenderError(c, ErrInvalidCredentials)
		}

		if !user.IsSuperuser {
			return RenderError(c, ErrInsufficientPrivilege)
		}

		return c.Next()
	}
}

// UserFromContext retrieves the user stored by RequireAuth.
func UserFromContext(c *fiber.Ctx) (*User, bool) {
	user, ok := c.Locals(userContextKey).(*User)
	return user, ok
}

func bearerToken(c *fiber.Ctx) (string, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return "", ErrInvalidCredentials
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidCredentials
	}

	return parts[1], nil
}

// RenderError writes a JSON error response. Auth category failures collapse
// into a generic body so the response does not leak why a credential was
// rejected.
func RenderError(c *fiber.Ctx, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = fiber.StatusInternalServerError
	}

	message := richErr.Message
	textCode := richErr.TextCode
	if richErr.Category == errors.CategoryAuth {
		message = "invalid credentials"
		textCode = TextCodeInvalidCredentials
	}

	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"message":   message,
			"text_code": textCode,
		},
	})
}
