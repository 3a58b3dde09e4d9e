package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email"`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// InitializePasswordResetResponse is identical whether or not the email
// matched an account; response shape and timing must not leak membership.
type InitializePasswordResetResponse struct {
	Accepted bool
}

// InitializePasswordResetHandler issues a reset token for active accounts
// and reports success for every request.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	logger   Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		mailer:   NewLogMailer(nil),
		logger:   defLogger{},
		tokenTTL: DefaultPasswordResetTokenTTL,
		now:      time.Now,
	}
}

// WithMailer sets the outbound mail boundary.
func (h *InitializePasswordResetHandler) WithMailer(m Mailer) *InitializePasswordResetHandler {
	h.mailer = normalizeMailer(m)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithResetTokenTTL overrides the reset token lifetime.
func (h *InitializePasswordResetHandler) WithResetTokenTTL(ttl time.Duration) *InitializePasswordResetHandler {
	if ttl > 0 {
		h.tokenTTL = ttl
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *InitializePasswordResetHandler) WithClock(clock func() time.Time) *InitializePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	var email, token string

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if goerrors.Is(err, ErrUserNotFound) {
				// unknown email still reports success to the caller
				h.logger.Debug("password reset requested for unknown email")
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
		}

		if !user.IsActive {
			h.logger.Debug("password reset requested for inactive account: %s", user.ID)
			return nil
		}

		if token, err = NewSecretToken(); err != nil {
			return err
		}

		expires := h.now().Add(h.tokenTTL)
		if err := h.repo.Users().SetPasswordResetTokenTx(ctx, tx, user.ID, token, expires); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password reset token")
		}

		email = user.Email
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	if token != "" {
		if err := h.mailer.SendPasswordResetEmail(ctx, email, token); err != nil {
			h.logger.Warn("failed to send password reset email: %v", err)
		}
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{Accepted: true})
	}

	return nil
}
