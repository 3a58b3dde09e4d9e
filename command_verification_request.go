package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RequestEmailVerificationMessage struct {
	UserID     uuid.UUID `json:"user_id"`
	OnResponse func(resp *RequestEmailVerificationResponse)
}

func (e RequestEmailVerificationMessage) Type() string { return "user.verification_request" }

type RequestEmailVerificationResponse struct {
	Sent bool
}

// RequestEmailVerificationHandler reissues a fresh verification token for an
// active user, overwriting the previous pair. The old token stops matching
// the moment the new one is stored.
type RequestEmailVerificationHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	logger   Logger
	tokenTTL time.Duration
	now      func() time.Time
}

// NewRequestEmailVerificationHandler creates a handler with sane defaults.
func NewRequestEmailVerificationHandler(repo RepositoryManager) *RequestEmailVerificationHandler {
	return &RequestEmailVerificationHandler{
		repo:     repo,
		mailer:   NewLogMailer(nil),
		logger:   defLogger{},
		tokenTTL: DefaultVerificationTokenTTL,
		now:      time.Now,
	}
}

// WithMailer sets the outbound mail boundary.
func (h *RequestEmailVerificationHandler) WithMailer(m Mailer) *RequestEmailVerificationHandler {
	h.mailer = normalizeMailer(m)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RequestEmailVerificationHandler) WithLogger(logger Logger) *RequestEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithVerificationTokenTTL overrides the verification token lifetime.
func (h *RequestEmailVerificationHandler) WithVerificationTokenTTL(ttl time.Duration) *RequestEmailVerificationHandler {
	if ttl > 0 {
		h.tokenTTL = ttl
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RequestEmailVerificationHandler) WithClock(clock func() time.Time) *RequestEmailVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RequestEmailVerificationHandler) Execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verification request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RequestEmailVerificationHandler) execute(ctx context.Context, event RequestEmailVerificationMessage) error {
	var email, token string

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByIDTx(ctx, tx, event.UserID)
		if err != nil {
			return err
		}

		if !user.IsActive {
			return ErrInactiveAccount
		}

		if token, err = NewSecretToken(); err != nil {
			return err
		}

		expires := h.now().Add(h.tokenTTL)
		if err := h.repo.Users().SetVerificationTokenTx(ctx, tx, user.ID, token, expires); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification token")
		}

		email = user.Email
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reissue verification token")
	}

	if err := h.mailer.SendVerificationEmail(ctx, email, token); err != nil {
		h.logger.Warn("failed to send verification email: %v", err)
	}

	if event.OnResponse != nil {
		event.OnResponse(&RequestEmailVerificationResponse{Sent: true})
	}

	return nil
}
