package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizeEmailVerificationMessage struct {
	Token      string `json:"token"`
	OnResponse func(resp *FinalizeEmailVerificationResponse)
}

func (e FinalizeEmailVerificationMessage) Type() string { return "user.verification_finalize" }

type FinalizeEmailVerificationResponse struct {
	User *User
}

// FinalizeEmailVerificationHandler consumes a verification token. No match,
// an expired token, and an inactive user all collapse into the same
// ErrInvalidOrExpiredToken so callers cannot probe which one happened.
type FinalizeEmailVerificationHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewFinalizeEmailVerificationHandler creates a handler with sane defaults.
func NewFinalizeEmailVerificationHandler(repo RepositoryManager) *FinalizeEmailVerificationHandler {
	return &FinalizeEmailVerificationHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *FinalizeEmailVerificationHandler) WithActivitySink(sink ActivitySink) *FinalizeEmailVerificationHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizeEmailVerificationHandler) WithLogger(logger Logger) *FinalizeEmailVerificationHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *FinalizeEmailVerificationHandler) WithClock(clock func() time.Time) *FinalizeEmailVerificationHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *FinalizeEmailVerificationHandler) Execute(ctx context.Context, event FinalizeEmailVerificationMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizeEmailVerificationHandler) execute(ctx context.Context, event FinalizeEmailVerificationMessage) error {
	var user *User

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		matched, err := h.repo.Users().ConsumeVerificationTokenTx(ctx, tx, event.Token, h.now())
		if err != nil {
			return err
		}

		user = matched
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize email verification")
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(&FinalizeEmailVerificationResponse{User: user})
	}

	return nil
}

func (h *FinalizeEmailVerificationHandler) recordActivity(ctx context.Context, user *User) {
	if user == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		ToState:    user.State(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during email verification: %v", err)
	}
}
