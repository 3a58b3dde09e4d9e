package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type ChangePasswordMessage struct {
	UserID          uuid.UUID `json:"user_id"`
	CurrentPassword string    `json:"current_password"`
	NewPassword     string    `json:"new_password"`
	OnResponse      func(resp *ChangePasswordResponse)
}

func (p ChangePasswordMessage) Type() string { return "user.change_password" }

// ChangePasswordResponse reports the outcome as a flag: a wrong current
// password is not an error, it is Changed=false, and the stored hash is left
// untouched. HTTP-level messaging is the caller's call.
type ChangePasswordResponse struct {
	Changed bool
}

type ChangePasswordHandler struct {
	repo       RepositoryManager
	activity   ActivitySink
	logger     Logger
	bcryptCost int
	now        func() time.Time
}

// NewChangePasswordHandler creates a handler with sane defaults.
func NewChangePasswordHandler(repo RepositoryManager) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:       repo,
		activity:   noopActivitySink{},
		logger:     defLogger{},
		bcryptCost: DefaultBcryptCost,
		now:        time.Now,
	}
}

// WithActivitySink sets the sink used to emit password change events.
func (h *ChangePasswordHandler) WithActivitySink(sink ActivitySink) *ChangePasswordHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithBcryptCost overrides the hashing cost for the new password.
func (h *ChangePasswordHandler) WithBcryptCost(cost int) *ChangePasswordHandler {
	if cost > 0 {
		h.bcryptCost = cost
	}
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password change",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ChangePasswordHandler) execute(ctx context.Context, event ChangePasswordMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByID(ctx, event.UserID)
	if err != nil {
		return err
	}

	if err := ComparePasswordAndHash(event.CurrentPassword, user.PasswordHash); err != nil {
		if goerrors.Is(err, ErrMismatchedHashAndPassword) {
			if event.OnResponse != nil {
				event.OnResponse(&ChangePasswordResponse{Changed: false})
			}
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to verify current password")
	}

	hash, err := HashPasswordCost(event.NewPassword, h.bcryptCost)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash new password")
	}

	if err := h.repo.Users().UpdatePassword(ctx, user.ID, hash); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store new password")
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(&ChangePasswordResponse{Changed: true})
	}

	return nil
}

func (h *ChangePasswordHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password change: %v", err)
	}
}
