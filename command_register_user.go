package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	UseHashid bool
	OnResponse func(resp *RegisterUserResponse)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

type RegisterUserResponse struct {
	User *User
}

// RegisterUserHandler creates an account in the unverified-active state and
// issues its first email verification token.
type RegisterUserHandler struct {
	repo       RepositoryManager
	mailer     Mailer
	activity   ActivitySink
	logger     Logger
	tokenTTL   time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:       repo,
		mailer:     NewLogMailer(nil),
		activity:   noopActivitySink{},
		logger:     defLogger{},
		tokenTTL:   DefaultVerificationTokenTTL,
		bcryptCost: DefaultBcryptCost,
		now:        time.Now,
	}
}

// WithMailer sets the outbound mail boundary.
func (h *RegisterUserHandler) WithMailer(m Mailer) *RegisterUserHandler {
	h.mailer = normalizeMailer(m)
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithVerificationTokenTTL overrides the verification token lifetime.
func (h *RegisterUserHandler) WithVerificationTokenTTL(ttl time.Duration) *RegisterUserHandler {
	if ttl > 0 {
		h.tokenTTL = ttl
	}
	return h
}

// WithBcryptCost overrides the hashing cost for new passwords.
func (h *RegisterUserHandler) WithBcryptCost(cost int) *RegisterUserHandler {
	if cost > 0 {
		h.bcryptCost = cost
	}
	return h
}

// WithClock injects a custom clock (useful for tests).
func (h *RegisterUserHandler) WithClock(clock func() time.Time) *RegisterUserHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	user := &User{}
	var verification string

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email); err == nil {
			return ErrDuplicateEmail
		} else if !goerrors.Is(err, ErrUserNotFound) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email uniqueness")
		}

		hash, err := HashPasswordCost(event.Password, h.bcryptCost)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return richErr
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.Email = event.Email
		user.PasswordHash = hash
		user.FullName = event.FullName
		user.IsActive = true
		user.IsSuperuser = false
		user.EmailVerified = false
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.ID = id
			}
		}

		// unique constraint backstop: a concurrent register with the same
		// email loses here instead of racing past the check above
		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			if goerrors.Is(err, ErrDuplicateEmail) {
				return ErrDuplicateEmail
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		if verification, err = NewSecretToken(); err != nil {
			return err
		}

		expires := h.now().Add(h.tokenTTL)
		if err := h.repo.Users().SetVerificationTokenTx(ctx, tx, user.ID, verification, expires); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store verification token")
		}

		user.VerificationToken = &verification
		user.VerificationTokenExpires = &expires

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	if err := h.mailer.SendVerificationEmail(ctx, user.Email, verification); err != nil {
		h.logger.Warn("failed to send verification email: %v", err)
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(&RegisterUserResponse{User: user})
	}

	return nil
}

func (h *RegisterUserHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		ToState:    user.State(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration: %v", err)
	}
}
