package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Auther implements Authenticator on top of the users repository and the
// token service. Login failures for unknown emails and wrong passwords are
// indistinguishable to the caller; inactive accounts get a distinct error.
type Auther struct {
	repo         RepositoryManager
	tokenService TokenService
	activitySink ActivitySink
	logger       Logger
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, cfg Config) *Auther {
	return &Auther{
		repo:         repo,
		tokenService: NewTokenService(cfg, defLogger{}),
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenService swaps the token service, e.g. one sharing a signing key
// with another process.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

func (s *Auther) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if goerrors.Is(err, ErrUserNotFound) {
			s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
				"reason": "unknown email",
			})
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("Login user lookup error: %v", err)
		return nil, err
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromUser(user), user.ID.String(), map[string]any{
			"reason": "password mismatch",
		})
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromUser(user), user.ID.String(), map[string]any{
			"reason": "inactive account",
		})
		return nil, ErrInactiveAccount
	}

	if err := s.repo.Users().TrackSuccessfulLogin(ctx, user); err != nil {
		s.logger.Warn("Login failed to track last login: %v", err)
	}

	pair, err := s.tokenService.IssuePair(user.ID.String())
	if err != nil {
		s.logger.Error("Login failed to issue token pair: %v", err)
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromUser(user), user.ID.String(), nil)

	return pair, nil
}

// Refresh exchanges a valid refresh token for a brand new pair. The old
// refresh token is not revoked; it stays usable until its own expiry.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokenService.Validate(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrTokenMalformed
	}

	user, err := s.repo.Users().GetByID(ctx, id)
	if err != nil {
		if goerrors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		s.logger.Error("Refresh user lookup error: %v", err)
		return nil, err
	}

	if !user.IsActive {
		return nil, ErrInactiveAccount
	}

	pair, err := s.tokenService.IssuePair(user.ID.String())
	if err != nil {
		s.logger.Error("Refresh failed to issue token pair: %v", err)
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRefresh, s.actorFromUser(user), user.ID.String(), nil)

	return pair, nil
}

// Logout records the event. Tokens are stateless, so nothing is revoked
// server side; clients discard their copies.
func (s *Auther) Logout(ctx context.Context, userID string) error {
	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: userID, Type: "user"}, userID, nil)
	return nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromUser(user *User) ActorRef {
	if user == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   user.ID.String(),
		Type: "user",
	}
}
