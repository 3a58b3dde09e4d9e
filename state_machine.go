package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserStateMachine centralizes the lifecycle transitions a superuser can
// apply to an account: deactivate, reactivate, delete. Reactivation restores
// the prior verified/unverified state because the flags themselves are
// preserved while the account sits in StateInactive.
type UserStateMachine interface {
	Deactivate(ctx context.Context, actor ActorRef, id uuid.UUID) (*User, error)
	Reactivate(ctx context.Context, actor ActorRef, id uuid.UUID) (*User, error)
	Delete(ctx context.Context, actor ActorRef, id uuid.UUID) error
	CurrentState(user *User) UserState
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*userStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *userStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *userStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *userStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

type userStateMachine struct {
	users        Users
	transitions  map[UserState]map[UserState]struct{}
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

// NewUserStateMachine builds the default lifecycle machine over the Users
// repository.
func NewUserStateMachine(users Users, opts ...StateMachineOption) UserStateMachine {
	sm := &userStateMachine{
		users: users,
		transitions: map[UserState]map[UserState]struct{}{
			StateUnverifiedActive: {
				StateVerifiedActive: {},
				StateInactive:       {},
			},
			StateVerifiedActive: {
				StateInactive: {},
			},
			StateInactive: {
				StateUnverifiedActive: {},
				StateVerifiedActive:   {},
			},
		},
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

func (sm *userStateMachine) Deactivate(ctx context.Context, actor ActorRef, id uuid.UUID) (*User, error) {
	user, err := sm.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := user.State()
	if from == StateInactive {
		return user, nil
	}

	if !sm.canTransition(from, StateInactive) {
		return nil, ErrInvalidTransition
	}

	updated, err := sm.users.SetActive(ctx, id, false)
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserStatusChanged,
		Actor:     actor,
		UserID:    id.String(),
		FromState: from,
		ToState:   StateInactive,
	})

	return updated, nil
}

func (sm *userStateMachine) Reactivate(ctx context.Context, actor ActorRef, id uuid.UUID) (*User, error) {
	user, err := sm.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := user.State()
	if from != StateInactive {
		return user, nil
	}

	// verified flag survived deactivation, so the target state falls out
	// of the record itself
	target := StateUnverifiedActive
	if user.EmailVerified {
		target = StateVerifiedActive
	}

	if !sm.canTransition(from, target) {
		return nil, ErrInvalidTransition
	}

	updated, err := sm.users.SetActive(ctx, id, true)
	if err != nil {
		return nil, err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserStatusChanged,
		Actor:     actor,
		UserID:    id.String(),
		FromState: from,
		ToState:   target,
	})

	return updated, nil
}

func (sm *userStateMachine) Delete(ctx context.Context, actor ActorRef, id uuid.UUID) error {
	if actor.ID == id.String() {
		return ErrSelfDeletionForbidden
	}

	if err := sm.users.Delete(ctx, id); err != nil {
		return err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserDeleted,
		Actor:     actor,
		UserID:    id.String(),
	})

	return nil
}

func (sm *userStateMachine) CurrentState(user *User) UserState {
	return user.State()
}

func (sm *userStateMachine) canTransition(from, to UserState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *userStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}
