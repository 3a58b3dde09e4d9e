package auth_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-userauth"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// memoryUsers is an in-memory auth.Users used to exercise handlers without a
// database. Consumption semantics mirror the SQL: token match, unexpired,
// active account, pair cleared atomically under the lock.
type memoryUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*auth.User
}

var _ auth.Users = (*memoryUsers)(nil)

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[uuid.UUID]*auth.User{}}
}

func cloneUser(u *auth.User) *auth.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (m *memoryUsers) findByEmail(email string) *auth.User {
	for _, u := range m.byID {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (m *memoryUsers) Create(ctx context.Context, record *auth.User) (*auth.User, error) {
	return m.CreateTx(ctx, nil, record)
}

func (m *memoryUsers) CreateTx(_ context.Context, _ bun.IDB, record *auth.User) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findByEmail(record.Email) != nil {
		return nil, auth.ErrDuplicateEmail
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := time.Now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	if record.UpdatedAt == nil {
		record.UpdatedAt = &now
	}

	m.byID[record.ID] = cloneUser(record)
	return cloneUser(record), nil
}

func (m *memoryUsers) GetByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	return m.GetByIDTx(ctx, nil, id)
}

func (m *memoryUsers) GetByIDTx(_ context.Context, _ bun.IDB, id uuid.UUID) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.byID[id]; ok {
		return cloneUser(u), nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *memoryUsers) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return m.GetByEmailTx(ctx, nil, email)
}

func (m *memoryUsers) GetByEmailTx(_ context.Context, _ bun.IDB, email string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u := m.findByEmail(email); u != nil {
		return cloneUser(u), nil
	}
	return nil, auth.ErrUserNotFound
}

func (m *memoryUsers) List(_ context.Context, limit, offset int) ([]*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*auth.User, 0, len(m.byID))
	for _, u := range m.byID {
		all = append(all, cloneUser(u))
	}

	if offset >= len(all) {
		return []*auth.User{}, nil
	}
	all = all[offset:]

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	return all, nil
}

func (m *memoryUsers) Update(_ context.Context, record *auth.User) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[record.ID]
	if !ok {
		return nil, auth.ErrUserNotFound
	}

	if other := m.findByEmail(record.Email); other != nil && other.ID != record.ID {
		return nil, auth.ErrDuplicateEmail
	}

	stored.Email = record.Email
	stored.FullName = record.FullName
	m.touch(stored)

	return cloneUser(stored), nil
}

func (m *memoryUsers) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[id]
	if !ok {
		return auth.ErrUserNotFound
	}

	stored.PasswordHash = passwordHash
	m.touch(stored)

	return nil
}

func (m *memoryUsers) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[id]; !ok {
		return auth.ErrUserNotFound
	}

	delete(m.byID, id)
	return nil
}

func (m *memoryUsers) TrackSuccessfulLogin(ctx context.Context, user *auth.User) error {
	return m.TrackSuccessfulLoginTx(ctx, nil, user)
}

func (m *memoryUsers) TrackSuccessfulLoginTx(_ context.Context, _ bun.IDB, user *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[user.ID]
	if !ok {
		return auth.ErrUserNotFound
	}

	now := time.Now()
	stored.LastLoginAt = &now
	user.LastLoginAt = &now

	return nil
}

func (m *memoryUsers) SetVerificationToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return m.SetVerificationTokenTx(ctx, nil, id, token, expires)
}

func (m *memoryUsers) SetVerificationTokenTx(_ context.Context, _ bun.IDB, id uuid.UUID, token string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[id]
	if !ok {
		return auth.ErrUserNotFound
	}

	stored.VerificationToken = &token
	stored.VerificationTokenExpires = &expires
	m.touch(stored)

	return nil
}

func (m *memoryUsers) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (*auth.User, error) {
	return m.ConsumeVerificationTokenTx(ctx, nil, token, now)
}

func (m *memoryUsers) ConsumeVerificationTokenTx(_ context.Context, _ bun.IDB, token string, now time.Time) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		return nil, auth.ErrInvalidOrExpiredToken
	}

	for _, u := range m.byID {
		if u.VerificationToken == nil || *u.VerificationToken != token {
			continue
		}
		if !u.IsActive || u.VerificationTokenExpires == nil || !u.VerificationTokenExpires.After(now) {
			break
		}

		u.EmailVerified = true
		u.VerificationToken = nil
		u.VerificationTokenExpires = nil
		m.touch(u)

		return cloneUser(u), nil
	}

	return nil, auth.ErrInvalidOrExpiredToken
}

func (m *memoryUsers) SetPasswordResetToken(ctx context.Context, id uuid.UUID, token string, expires time.Time) error {
	return m.SetPasswordResetTokenTx(ctx, nil, id, token, expires)
}

func (m *memoryUsers) SetPasswordResetTokenTx(_ context.Context, _ bun.IDB, id uuid.UUID, token string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[id]
	if !ok {
		return auth.ErrUserNotFound
	}

	stored.PasswordResetToken = &token
	stored.PasswordResetTokenExpires = &expires
	m.touch(stored)

	return nil
}

func (m *memoryUsers) ConsumePasswordResetToken(ctx context.Context, token, passwordHash string, now time.Time) (*auth.User, error) {
	return m.ConsumePasswordResetTokenTx(ctx, nil, token, passwordHash, now)
}

func (m *memoryUsers) ConsumePasswordResetTokenTx(_ context.Context, _ bun.IDB, token, passwordHash string, now time.Time) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token == "" {
		return nil, auth.ErrInvalidOrExpiredToken
	}

	for _, u := range m.byID {
		if u.PasswordResetToken == nil || *u.PasswordResetToken != token {
			continue
		}
		if !u.IsActive || u.PasswordResetTokenExpires == nil || !u.PasswordResetTokenExpires.After(now) {
			break
		}

		u.PasswordHash = passwordHash
		u.PasswordResetToken = nil
		u.PasswordResetTokenExpires = nil
		m.touch(u)

		return cloneUser(u), nil
	}

	return nil, auth.ErrInvalidOrExpiredToken
}

func (m *memoryUsers) SetActive(_ context.Context, id uuid.UUID, active bool) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}

	stored.IsActive = active
	m.touch(stored)

	return cloneUser(stored), nil
}

func (m *memoryUsers) SetSuperuser(_ context.Context, id uuid.UUID, superuser bool) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}

	stored.IsSuperuser = superuser
	m.touch(stored)

	return cloneUser(stored), nil
}

func (m *memoryUsers) touch(u *auth.User) {
	now := time.Now()
	u.UpdatedAt = &now
}

// fakeRepo satisfies auth.RepositoryManager. RunInTx executes the callback
// directly; the memory store has no transactions to speak of.
type fakeRepo struct {
	users *memoryUsers
}

var _ auth.RepositoryManager = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: newMemoryUsers()}
}

func (r *fakeRepo) Validate() error { return nil }

func (r *fakeRepo) MustValidate() {}

func (r *fakeRepo) RunInTx(ctx context.Context, _ *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return f(ctx, bun.Tx{})
	}
}

func (r *fakeRepo) Users() auth.Users { return r.users }

// captureMailer records the last token sent per address.
type captureMailer struct {
	mu                 sync.Mutex
	verificationTokens map[string]string
	resetTokens        map[string]string
}

var _ auth.Mailer = (*captureMailer)(nil)

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		verificationTokens: map[string]string{},
		resetTokens:        map[string]string{},
	}
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verificationTokens[email] = token
	return nil
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetTokens[email] = token
	return nil
}

func (m *captureMailer) verificationToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verificationTokens[email]
}

func (m *captureMailer) resetToken(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetTokens[email]
}

// memorySink collects activity events for assertions.
type memorySink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

var _ auth.ActivitySink = (*memorySink)(nil)

func (s *memorySink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) eventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, e := range s.events {
		types = append(types, string(e.EventType))
	}
	return types
}

func (s *memorySink) hasEvent(t auth.ActivityEventType) bool {
	for _, e := range s.eventTypes() {
		if strings.EqualFold(e, string(t)) {
			return true
		}
	}
	return false
}

func mustRegisterUser(repo auth.RepositoryManager, email, password string, opts ...func(*auth.User)) *auth.User {
	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}

	user := &auth.User{
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}

	for _, opt := range opts {
		opt(user)
	}

	created, err := repo.Users().Create(context.Background(), user)
	if err != nil {
		panic(err)
	}

	return created
}
