package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kubev2v/doctrack/internal/store"
	"go.uber.org/zap"
)

// CredentialKey is the store key holding the cached credential.
const CredentialKey = "doctrack.identity"

// SignOutHook runs inside the sign-out transaction.
type SignOutHook func(ctx context.Context) error

// Session owns the cached credential. It implements client.CredentialSource.
type Session struct {
	lock       sync.Mutex
	store      store.Store
	user       *User
	restored   bool
	onRestored []func(ctx context.Context, u User)
	onSignOut  []SignOutHook
	now        func() time.Time
}

type SessionOption func(s *Session)

// WithNow replaces the clock used for expiry checks.
func WithNow(now func() time.Time) SessionOption {
	return func(s *Session) {
		s.now = now
	}
}

func NewSession(st store.Store, opts ...SessionOption) *Session {
	s := &Session{store: st, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnRestored registers fn to run once an identity is available. If one is
// already available fn runs immediately.
func (s *Session) OnRestored(ctx context.Context, fn func(ctx context.Context, u User)) {
	s.lock.Lock()
	s.onRestored = append(s.onRestored, fn)
	var user *User
	if s.user != nil {
		u := *s.user
		user = &u
	}
	s.lock.Unlock()

	if user != nil {
		fn(ctx, *user)
	}
}

func (s *Session) OnSignOut(hook SignOutHook) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onSignOut = append(s.onSignOut, hook)
}

// Restore loads the cached credential. A missing or expired credential leaves
// the session signed out and returns ErrNoIdentity or ErrExpired.
func (s *Session) Restore(ctx context.Context) (User, error) {
	record, err := s.store.Record().Get(ctx, CredentialKey)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return User{}, ErrNoIdentity
		}
		return User{}, fmt.Errorf("failed to read cached credential: %w", err)
	}

	u, err := Parse(record.Value)
	if err != nil {
		zap.S().Named("auth").Warnw("dropping unreadable cached credential", "error", err)
		_ = s.store.Record().Delete(ctx, CredentialKey)
		return User{}, err
	}
	if u.Expired(s.now()) {
		zap.S().Named("auth").Infof("cached credential for %s expired at %s", u.Username, u.ExpiresAt)
		if err := s.store.Record().Delete(ctx, CredentialKey); err != nil {
			return User{}, fmt.Errorf("failed to delete expired credential: %w", err)
		}
		return User{}, ErrExpired
	}

	s.set(ctx, u)
	return u, nil
}

// SignIn caches credential and makes it the current identity.
func (s *Session) SignIn(ctx context.Context, credential string) (User, error) {
	u, err := Parse(credential)
	if err != nil {
		return User{}, err
	}
	if u.Expired(s.now()) {
		return User{}, ErrExpired
	}
	if _, err := s.store.Record().Put(ctx, CredentialKey, u.Credential); err != nil {
		return User{}, fmt.Errorf("failed to cache credential: %w", err)
	}

	s.set(ctx, u)
	zap.S().Named("auth").Infof("signed in as %s", u.DisplayName())
	return u, nil
}

func (s *Session) set(ctx context.Context, u User) {
	s.lock.Lock()
	s.user = &u
	first := !s.restored
	s.restored = true
	callbacks := make([]func(ctx context.Context, u User), len(s.onRestored))
	copy(callbacks, s.onRestored)
	s.lock.Unlock()

	if !first {
		return
	}
	for _, fn := range callbacks {
		fn(ctx, u)
	}
}

// SignOut drops the cached credential and runs the sign-out hooks in the same
// transaction.
func (s *Session) SignOut(ctx context.Context) error {
	s.lock.Lock()
	s.user = nil
	s.restored = false
	hooks := make([]SignOutHook, len(s.onSignOut))
	copy(hooks, s.onSignOut)
	s.lock.Unlock()

	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to start sign-out transaction: %w", err)
	}

	if err := s.store.Record().Delete(txCtx, CredentialKey); err != nil {
		_, _ = store.Rollback(txCtx)
		return fmt.Errorf("failed to delete cached credential: %w", err)
	}
	for _, hook := range hooks {
		if err := hook(txCtx); err != nil {
			_, _ = store.Rollback(txCtx)
			return fmt.Errorf("sign-out hook failed: %w", err)
		}
	}
	if _, err := store.Commit(txCtx); err != nil {
		return err
	}

	zap.S().Named("auth").Info("signed out")
	return nil
}

// Identity returns the current user, if any.
func (s *Session) Identity() (User, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Token returns the bearer credential for the job service.
func (s *Session) Token(_ context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.user == nil {
		return "", ErrNoIdentity
	}
	if s.user.Expired(s.now()) {
		return "", ErrExpired
	}
	return s.user.Credential, nil
}
