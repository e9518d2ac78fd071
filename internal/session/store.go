// Package session owns the signed-in state of the app: who is logged in,
// persisted to secure storage so it survives restarts.
//
// The in-memory session is swapped under a mutex, but storage and network
// I/O run outside it. Overlapping Login/Logout calls are last-writer-wins,
// both in memory and per storage key; Initialize treats any partial key set
// as signed out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"civicreport/internal/logging"
	"civicreport/internal/securestore"
)

// Storage keys. All four make up one session.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "expires_at"
	KeyUser         = "user"
)

// Keys lists the storage keys in write order.
var Keys = []string{KeyAccessToken, KeyRefreshToken, KeyExpiresAt, KeyUser}

var (
	// ErrStorageUnavailable: secure storage could not be reached at startup.
	// The store is still ready, signed out.
	ErrStorageUnavailable = errors.New("session storage unavailable")
	// ErrPersistenceFailed: memory was updated but storage was not.
	ErrPersistenceFailed = errors.New("session persistence failed")
	// ErrNoActiveSession: a mutation needs a signed-in user.
	ErrNoActiveSession = errors.New("no active session")
	// ErrMalformedSession: Login was handed an incomplete session.
	ErrMalformedSession = errors.New("malformed session")
)

// Revoker invalidates the server-side session on logout.
type Revoker interface {
	SignOut(ctx context.Context, accessToken string) error
}

// Store is the single owner of the current session.
type Store struct {
	storage securestore.Store
	revoker Revoker
	logger  *slog.Logger

	initOnce sync.Once
	initErr  error
	readyCh  chan struct{}

	mu        sync.RWMutex
	session   *Session
	ready     bool
	listeners map[int]func(State)
	nextID    int

	// pending holds states not yet delivered; delivering marks a goroutine
	// already draining it.
	pending    []State
	delivering bool
}

// Option configures a Store.
type Option func(*Store)

// WithRevoker sets the remote sign-out used by Logout.
func WithRevoker(r Revoker) Option {
	return func(s *Store) { s.revoker = r }
}

// WithLogger routes store logs to l.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.Component(l, "session") }
}

// New returns a store that is not ready until Initialize completes.
func New(storage securestore.Store, opts ...Option) *Store {
	s := &Store{
		storage:   storage,
		logger:    logging.Component(logging.Discard(), "session"),
		readyCh:   make(chan struct{}),
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ===== Reads =====

// Session returns a copy of the current session, or nil when signed out.
func (s *Store) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	return s.session.clone()
}

// Ready reports whether the initial load from storage has finished.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Snapshot returns session and readiness read together.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateLocked()
}

// WaitReady blocks until Initialize has completed or ctx is done.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers fn to be called after every state change. Calls happen
// outside the store's lock, one at a time and in the order the changes were
// made. A change made while listeners are running is delivered by the
// goroutine already delivering, so the last state a listener sees is the
// store's current one.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// ===== Lifecycle =====

// Initialize loads the persisted session once. Corrupt or partial storage
// yields a signed-out store, not an error. Only an unreachable storage
// facility is reported, as ErrStorageUnavailable; the store is ready either
// way. Later calls return the first call's result.
func (s *Store) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		sess, err := s.readPersisted(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "secure storage unreachable, starting signed out", "error", err.Error())
			s.initErr = fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			sess = nil
		}
		s.swap(func(*Session) (*Session, error) { return sess, nil }, true)
		close(s.readyCh)
		s.logger.InfoContext(ctx, "session initialized", "signed_in", sess != nil)
	})
	return s.initErr
}

// Login publishes newSession immediately, then persists it. When storage
// fails the session stays active in memory and ErrPersistenceFailed is
// returned.
func (s *Store) Login(ctx context.Context, newSession Session) error {
	if err := newSession.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSession, err)
	}
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	next := newSession.clone()
	s.swap(func(*Session) (*Session, error) { return next, nil }, false)
	s.logger.InfoContext(ctx, "signed in", "user_id", next.User.ID)

	if err := s.persist(ctx, *next); err != nil {
		s.logger.ErrorContext(ctx, "persist session failed", "user_id", next.User.ID, "error", err.Error())
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// UpdateUser merges patch into the current user and persists only the user
// key. Tokens and expiry are untouched.
func (s *Store) UpdateUser(ctx context.Context, patch UserPatch) (Session, error) {
	if err := s.WaitReady(ctx); err != nil {
		return Session{}, err
	}
	updated, err := s.swap(func(cur *Session) (*Session, error) {
		if cur == nil {
			return nil, ErrNoActiveSession
		}
		next := cur.clone()
		next.User = patch.apply(next.User)
		return next, nil
	}, false)
	if err != nil {
		return Session{}, err
	}

	userJSON, err := json.Marshal(updated.User)
	if err != nil {
		return *updated, fmt.Errorf("%w: encode user: %v", ErrPersistenceFailed, err)
	}
	if err := s.storage.Set(ctx, KeyUser, string(userJSON)); err != nil {
		s.logger.ErrorContext(ctx, "persist user failed", "user_id", updated.User.ID, "error", err.Error())
		return *updated, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return *updated, nil
}

// Logout signs out locally first, then clears every storage key, then asks
// the identity provider to drop the server session. A remote failure is
// logged only; the local sign-out is never undone.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	var prev *Session
	s.swap(func(cur *Session) (*Session, error) {
		prev = cur
		return nil, nil
	}, false)

	var errs []error
	for _, key := range Keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}

	if prev != nil {
		s.logger.InfoContext(ctx, "signed out", "user_id", prev.User.ID)
		if s.revoker != nil {
			if err := s.revoker.SignOut(ctx, prev.AccessToken); err != nil {
				s.logger.WarnContext(ctx, "remote sign-out failed", "user_id", prev.User.ID, "error", err.Error())
			}
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.ErrorContext(ctx, "clear session storage failed", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// ===== Internals =====

// swap replaces the in-memory session with whatever fn returns, under the
// lock, then notifies listeners. fn's error aborts without a change.
func (s *Store) swap(fn func(cur *Session) (*Session, error), markReady bool) (*Session, error) {
	s.mu.Lock()
	next, err := fn(s.session)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.session = next
	if markReady {
		s.ready = true
	}
	s.pending = append(s.pending, s.stateLocked())
	drain := !s.delivering
	s.delivering = true
	s.mu.Unlock()

	if drain {
		s.deliver()
	}
	if next == nil {
		return nil, nil
	}
	return next.clone(), nil
}

// deliver hands queued states to listeners in order until the queue is empty.
func (s *Store) deliver() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.delivering = false
			s.mu.Unlock()
			return
		}
		state := s.pending[0]
		s.pending = s.pending[1:]
		listeners := make([]func(State), 0, len(s.listeners))
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
		s.mu.Unlock()

		for _, l := range listeners {
			l(state)
		}
	}
}

func (s *Store) stateLocked() State {
	st := State{Ready: s.ready}
	if s.session != nil {
		st.Session = s.session.clone()
	}
	return st
}

func (s *Store) persist(ctx context.Context, sess Session) error {
	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	values := map[string]string{
		KeyAccessToken:  sess.AccessToken,
		KeyRefreshToken: sess.RefreshToken,
		KeyExpiresAt:    strconv.FormatInt(sess.ExpiresAt, 10),
		KeyUser:         string(userJSON),
	}
	var errs []error
	for _, key := range Keys {
		if err := s.storage.Set(ctx, key, values[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// readPersisted returns nil, nil for any missing, partial or corrupt key set.
// An error means storage itself could not be read.
func (s *Store) readPersisted(ctx context.Context) (*Session, error) {
	values := make(map[string]string, len(Keys))
	for _, key := range Keys {
		v, found, err := s.storage.Get(ctx, key)
		switch {
		case errors.Is(err, securestore.ErrCorrupt):
			s.logger.WarnContext(ctx, "stored session value corrupt", "key", key)
			return nil, nil
		case err != nil:
			return nil, err
		case !found:
			if len(values) > 0 {
				s.logger.WarnContext(ctx, "partial session in storage, treating as signed out", "missing", key)
			}
			return nil, nil
		}
		values[key] = v
	}

	expiresAt, err := strconv.ParseInt(values[KeyExpiresAt], 10, 64)
	if err != nil {
		s.logger.WarnContext(ctx, "stored expires_at is not an integer")
		return nil, nil
	}
	var user User
	if err := json.Unmarshal([]byte(values[KeyUser]), &user); err != nil {
		s.logger.WarnContext(ctx, "stored user is not valid json")
		return nil, nil
	}
	sess := Session{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		ExpiresAt:    expiresAt,
		User:         user,
	}
	if err := sess.Validate(); err != nil {
		s.logger.WarnContext(ctx, "stored session incomplete", "reason", err.Error())
		return nil, nil
	}
	return &sess, nil
}
