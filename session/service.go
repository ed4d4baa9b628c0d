// Package session owns the client-side session lifecycle: it projects the
// current user out of the stored session token, validates token freshness on
// load, proactively refreshes the token before it expires and tears the
// session down on logout.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// User is the in-memory projection of the identity claims carried by a valid
// session token.
type User struct {
	ID    string
	Name  string
	Email string
}

// State describes where the service is in its lifecycle.
type State string

const (
	// StateAnonymous means no user is adopted (never signed in, or cleared).
	StateAnonymous State = "ANONYMOUS_OR_NONE"
	// StateAuthenticated means a user is adopted and a refresh is armed.
	StateAuthenticated State = "AUTHENTICATED"
	// StateRefreshing means a token refresh is in flight.
	StateRefreshing State = "REFRESHING"
)

// LogoutDispatcher routes logout to the credential provider that
// authenticated the session.
type LogoutDispatcher interface {
	Logout(ctx context.Context) error
}

// RefreshTimer is the handle of a pending refresh. *time.Timer satisfies it.
type RefreshTimer interface {
	Stop() bool
}

// TimerFunc arms a callback after a delay. time.AfterFunc is the default.
type TimerFunc func(d time.Duration, f func()) RefreshTimer

func defaultTimerFunc(d time.Duration, f func()) RefreshTimer {
	return time.AfterFunc(d, f)
}

// Service is the session state service. One instance owns the current user
// and the single refresh timer; construct it at the composition root and
// inject it where needed.
type Service struct {
	store   tokenstore.Repo
	backend identity.Backend
	logout  LogoutDispatcher
	logger  zerolog.Logger

	nowTime   func() time.Time
	timerFunc TimerFunc

	lock         sync.Mutex
	currentUser  *User
	refreshTimer RefreshTimer
	refreshing   bool
}

// Option modifies the Service.
type Option func(*Service)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithTimerFunc replaces the timer factory (primarily for testing).
func WithTimerFunc(timerFunc TimerFunc) Option {
	return func(s *Service) {
		s.timerFunc = timerFunc
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a session service over the given store, backend and logout
// dispatcher.
func New(store tokenstore.Repo, backend identity.Backend, logout LogoutDispatcher, options ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("[session.New] store is required")
	}
	if backend == nil {
		return nil, errors.New("[session.New] backend is required")
	}
	if logout == nil {
		return nil, errors.New("[session.New] logout dispatcher is required")
	}

	service := &Service{
		store:     store,
		backend:   backend,
		logout:    logout,
		logger:    zerolog.Nop(),
		nowTime:   time.Now,
		timerFunc: defaultTimerFunc,
	}

	for _, opt := range options {
		opt(service)
	}

	return service, nil
}

// User returns the adopted user, or nil when the session is anonymous.
func (s *Service) User() *User {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.currentUser == nil {
		return nil
	}
	copied := *s.currentUser
	return &copied
}

// CurrentState reports the lifecycle state.
func (s *Service) CurrentState() State {
	s.lock.Lock()
	defer s.lock.Unlock()

	switch {
	case s.refreshing:
		return StateRefreshing
	case s.currentUser != nil:
		return StateAuthenticated
	default:
		return StateAnonymous
	}
}

// Load restores the session from the token store on startup. A set
// logged-out flag forces a logout-cleanup pass first (cleanup errors are
// logged but the session is still cleared). Otherwise the stored token is
// adopted when time-valid and the session is cleared when it is absent,
// undecodable, expired or issued in the future. Load never returns an error;
// every failure path yields a nil user.
func (s *Service) Load(ctx context.Context) *User {
	loggedOut, err := s.store.LoggedOut()
	if err != nil {
		s.logger.Warn().Err(err).Msg("reading logged-out flag failed")
	}
	if loggedOut {
		if err := s.logout.Logout(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("logout cleanup on load failed")
		}
		s.Clear()
		return nil
	}

	rawToken, err := s.store.Token()
	if err != nil {
		s.logger.Warn().Err(err).Msg("reading stored token failed")
	}
	if rawToken == "" {
		s.Clear()
		return nil
	}

	claims, err := token.Decode(rawToken)
	if err != nil || !claims.ValidAt(s.nowTime()) {
		s.logger.Debug().AnErr("decode", err).Msg("stored token invalid, clearing session")
		s.Clear()
		return nil
	}

	return s.adopt(rawToken, claims)
}

// AdoptToken decodes the token and, on success, persists it and replaces the
// current user, re-arming the refresh timer. Decode failures return nil
// without mutating any state.
func (s *Service) AdoptToken(rawToken string) *User {
	claims, err := token.Decode(rawToken)
	if err != nil {
		s.logger.Debug().Err(err).Msg("rejecting undecodable token")
		return nil
	}
	return s.adopt(rawToken, claims)
}

func (s *Service) adopt(rawToken string, claims *token.Claims) *User {
	if err := s.store.SetToken(rawToken); err != nil {
		s.logger.Warn().Err(err).Msg("persisting token failed")
	}

	user := &User{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
	}

	s.lock.Lock()
	s.currentUser = user
	s.scheduleRefreshLocked(claims)
	s.lock.Unlock()

	copied := *user
	return &copied
}

// Clear cancels any pending refresh, clears the persisted session keys,
// drops the current user and best-effort deletes the provider-local cache.
// It is idempotent and never fails; cleanup errors are logged and swallowed.
func (s *Service) Clear() {
	s.lock.Lock()
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.currentUser = nil
	s.lock.Unlock()

	if err := s.store.Clear(); err != nil {
		s.logger.Warn().Err(err).Msg("clearing token store failed")
	}
	if err := s.backend.ClearCache(); err != nil {
		s.logger.Warn().Err(err).Msg("clearing provider cache failed")
	}
}

// Refresh mints a fresh token from the backend and adopts it. Without an
// active backend session it is a no-op. A refresh failure means the session
// is no longer valid: the session is cleared rather than retried (transient
// transport errors are already retried a layer below). At most one refresh
// runs at a time; a caller racing an in-flight refresh returns immediately.
func (s *Service) Refresh(ctx context.Context) (string, bool) {
	s.lock.Lock()
	if s.refreshing {
		s.lock.Unlock()
		return "", false
	}
	s.refreshing = true
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		s.refreshing = false
		s.lock.Unlock()
	}()

	if s.backend.CurrentAccount() == nil {
		return "", false
	}

	rawToken, err := s.backend.IDToken(ctx, true)
	if err != nil {
		s.logger.Warn().Err(err).Msg("token refresh failed, clearing session")
		s.Clear()
		return "", false
	}

	if user := s.AdoptToken(rawToken); user == nil {
		s.logger.Warn().Msg("refreshed token undecodable, clearing session")
		s.Clear()
		return "", false
	}

	return rawToken, true
}

// scheduleRefreshLocked arms the refresh at 90% of the token's remaining
// lifetime, cancelling any previously armed timer first. A token at or past
// expiry fires immediately. Caller holds s.lock.
func (s *Service) scheduleRefreshLocked(claims *token.Claims) {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	remaining := claims.Remaining(s.nowTime())
	delay := remaining - remaining/10
	if delay < 0 {
		delay = 0
	}

	s.logger.Debug().Dur("delay", delay).Time("expires", claims.ExpiresAt).Msg("refresh scheduled")
	s.refreshTimer = s.timerFunc(delay, func() {
		s.Refresh(context.Background())
	})
}

// WatchAuthState subscribes to the backend's ambient sign-in/out
// notifications. A sign-in arms a refresh off a freshly minted token;
// sign-out is ignored here because teardown is driven through Clear by
// whoever initiated the logout. The returned function unsubscribes.
func (s *Service) WatchAuthState() (stop func()) {
	return s.backend.OnAuthStateChanged(func(account *identity.Account) {
		if account == nil {
			return
		}

		rawToken, err := s.backend.IDToken(context.Background(), true)
		if err != nil {
			s.logger.Warn().Err(err).Msg("minting token on auth state change failed")
			return
		}

		claims, err := token.Decode(rawToken)
		if err != nil {
			s.logger.Warn().Err(err).Msg("decoding token on auth state change failed")
			return
		}

		s.lock.Lock()
		s.scheduleRefreshLocked(claims)
		s.lock.Unlock()
	})
}

// Logout runs the full sign-out: route to the signing-in provider via the
// dispatcher, then clear local state regardless of the outcome. The
// dispatcher error (if any) is returned so the caller can surface it, but
// the session is gone either way.
func (s *Service) Logout(ctx context.Context) error {
	err := s.logout.Logout(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("provider logout failed")
	}
	s.Clear()
	return err
}
