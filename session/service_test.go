package session_test

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/identity/backendfake"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/tokenstore/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "john.doe@example.com"
	testPassword = "password123"
	testName     = "John Doe"
)

// fakeTimer records whether it was stopped before firing.
type fakeTimer struct {
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// timerRecorder captures every armed timer instead of scheduling real ones.
type timerRecorder struct {
	timers    []*fakeTimer
	delays    []time.Duration
	callbacks []func()
}

func (r *timerRecorder) afterFunc(d time.Duration, f func()) session.RefreshTimer {
	timer := &fakeTimer{}
	r.timers = append(r.timers, timer)
	r.delays = append(r.delays, d)
	r.callbacks = append(r.callbacks, f)
	return timer
}

func (r *timerRecorder) pending() int {
	var count int
	for _, timer := range r.timers {
		if !timer.stopped {
			count++
		}
	}
	return count
}

type testFixture struct {
	store      *repofake.FakeTokenRepo
	backend    *backendfake.FakeBackend
	dispatcher *credentials.Dispatcher
	timers     *timerRecorder
	service    *session.Service
	now        time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	store := repofake.NewFakeTokenRepo()
	now := time.Unix(time.Now().Unix(), 0)
	backend := backendfake.New(backendfake.WithNowTime(func() time.Time { return now }))

	logger := zerolog.Nop()
	emailProvider := credentials.NewEmailProvider(backend, store, logger)
	anonProvider := credentials.NewAnonymousProvider(backend, store, logger)

	dispatcher, err := credentials.NewDispatcher(store, logger, emailProvider, anonProvider)
	require.NoError(t, err)

	timers := &timerRecorder{}
	service, err := session.New(store, backend, dispatcher,
		session.WithNowTime(func() time.Time { return now }),
		session.WithTimerFunc(timers.afterFunc),
	)
	require.NoError(t, err)

	return &testFixture{
		store:      store,
		backend:    backend,
		dispatcher: dispatcher,
		timers:     timers,
		service:    service,
		now:        now,
	}
}

// signToken crafts a session token directly; decoding is unverified so any
// signing key works.
func signToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func (f *testFixture) mintStoredToken(t *testing.T, iat, exp time.Time) string {
	t.Helper()
	raw := signToken(t, jwtlib.MapClaims{
		"iss":   "com.testissuer",
		"sub":   "user-1",
		"email": testEmail,
		"name":  testName,
		"iat":   iat.Unix(),
		"exp":   exp.Unix(),
	})
	require.NoError(t, f.store.SetToken(raw))
	return raw
}

// registerUser creates a signed-in backend account through the email
// provider and returns its session token.
func (f *testFixture) registerUser(t *testing.T) string {
	t.Helper()
	emailProvider := credentials.NewEmailProvider(f.backend, f.store, zerolog.Nop())
	raw, err := emailProvider.Register(context.Background(), testEmail, testPassword, testName)
	require.NoError(t, err)
	return raw
}

func TestLoadWithEmptyStore(t *testing.T) {
	f := setupTestFixture(t)

	require.Nil(t, f.service.Load(context.Background()))
	require.Nil(t, f.service.User())
	require.Equal(t, session.StateAnonymous, f.service.CurrentState())
}

func TestLoadWithValidToken(t *testing.T) {
	f := setupTestFixture(t)
	f.mintStoredToken(t, f.now.Add(-time.Minute), f.now.Add(time.Hour))

	user := f.service.Load(context.Background())
	require.NotNil(t, user)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, testName, user.Name)
	require.Equal(t, testEmail, user.Email)
	require.Equal(t, session.StateAuthenticated, f.service.CurrentState())
	require.Equal(t, 1, f.timers.pending())
}

func TestLoadWithExpiredToken(t *testing.T) {
	f := setupTestFixture(t)
	f.mintStoredToken(t, f.now.Add(-2*time.Hour), f.now.Add(-time.Hour))

	require.Nil(t, f.service.Load(context.Background()))
	require.Nil(t, f.service.User())

	stored, err := f.store.Token()
	require.NoError(t, err)
	require.Empty(t, stored, "invalid token should be cleared from the store")
}

func TestLoadWithFutureIssuedToken(t *testing.T) {
	f := setupTestFixture(t)
	f.mintStoredToken(t, f.now.Add(time.Minute), f.now.Add(time.Hour))

	require.Nil(t, f.service.Load(context.Background()))
	require.Nil(t, f.service.User())
}

func TestLoadWithMalformedToken(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.store.SetToken("not.a.token"))

	require.Nil(t, f.service.Load(context.Background()))
	require.Nil(t, f.service.User())
}

func TestLoadWithLoggedOutFlag(t *testing.T) {
	f := setupTestFixture(t)
	f.registerUser(t)
	require.NoError(t, f.store.SetLoggedOut(true))

	require.Nil(t, f.service.Load(context.Background()))
	require.Nil(t, f.service.User())

	loggedOut, err := f.store.LoggedOut()
	require.NoError(t, err)
	require.False(t, loggedOut, "cleanup pass should clear the flag")
}

func TestLoadWithLoggedOutFlagWhenProviderLogoutFails(t *testing.T) {
	f := setupTestFixture(t)
	f.registerUser(t)
	require.NoError(t, f.store.SetLoggedOut(true))
	f.backend.SignOutErr = identity.NewError(identity.CodeUnavailable, "backend down")

	require.Nil(t, f.service.Load(context.Background()))
	require.Nil(t, f.service.User(), "session must be cleared even when provider logout fails")

	loggedOut, err := f.store.LoggedOut()
	require.NoError(t, err)
	require.False(t, loggedOut)
}

func TestAdoptTokenRoundTrip(t *testing.T) {
	f := setupTestFixture(t)
	raw := signToken(t, jwtlib.MapClaims{
		"iss":   "com.testissuer",
		"sub":   "user-42",
		"email": "jane@example.com",
		"name":  "Jane Doe",
		"iat":   f.now.Unix(),
		"exp":   f.now.Add(time.Hour).Unix(),
	})

	user := f.service.AdoptToken(raw)
	require.NotNil(t, user)
	require.Equal(t, "user-42", user.ID)
	require.Equal(t, "Jane Doe", user.Name)
	require.Equal(t, "jane@example.com", user.Email)

	current := f.service.User()
	require.Equal(t, user, current)

	stored, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, raw, stored)
}

func TestAdoptTokenDecodeFailureLeavesStateUntouched(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.mintStoredToken(t, f.now, f.now.Add(time.Hour))
	require.NotNil(t, f.service.Load(context.Background()))

	require.Nil(t, f.service.AdoptToken("garbage"))

	require.NotNil(t, f.service.User())
	stored, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, raw, stored)
	require.Equal(t, 1, f.timers.pending())
}

func TestClearIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.mintStoredToken(t, f.now, f.now.Add(time.Hour))
	require.NotNil(t, f.service.Load(context.Background()))

	f.service.Clear()
	require.Nil(t, f.service.User())
	require.Equal(t, 0, f.timers.pending())

	// Second clear with no armed timer is a no-op, not an error.
	f.service.Clear()
	require.Nil(t, f.service.User())
	require.Equal(t, session.StateAnonymous, f.service.CurrentState())
}

func TestScheduleTwiceLeavesOneTimer(t *testing.T) {
	f := setupTestFixture(t)

	require.NotNil(t, f.service.AdoptToken(signToken(t, jwtlib.MapClaims{
		"sub": "user-1", "iat": f.now.Unix(), "exp": f.now.Add(time.Hour).Unix(),
	})))
	require.NotNil(t, f.service.AdoptToken(signToken(t, jwtlib.MapClaims{
		"sub": "user-1", "iat": f.now.Unix(), "exp": f.now.Add(2 * time.Hour).Unix(),
	})))

	require.Len(t, f.timers.timers, 2)
	require.Equal(t, 1, f.timers.pending(), "arming a new timer must cancel the previous one")
	require.True(t, f.timers.timers[0].stopped)
	require.False(t, f.timers.timers[1].stopped)
}

func TestRefreshDelayIsNinetyPercentOfRemaining(t *testing.T) {
	f := setupTestFixture(t)

	f.service.AdoptToken(signToken(t, jwtlib.MapClaims{
		"sub": "user-1", "iat": f.now.Unix(), "exp": f.now.Add(time.Hour).Unix(),
	}))

	require.Len(t, f.timers.delays, 1)
	require.Equal(t, 54*time.Minute, f.timers.delays[0])
}

func TestRefreshDelayClampsToZeroForExpiredToken(t *testing.T) {
	f := setupTestFixture(t)

	f.service.AdoptToken(signToken(t, jwtlib.MapClaims{
		"sub": "user-1", "iat": f.now.Add(-2 * time.Hour).Unix(), "exp": f.now.Add(-time.Hour).Unix(),
	}))

	require.Len(t, f.timers.delays, 1)
	require.Equal(t, time.Duration(0), f.timers.delays[0])
}

func TestRefreshWithoutActiveBackendSessionIsNoOp(t *testing.T) {
	f := setupTestFixture(t)

	refreshed, ok := f.service.Refresh(context.Background())
	require.False(t, ok)
	require.Empty(t, refreshed)
	require.Nil(t, f.service.User())
}

func TestRefreshAdoptsFreshToken(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.registerUser(t)
	require.NotNil(t, f.service.AdoptToken(raw))

	refreshed, ok := f.service.Refresh(context.Background())
	require.True(t, ok)
	require.NotEmpty(t, refreshed)

	stored, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, refreshed, stored)
	require.NotNil(t, f.service.User())
	require.Equal(t, 1, f.timers.pending())
}

func TestRefreshFailureClearsSession(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.registerUser(t)
	require.NotNil(t, f.service.AdoptToken(raw))

	f.backend.IDTokenErr = identity.NewError(identity.CodeTokenExpired, "refresh token revoked")

	_, ok := f.service.Refresh(context.Background())
	require.False(t, ok)
	require.Nil(t, f.service.User())
	require.Equal(t, 0, f.timers.pending())

	stored, err := f.store.Token()
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestTimerDrivenRefresh(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.registerUser(t)
	require.NotNil(t, f.service.AdoptToken(raw))
	require.Len(t, f.timers.callbacks, 1)

	// Fire the armed timer as the scheduler would.
	f.timers.callbacks[0]()

	require.NotNil(t, f.service.User())
	require.Equal(t, 1, f.timers.pending(), "successful refresh re-arms exactly one timer")
}

func TestWatchAuthStateArmsRefreshOnSignIn(t *testing.T) {
	f := setupTestFixture(t)
	stop := f.service.WatchAuthState()
	defer stop()

	f.registerUser(t)

	require.NotEmpty(t, f.timers.timers, "sign-in notification should arm a refresh")
	require.Equal(t, 1, f.timers.pending())
}

func TestWatchAuthStateIgnoresSignOut(t *testing.T) {
	f := setupTestFixture(t)
	f.registerUser(t)

	stop := f.service.WatchAuthState()
	defer stop()

	armed := len(f.timers.timers)
	require.NoError(t, f.backend.SignOut(context.Background()))
	require.Len(t, f.timers.timers, armed, "sign-out must not arm a refresh")
}

func TestLogoutClearsSessionAndRoutesToProvider(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.registerUser(t)
	require.NotNil(t, f.service.AdoptToken(raw))

	require.NoError(t, f.service.Logout(context.Background()))
	require.Nil(t, f.service.User())
	require.Nil(t, f.backend.CurrentAccount())
}

func TestLogoutWithUnknownMethodStillClears(t *testing.T) {
	f := setupTestFixture(t)
	raw := f.registerUser(t)
	require.NotNil(t, f.service.AdoptToken(raw))
	require.NoError(t, f.store.SetLoginMethod("UNKNOWN_METHOD"))

	err := f.service.Logout(context.Background())
	require.ErrorIs(t, err, credentials.ErrInvalidLoginMethod)
	require.Nil(t, f.service.User())
}
