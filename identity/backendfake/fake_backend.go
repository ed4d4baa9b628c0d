// Package backendfake implements identity.Backend in memory. It hashes
// passwords with bcrypt and mints real (HS256-signed) session tokens, which
// makes it good enough for tests and for running the daemon without a live
// identity service.
package backendfake

import (
	"context"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/identity"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultIssuer   = "https://backendfake.local"
	defaultTokenTTL = time.Hour

	providerPassword  = "password"
	providerAnonymous = "anonymous"
)

var _ identity.Backend = (*FakeBackend)(nil)

type storedAccount struct {
	account      identity.Account
	passwordHash string
	providerTag  string
}

// FakeBackend is an in-memory identity backend. The exported *Err fields
// inject failures into the corresponding operations.
type FakeBackend struct {
	lock         sync.Mutex
	accounts     map[string]*storedAccount // keyed by email (or UID for anonymous)
	current      *storedAccount
	listeners    map[int]identity.AuthStateCallback
	nextListener int
	cache        map[string]string

	issuer     string
	tokenTTL   time.Duration
	signingKey []byte
	nowTime    func() time.Time

	verificationsSent map[string]int
	resetsSent        map[string]int

	SignOutErr       error
	ClearCacheErr    error
	IDTokenErr       error
	SignInNilAccount bool
}

// Option modifies a FakeBackend.
type Option func(*FakeBackend)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *FakeBackend) {
		b.nowTime = nowFunc
	}
}

// WithTokenTTL sets the lifetime of minted tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(b *FakeBackend) {
		b.tokenTTL = ttl
	}
}

// New creates an empty fake backend.
func New(options ...Option) *FakeBackend {
	backend := &FakeBackend{
		accounts:          make(map[string]*storedAccount),
		listeners:         make(map[int]identity.AuthStateCallback),
		cache:             make(map[string]string),
		issuer:            defaultIssuer,
		tokenTTL:          defaultTokenTTL,
		signingKey:        []byte(uuid.New().String()),
		nowTime:           time.Now,
		verificationsSent: make(map[string]int),
		resetsSent:        make(map[string]int),
	}

	for _, opt := range options {
		opt(backend)
	}

	return backend
}

func (b *FakeBackend) SignInWithPassword(_ context.Context, email, password string) (*identity.Account, error) {
	b.lock.Lock()

	stored, ok := b.accounts[email]
	if !ok {
		b.lock.Unlock()
		return nil, identity.NewError(identity.CodeUserNotFound, "no account for "+email)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored.passwordHash), []byte(password)) != nil {
		b.lock.Unlock()
		return nil, identity.NewError(identity.CodeInvalidCredentials, "wrong password")
	}

	b.current = stored
	nilAccount := b.SignInNilAccount
	b.notifyAndUnlock()

	if nilAccount {
		return nil, nil
	}
	return accountCopy(stored), nil
}

func (b *FakeBackend) CreateUser(_ context.Context, email, password string) (*identity.Account, error) {
	b.lock.Lock()

	if _, exists := b.accounts[email]; exists {
		b.lock.Unlock()
		return nil, identity.NewError(identity.CodeEmailExists, "account already exists for "+email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		b.lock.Unlock()
		return nil, identity.NewError(identity.CodeInternal, err.Error())
	}

	stored := &storedAccount{
		account:      identity.Account{UID: uuid.New().String(), Email: email},
		passwordHash: string(hash),
		providerTag:  providerPassword,
	}
	b.accounts[email] = stored
	b.current = stored
	b.notifyAndUnlock()

	return accountCopy(stored), nil
}

func (b *FakeBackend) SignInAnonymously(_ context.Context) (*identity.Account, error) {
	b.lock.Lock()

	stored := &storedAccount{
		account:     identity.Account{UID: uuid.New().String(), Anonymous: true},
		providerTag: providerAnonymous,
	}
	b.accounts[stored.account.UID] = stored
	b.current = stored
	b.notifyAndUnlock()

	return accountCopy(stored), nil
}

func (b *FakeBackend) SignInWithIDP(_ context.Context, providerID, _ string) (*identity.Account, error) {
	b.lock.Lock()

	stored := &storedAccount{
		account:     identity.Account{UID: uuid.New().String(), EmailVerified: true},
		providerTag: providerID,
	}
	b.accounts[stored.account.UID] = stored
	b.current = stored
	b.notifyAndUnlock()

	return accountCopy(stored), nil
}

func (b *FakeBackend) SignOut(_ context.Context) error {
	b.lock.Lock()

	if b.SignOutErr != nil {
		b.lock.Unlock()
		return b.SignOutErr
	}

	b.current = nil
	b.notifyAndUnlock()
	return nil
}

func (b *FakeBackend) IDToken(_ context.Context, _ bool) (string, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.IDTokenErr != nil {
		return "", b.IDTokenErr
	}
	if b.current == nil {
		return "", identity.NewError(identity.CodeNoActiveSession, "no account is signed in")
	}

	now := b.nowTime()
	claims := jwtlib.MapClaims{
		"iss":              b.issuer,
		"sub":              b.current.account.UID,
		"iat":              now.Unix(),
		"exp":              now.Add(b.tokenTTL).Unix(),
		"sign_in_provider": b.current.providerTag,
	}
	if b.current.account.Email != "" {
		claims["email"] = b.current.account.Email
	}
	if b.current.account.DisplayName != "" {
		claims["name"] = b.current.account.DisplayName
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(b.signingKey)
	if err != nil {
		return "", identity.NewError(identity.CodeInternal, err.Error())
	}

	b.cache["last_token"] = signed
	return signed, nil
}

func (b *FakeBackend) CurrentAccount() *identity.Account {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.current == nil {
		return nil
	}
	return accountCopy(b.current)
}

func (b *FakeBackend) OnAuthStateChanged(cb identity.AuthStateCallback) func() {
	b.lock.Lock()
	defer b.lock.Unlock()

	id := b.nextListener
	b.nextListener++
	b.listeners[id] = cb

	return func() {
		b.lock.Lock()
		defer b.lock.Unlock()
		delete(b.listeners, id)
	}
}

func (b *FakeBackend) UpdateDisplayName(_ context.Context, name string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.current == nil {
		return identity.NewError(identity.CodeNoActiveSession, "no account is signed in")
	}
	b.current.account.DisplayName = name
	return nil
}

func (b *FakeBackend) SendEmailVerification(_ context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.current == nil {
		return identity.NewError(identity.CodeNoActiveSession, "no account is signed in")
	}
	b.verificationsSent[b.current.account.Email]++
	return nil
}

func (b *FakeBackend) SendPasswordReset(_ context.Context, email string) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.accounts[email]; !ok {
		return identity.NewError(identity.CodeUserNotFound, "no account for "+email)
	}
	b.resetsSent[email]++
	return nil
}

func (b *FakeBackend) ClearCache() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.ClearCacheErr != nil {
		return b.ClearCacheErr
	}
	b.cache = make(map[string]string)
	return nil
}

// SetEmailVerified flips the verification flag on a stored account.
func (b *FakeBackend) SetEmailVerified(email string, verified bool) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if stored, ok := b.accounts[email]; ok {
		stored.account.EmailVerified = verified
	}
}

// VerificationsSent reports how many verification emails were triggered for
// an address.
func (b *FakeBackend) VerificationsSent(email string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.verificationsSent[email]
}

// ResetsSent reports how many password-reset emails were triggered for an
// address.
func (b *FakeBackend) ResetsSent(email string) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.resetsSent[email]
}

// CacheSize reports the number of provider-local cache entries.
func (b *FakeBackend) CacheSize() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.cache)
}

// notifyAndUnlock snapshots the listeners and the active account, releases
// the lock, then invokes the callbacks. Callbacks are free to call back into
// the backend (e.g. to mint a token).
func (b *FakeBackend) notifyAndUnlock() {
	var account *identity.Account
	if b.current != nil {
		account = accountCopy(b.current)
	}
	callbacks := make([]identity.AuthStateCallback, 0, len(b.listeners))
	for _, cb := range b.listeners {
		callbacks = append(callbacks, cb)
	}
	b.lock.Unlock()

	for _, cb := range callbacks {
		cb(account)
	}
}

func accountCopy(stored *storedAccount) *identity.Account {
	copied := stored.account
	return &copied
}
