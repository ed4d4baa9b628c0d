// Package restbackend implements identity.Backend against an identity
// service's REST API. All calls go through the retrying HTTP client, so
// transient 429/502/503 responses are absorbed before an error surfaces.
package restbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-auth-session/httpretry"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ identity.Backend = (*RestBackend)(nil)

// RestBackend talks to the identity service over HTTP and caches the active
// account, ID token and refresh token in memory. The cache is the
// provider-local state that ClearCache deletes.
type RestBackend struct {
	client  *httpretry.Client
	baseURL string
	apiKey  string
	logger  zerolog.Logger

	lock         sync.Mutex
	current      *identity.Account
	idToken      string
	refreshToken string
	listeners    map[int]identity.AuthStateCallback
	nextListener int
}

// Option modifies a RestBackend.
type Option func(*RestBackend)

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *RestBackend) {
		b.logger = logger
	}
}

// New creates a backend client for the identity service at baseURL. If
// client is nil a default retrying client is used.
func New(baseURL, apiKey string, client *httpretry.Client, options ...Option) *RestBackend {
	if client == nil {
		client = httpretry.New(nil)
	}

	backend := &RestBackend{
		client:    client,
		baseURL:   baseURL,
		apiKey:    apiKey,
		logger:    zerolog.Nop(),
		listeners: make(map[int]identity.AuthStateCallback),
	}

	for _, opt := range options {
		opt(backend)
	}

	return backend
}

// accountResponse is the identity service's account payload. Every sign-in
// style endpoint returns this shape.
type accountResponse struct {
	LocalID       string `json:"localId"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	EmailVerified bool   `json:"emailVerified"`
	IDToken       string `json:"idToken"`
	RefreshToken  string `json:"refreshToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// post sends a JSON POST to an identity endpoint and decodes the response
// into result.
func (b *RestBackend) post(ctx context.Context, endpoint string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "[RestBackend.post] marshalling request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+endpoint+"?key="+b.apiKey, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "[RestBackend.post] creating request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return identity.NewError(identity.CodeUnavailable, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "[RestBackend.post] reading response from %s", endpoint)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errors.Wrapf(err, "[RestBackend.post] decoding response from %s", endpoint)
		}
	}

	return nil
}

// decodeError translates an identity service failure into the normalized
// error shape. The service reports a machine message inside an error object;
// unknown messages pass through verbatim.
func decodeError(statusCode int, body []byte) error {
	var parsed errorResponse
	if json.Unmarshal(body, &parsed) != nil || parsed.Error.Message == "" {
		if statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests {
			return identity.NewError(identity.CodeUnavailable, http.StatusText(statusCode))
		}
		return identity.NewError(identity.CodeInternal, string(body))
	}

	code := parsed.Error.Message
	switch code {
	case "EMAIL_NOT_FOUND", "USER_NOT_FOUND":
		code = identity.CodeUserNotFound
	case "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS":
		code = identity.CodeInvalidCredentials
	case "EMAIL_EXISTS":
		code = identity.CodeEmailExists
	case "TOKEN_EXPIRED", "INVALID_REFRESH_TOKEN":
		code = identity.CodeTokenExpired
	}
	return identity.NewError(code, parsed.Error.Message)
}

func (b *RestBackend) signIn(ctx context.Context, endpoint string, payload any) (*identity.Account, error) {
	var resp accountResponse
	if err := b.post(ctx, endpoint, payload, &resp); err != nil {
		return nil, err
	}

	account := &identity.Account{
		UID:           resp.LocalID,
		Email:         resp.Email,
		DisplayName:   resp.DisplayName,
		EmailVerified: resp.EmailVerified,
	}

	b.lock.Lock()
	b.current = account
	b.idToken = resp.IDToken
	b.refreshToken = resp.RefreshToken
	b.notifyAndUnlock()

	copied := *account
	return &copied, nil
}

func (b *RestBackend) SignInWithPassword(ctx context.Context, email, password string) (*identity.Account, error) {
	return b.signIn(ctx, "/accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

func (b *RestBackend) CreateUser(ctx context.Context, email, password string) (*identity.Account, error) {
	return b.signIn(ctx, "/accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
}

func (b *RestBackend) SignInAnonymously(ctx context.Context) (*identity.Account, error) {
	account, err := b.signIn(ctx, "/accounts:signUp", map[string]any{
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, err
	}
	account.Anonymous = true

	b.lock.Lock()
	if b.current != nil && b.current.UID == account.UID {
		b.current.Anonymous = true
	}
	b.lock.Unlock()

	return account, nil
}

func (b *RestBackend) SignInWithIDP(ctx context.Context, providerID, idToken string) (*identity.Account, error) {
	return b.signIn(ctx, "/accounts:signInWithIdp", map[string]any{
		"postBody":          "id_token=" + idToken + "&providerId=" + providerID,
		"returnSecureToken": true,
	})
}

func (b *RestBackend) SignOut(ctx context.Context) error {
	b.lock.Lock()
	refreshToken := b.refreshToken
	b.lock.Unlock()

	if refreshToken != "" {
		// Best effort server-side revocation; local sign-out proceeds
		// regardless.
		if err := b.post(ctx, "/accounts:revokeToken", map[string]any{"refreshToken": refreshToken}, nil); err != nil {
			b.logger.Warn().Err(err).Msg("revoking refresh token failed")
		}
	}

	b.lock.Lock()
	b.current = nil
	b.idToken = ""
	b.refreshToken = ""
	b.notifyAndUnlock()
	return nil
}

func (b *RestBackend) IDToken(ctx context.Context, forceRefresh bool) (string, error) {
	b.lock.Lock()
	cached := b.idToken
	refreshToken := b.refreshToken
	b.lock.Unlock()

	if refreshToken == "" && cached == "" {
		return "", identity.NewError(identity.CodeNoActiveSession, "no account is signed in")
	}

	if !forceRefresh && cached != "" {
		if claims, err := token.Decode(cached); err == nil && claims.Valid() {
			return cached, nil
		}
	}

	var resp struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
	}
	err := b.post(ctx, "/token", map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return "", err
	}

	b.lock.Lock()
	b.idToken = resp.IDToken
	if resp.RefreshToken != "" {
		b.refreshToken = resp.RefreshToken
	}
	b.lock.Unlock()

	return resp.IDToken, nil
}

func (b *RestBackend) CurrentAccount() *identity.Account {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.current == nil {
		return nil
	}
	copied := *b.current
	return &copied
}

func (b *RestBackend) OnAuthStateChanged(cb identity.AuthStateCallback) func() {
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

func (b *RestBackend) UpdateDisplayName(ctx context.Context, name string) error {
	b.lock.Lock()
	idToken := b.idToken
	b.lock.Unlock()

	if idToken == "" {
		return identity.NewError(identity.CodeNoActiveSession, "no account is signed in")
	}

	err := b.post(ctx, "/accounts:update", map[string]any{
		"idToken":     idToken,
		"displayName": name,
	}, nil)
	if err != nil {
		return err
	}

	b.lock.Lock()
	if b.current != nil {
		b.current.DisplayName = name
	}
	b.lock.Unlock()
	return nil
}

func (b *RestBackend) SendEmailVerification(ctx context.Context) error {
	b.lock.Lock()
	idToken := b.idToken
	b.lock.Unlock()

	if idToken == "" {
		return identity.NewError(identity.CodeNoActiveSession, "no account is signed in")
	}

	return b.post(ctx, "/accounts:sendOobCode", map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     idToken,
	}, nil)
}

func (b *RestBackend) SendPasswordReset(ctx context.Context, email string) error {
	return b.post(ctx, "/accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// ClearCache drops the locally cached account and tokens without touching
// the server.
func (b *RestBackend) ClearCache() error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.current = nil
	b.idToken = ""
	b.refreshToken = ""
	return nil
}

// notifyAndUnlock snapshots listeners and the active account, releases the
// lock, then invokes the callbacks.
func (b *RestBackend) notifyAndUnlock() {
	var account *identity.Account
	if b.current != nil {
		copied := *b.current
		account = &copied
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
