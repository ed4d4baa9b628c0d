// Package identity defines the capability contract for the identity backend.
// The backend is a black box: it mints session tokens, tracks the active
// account, and pushes ambient auth-state notifications. Implementations live
// in restbackend (HTTP) and backendfake (in-memory, for tests and the dev
// profile).
package identity

import "context"

// Account is the backend's view of the signed-in principal.
type Account struct {
	UID           string `json:"localId"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
	Anonymous     bool   `json:"anonymous,omitempty"`
}

// AuthStateCallback receives ambient sign-in/out notifications. The account
// is nil on sign-out.
type AuthStateCallback func(account *Account)

// Backend is the capability contract over the identity provider.
type Backend interface {
	// SignInWithPassword authenticates with email and password and makes the
	// account the backend's active session.
	SignInWithPassword(ctx context.Context, email, password string) (*Account, error)

	// CreateUser registers a new email/password account. The new account
	// becomes the active session.
	CreateUser(ctx context.Context, email, password string) (*Account, error)

	// SignInAnonymously mints a throwaway account with no credentials.
	SignInAnonymously(ctx context.Context) (*Account, error)

	// SignInWithIDP signs in with a federated identity provider credential
	// (a verified OIDC ID token from the provider).
	SignInWithIDP(ctx context.Context, providerID, idToken string) (*Account, error)

	// SignOut ends the active session on the backend.
	SignOut(ctx context.Context) error

	// IDToken returns a session token for the active account. With
	// forceRefresh a fresh token is minted even if a cached one is still
	// valid.
	IDToken(ctx context.Context, forceRefresh bool) (string, error)

	// CurrentAccount returns the active account, or nil when signed out.
	CurrentAccount() *Account

	// OnAuthStateChanged registers a push-style listener for sign-in/out
	// transitions. The returned function unsubscribes the listener.
	OnAuthStateChanged(cb AuthStateCallback) (unsubscribe func())

	// UpdateDisplayName sets the display name on the active account.
	UpdateDisplayName(ctx context.Context, name string) error

	// SendEmailVerification triggers a verification email for the active
	// account.
	SendEmailVerification(ctx context.Context) error

	// SendPasswordReset triggers a password-reset email.
	SendPasswordReset(ctx context.Context, email string) error

	// ClearCache deletes any provider-local cached state. Best effort;
	// callers treat failures as non-fatal.
	ClearCache() error
}
