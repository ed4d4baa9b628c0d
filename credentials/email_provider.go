package credentials

import (
	"context"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/rs/zerolog"
)

const emailServiceName = "EmailAuthService"

// EmailProvider authenticates with email and password.
type EmailProvider struct {
	backend identity.Backend
	store   tokenstore.Repo
	logger  zerolog.Logger
}

// NewEmailProvider creates an email/password credential provider.
func NewEmailProvider(backend identity.Backend, store tokenstore.Repo, logger zerolog.Logger) *EmailProvider {
	return &EmailProvider{
		backend: backend,
		store:   store,
		logger:  logger.With().Str("service", emailServiceName).Logger(),
	}
}

func (p *EmailProvider) Method() Method {
	return MethodEmail
}

// Login signs in with email and password. Accounts with an unverified email
// are rejected, and a sign-in that nominally succeeds without returning an
// account is treated as the user not existing rather than trusted.
func (p *EmailProvider) Login(ctx context.Context, email, password string) (string, error) {
	account, err := p.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return "", p.wrap("Login", err)
	}
	if account == nil {
		return "", newError(emailServiceName, "Login", CodeNotFound, "no user returned for "+email)
	}
	if !account.EmailVerified {
		return "", newError(emailServiceName, "Login", CodeForbidden, "email address is not verified")
	}

	return p.finishLogin(ctx, "Login")
}

// Register creates the account, sets the display name, triggers the
// verification email and returns a token for the (still signed-in) account.
// Callers that want verification-gating sign the account out afterwards.
func (p *EmailProvider) Register(ctx context.Context, email, password, displayName string) (string, error) {
	if _, err := p.backend.CreateUser(ctx, email, password); err != nil {
		return "", p.wrap("Register", err)
	}

	if displayName != "" {
		if err := p.backend.UpdateDisplayName(ctx, displayName); err != nil {
			return "", p.wrap("Register", err)
		}
	}

	if err := p.backend.SendEmailVerification(ctx); err != nil {
		return "", p.wrap("Register", err)
	}

	return p.finishLogin(ctx, "Register")
}

// ResetPassword triggers the backend's password-reset email.
func (p *EmailProvider) ResetPassword(ctx context.Context, email string) error {
	if err := p.backend.SendPasswordReset(ctx, email); err != nil {
		return p.wrap("ResetPassword", err)
	}
	return nil
}

// Logout delegates to the backend's sign-out.
func (p *EmailProvider) Logout(ctx context.Context) error {
	if err := p.backend.SignOut(ctx); err != nil {
		return p.wrap("Logout", err)
	}
	return nil
}

// finishLogin mints the session token and records the login method.
func (p *EmailProvider) finishLogin(ctx context.Context, op string) (string, error) {
	sessionToken, err := p.backend.IDToken(ctx, false)
	if err != nil {
		return "", p.wrap(op, err)
	}

	if err := p.store.SetLoginMethod(string(MethodEmail)); err != nil {
		p.logger.Warn().Err(err).Msg("persisting login method failed")
	}

	return sessionToken, nil
}

func (p *EmailProvider) wrap(op string, err error) *Error {
	return newError(emailServiceName, op, identity.ErrorCode(err), err.Error())
}
