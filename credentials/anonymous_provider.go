package credentials

import (
	"context"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/rs/zerolog"
)

const anonymousServiceName = "AnonymousAuthService"

// AnonymousProvider signs in without credentials.
type AnonymousProvider struct {
	backend identity.Backend
	store   tokenstore.Repo
	logger  zerolog.Logger
}

// NewAnonymousProvider creates an anonymous credential provider.
func NewAnonymousProvider(backend identity.Backend, store tokenstore.Repo, logger zerolog.Logger) *AnonymousProvider {
	return &AnonymousProvider{
		backend: backend,
		store:   store,
		logger:  logger.With().Str("service", anonymousServiceName).Logger(),
	}
}

func (p *AnonymousProvider) Method() Method {
	return MethodAnonymous
}

// Login mints a throwaway account and returns its session token.
func (p *AnonymousProvider) Login(ctx context.Context) (string, error) {
	if _, err := p.backend.SignInAnonymously(ctx); err != nil {
		return "", p.wrap("Login", err)
	}

	sessionToken, err := p.backend.IDToken(ctx, false)
	if err != nil {
		return "", p.wrap("Login", err)
	}

	if err := p.store.SetLoginMethod(string(MethodAnonymous)); err != nil {
		p.logger.Warn().Err(err).Msg("persisting login method failed")
	}

	return sessionToken, nil
}

// Logout delegates to the backend's sign-out. The anonymous account is
// unrecoverable afterwards.
func (p *AnonymousProvider) Logout(ctx context.Context) error {
	if err := p.backend.SignOut(ctx); err != nil {
		return p.wrap("Logout", err)
	}
	return nil
}

func (p *AnonymousProvider) wrap(op string, err error) *Error {
	return newError(anonymousServiceName, op, identity.ErrorCode(err), err.Error())
}
