package credentials

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const socialServiceName = "SocialAuthService"

// SocialConfig describes the federated identity provider to sign in against.
type SocialConfig struct {
	ProviderID   string // provider tag forwarded to the backend, e.g. "google.com"
	IssuerURL    string // OIDC issuer, used for discovery
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SocialProvider authenticates via an OAuth2/OIDC federated provider: the
// authorization code is exchanged for an ID token, the ID token is verified
// against the provider's keys, and the verified credential is handed to the
// identity backend.
type SocialProvider struct {
	backend     identity.Backend
	store       tokenstore.Repo
	providerID  string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	logger      zerolog.Logger
}

// NewSocialProvider discovers the OIDC provider at cfg.IssuerURL and builds
// a social credential provider over it.
func NewSocialProvider(ctx context.Context, backend identity.Backend, store tokenstore.Repo, cfg SocialConfig, logger zerolog.Logger) (*SocialProvider, error) {
	oidcProvider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewSocialProvider] oidc.NewProvider")
	}

	return &SocialProvider{
		backend:    backend,
		store:      store,
		providerID: cfg.ProviderID,
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oidcProvider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		logger:   logger.With().Str("service", socialServiceName).Logger(),
	}, nil
}

func (p *SocialProvider) Method() Method {
	return MethodSocial
}

// AuthCodeURL returns the provider URL the user agent is sent to for consent.
func (p *SocialProvider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

// Login exchanges the authorization code, verifies the returned ID token and
// signs the verified credential into the identity backend.
func (p *SocialProvider) Login(ctx context.Context, code string) (string, error) {
	oauth2Token, err := p.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return "", newError(socialServiceName, "Login", identity.CodeInvalidCredentials, err.Error())
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return "", newError(socialServiceName, "Login", identity.CodeInvalidCredentials, "no ID token in provider response")
	}

	if _, err := p.verifier.Verify(ctx, rawIDToken); err != nil {
		return "", newError(socialServiceName, "Login", identity.CodeInvalidCredentials, err.Error())
	}

	if _, err := p.backend.SignInWithIDP(ctx, p.providerID, rawIDToken); err != nil {
		return "", p.wrap("Login", err)
	}

	sessionToken, err := p.backend.IDToken(ctx, false)
	if err != nil {
		return "", p.wrap("Login", err)
	}

	if err := p.store.SetLoginMethod(string(MethodSocial)); err != nil {
		p.logger.Warn().Err(err).Msg("persisting login method failed")
	}

	return sessionToken, nil
}

// Logout delegates to the backend's sign-out.
func (p *SocialProvider) Logout(ctx context.Context) error {
	if err := p.backend.SignOut(ctx); err != nil {
		return p.wrap("Logout", err)
	}
	return nil
}

func (p *SocialProvider) wrap(op string, err error) *Error {
	return newError(socialServiceName, op, identity.ErrorCode(err), err.Error())
}
