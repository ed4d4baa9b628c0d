package credentials

import (
	"context"

	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrInvalidLoginMethod is returned when the persisted login method does not
// match any registered provider. It is terminal: there is nothing to retry.
var ErrInvalidLoginMethod = errors.New("Invalid login method")

// Provider is the slice of the credential-provider contract the dispatcher
// needs: a method tag and a way to sign that method out.
type Provider interface {
	Method() Method
	Logout(ctx context.Context) error
}

// Dispatcher routes logout to the provider that signed the session in, based
// on the login method persisted at login time.
type Dispatcher struct {
	store     tokenstore.Repo
	providers map[Method]Provider
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher over the given providers.
func NewDispatcher(store tokenstore.Repo, logger zerolog.Logger, providers ...Provider) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("[NewDispatcher] store is required")
	}

	byMethod := make(map[Method]Provider, len(providers))
	for _, provider := range providers {
		if provider == nil {
			return nil, errors.New("[NewDispatcher] nil provider")
		}
		if _, exists := byMethod[provider.Method()]; exists {
			return nil, errors.Errorf("[NewDispatcher] duplicate provider for method %s", provider.Method())
		}
		byMethod[provider.Method()] = provider
	}

	return &Dispatcher{
		store:     store,
		providers: byMethod,
		logger:    logger,
	}, nil
}

// Logout reads the persisted login method and delegates to the matching
// provider. A missing or unknown method is ErrInvalidLoginMethod.
func (d *Dispatcher) Logout(ctx context.Context) error {
	method, err := d.store.LoginMethod()
	if err != nil {
		d.logger.Warn().Err(err).Msg("reading login method failed")
		return ErrInvalidLoginMethod
	}

	provider, ok := d.providers[Method(method)]
	if !ok {
		d.logger.Warn().Str("method", method).Msg("no provider for login method")
		return ErrInvalidLoginMethod
	}

	return provider.Logout(ctx)
}
