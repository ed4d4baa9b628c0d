package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/credentials"
	"github.com/jrsteele09/go-auth-session/httpretry"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/identity/backendfake"
	"github.com/jrsteele09/go-auth-session/identity/restbackend"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/jrsteele09/go-auth-session/tokenstore/boltrepo"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running sessiond: %s\n", err)
	}
	log.Printf("sessiond stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	displayAppname(cfg.AppName)
	logger := logging.New(cfg.Environment, cfg.LogLevel)

	store, err := boltrepo.Open(cfg.StateDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	backend := newBackend(cfg, logger)

	service, err := newSessionService(cfg, store, backend, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if user := service.Load(ctx); user != nil {
		logger.Info().Str("user_id", user.ID).Str("email", user.Email).Msg("session restored")
	} else {
		logger.Info().Msg("no session to restore")
	}

	stop := service.WatchAuthState()
	defer stop()

	waitForStopSignal()
	return nil
}

// newBackend picks the HTTP backend when one is configured and falls back to
// the in-memory backend for local development.
func newBackend(cfg *config.Config, logger zerolog.Logger) identity.Backend {
	if cfg.IdentityBaseURL == "" {
		logger.Warn().Msg("IDENTITY_BASE_URL not set, using in-memory identity backend")
		return backendfake.New()
	}

	retryClient := httpretry.New(nil, httpretry.WithLogger(logger))
	return restbackend.New(cfg.IdentityBaseURL, cfg.IdentityAPIKey, retryClient, restbackend.WithLogger(logger))
}

func newSessionService(cfg *config.Config, store tokenstore.Repo, backend identity.Backend, logger zerolog.Logger) (*session.Service, error) {
	providers := []credentials.Provider{
		credentials.NewEmailProvider(backend, store, logger),
		credentials.NewAnonymousProvider(backend, store, logger),
	}

	if cfg.SocialIssuerURL != "" {
		socialProvider, err := credentials.NewSocialProvider(context.Background(), backend, store, credentials.SocialConfig{
			ProviderID:   cfg.SocialProviderID,
			IssuerURL:    cfg.SocialIssuerURL,
			ClientID:     cfg.SocialClientID,
			ClientSecret: cfg.SocialClientSecret,
			RedirectURL:  cfg.SocialRedirectURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, socialProvider)
	}

	dispatcher, err := credentials.NewDispatcher(store, logger, providers...)
	if err != nil {
		return nil, err
	}

	return session.New(store, backend, dispatcher, session.WithLogger(logger))
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
