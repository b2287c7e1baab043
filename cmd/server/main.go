package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-webapp-auth/authware"
	"github.com/jrsteele09/go-webapp-auth/directory"
	"github.com/jrsteele09/go-webapp-auth/internal/config"
	"github.com/jrsteele09/go-webapp-auth/provider"
	"github.com/jrsteele09/go-webapp-auth/server"
	"github.com/jrsteele09/go-webapp-auth/sessions"
	"github.com/jrsteele09/go-webapp-auth/validator"
	"github.com/rs/zerolog/log"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config.Load: %w", err)
	}
	displayAppname(cfg.GetAppName())

	ctx := context.Background()
	mw, sessionRepo, err := buildMiddleware(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, mw, sessionRepo)
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{Addr: cfg.GetPort(), Handler: srv}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

// buildMiddleware wires the provider client, validators, directory client
// and session store into the authentication middleware.
func buildMiddleware(ctx context.Context, cfg config.Config) (*authware.Middleware, sessions.Repo, error) {
	providerClient, err := provider.Discover(ctx, cfg.GetAuthority(), cfg.GetClientID(), cfg.GetClientSecret())
	if err != nil {
		return nil, nil, fmt.Errorf("provider.Discover: %w", err)
	}

	idValidator, err := validator.NewOIDCIDTokenValidator(ctx, cfg.GetAuthority(), cfg.GetClientID())
	if err != nil {
		return nil, nil, fmt.Errorf("validator.NewOIDCIDTokenValidator: %w", err)
	}

	var options []authware.MiddlewareOption
	if audiences := cfg.GetAPIAudiences(); len(audiences) > 0 {
		keyfunc, err := validator.NewJWKSKeyfunc(ctx, cfg.GetAuthority())
		if err != nil {
			return nil, nil, fmt.Errorf("validator.NewJWKSKeyfunc: %w", err)
		}
		bearerValidator, err := validator.NewJWTBearerValidator(keyfunc.Keyfunc, audiences)
		if err != nil {
			return nil, nil, fmt.Errorf("validator.NewJWTBearerValidator: %w", err)
		}
		options = append(options, authware.WithBearerValidator(bearerValidator))
	}
	if cfg.GetDirectoryBaseURL() != "" {
		directoryClient, err := directory.NewGraphClient(cfg.GetDirectoryBaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("directory.NewGraphClient: %w", err)
		}
		options = append(options, authware.WithDirectory(directoryClient))
	}

	sessionRepo := sessions.NewInMemoryRepo()

	mw, err := authware.New(authware.Config{
		Authority:              cfg.GetAuthority(),
		RedirectURI:            cfg.GetBaseURL() + cfg.GetRedirectPath(),
		UnauthorizedPath:       cfg.GetUnauthorizedPath(),
		ErrorPath:              cfg.GetErrorPath(),
		EndSessionEndpoint:     providerClient.Endpoints().EndSessionURL,
		PostLogoutRedirectPath: cfg.GetPostLogoutRedirectPath(),
		DirectoryReadScope:     cfg.GetDirectoryReadScope(),
		DefaultScopes:          cfg.GetScopes(),
	}, sessionRepo, providerClient, idValidator, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("authware.New: %w", err)
	}

	return mw, sessionRepo, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
