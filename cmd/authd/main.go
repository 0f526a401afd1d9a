// Command authd is the auth collaborator: registration, login, and
// health, backed by the users tables in the same wide-column keyspace the
// chat service uses.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/chatcore/chatcore/internal/authservice"
	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/config"
	"github.com/chatcore/chatcore/internal/logging"
	"github.com/chatcore/chatcore/internal/store"
)

func main() {
	bootstrap := zerolog.New(os.Stdout).With().Timestamp().Str("service", "authd").Logger()

	cfg, err := config.LoadAuthConfig(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "authd")

	cassandra, err := store.NewCassandraStore(strings.Split(cfg.ScyllaHosts, ","), cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to user store")
	}
	defer cassandra.Close()

	if cfg.AutoMigrate {
		logger.Info().Msg("AUTH_AUTO_MIGRATE set, applying schema")
		if err := cassandra.ApplySchema(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	tokens := authtoken.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	authSrv := &authservice.Server{
		Users:      cassandra,
		Tokens:     tokens,
		BcryptCost: cfg.BcryptCost,
		Logger:     logger,
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: authSrv.Routes(),
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("authd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down authd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
}
