// Command chatd is the chat service: it serves the Session Handler's
// WebSocket upgrade endpoint and the Message Store's REST API side by
// side, fed by one Event Bus Consumer draining the shared topic into the
// Message Store and the Fan-out Manager.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/chatcore/chatcore/internal/authtoken"
	"github.com/chatcore/chatcore/internal/config"
	"github.com/chatcore/chatcore/internal/events"
	"github.com/chatcore/chatcore/internal/fanout"
	"github.com/chatcore/chatcore/internal/logging"
	"github.com/chatcore/chatcore/internal/metrics"
	"github.com/chatcore/chatcore/internal/ratelimit"
	"github.com/chatcore/chatcore/internal/resourceguard"
	"github.com/chatcore/chatcore/internal/restapi"
	"github.com/chatcore/chatcore/internal/session"
	"github.com/chatcore/chatcore/internal/store"
)

func main() {
	bootstrap := zerolog.New(os.Stdout).With().Timestamp().Str("service", "chatd").Logger()

	cfg, err := config.LoadChatConfig(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, "chatd")

	cassandra, err := store.NewCassandraStore(strings.Split(cfg.ScyllaHosts, ","), cfg.ScyllaKeyspace)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to message store")
	}
	defer cassandra.Close()

	if cfg.AutoMigrate {
		logger.Info().Msg("CHAT_AUTO_MIGRATE set, applying schema")
		if err := cassandra.ApplySchema(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply schema")
		}
	}

	tokens := authtoken.NewManager(cfg.JWTSecret, 0)
	fm := fanout.NewManager(cfg.RoomCapacity, logger)

	guard := resourceguard.New(resourceguard.Config{
		MaxConnections:     cfg.MaxConnections,
		MaxGoroutines:      cfg.MaxGoroutines,
		MaxBroadcastRate:   cfg.MaxBroadcastRate,
		MaxConsumeRate:     cfg.MaxConsumeRate,
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
		MemoryLimitBytes:   cfg.MemoryLimit,
	}, logger)
	stopMonitoring := make(chan struct{})
	guard.StartMonitoring(cfg.MetricsInterval, stopMonitoring)
	defer close(stopMonitoring)

	limiter := ratelimit.New(ratelimit.Config{Burst: cfg.MaxInboundRate, Rate: float64(cfg.MaxInboundRate) / 2, Logger: logger})
	defer limiter.Stop()

	producer, err := events.NewProducer(events.ProducerConfig{
		Brokers: strings.Split(cfg.KafkaBrokers, ","),
		Topic:   cfg.KafkaTopic,
		Timeout: cfg.ProducerTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start event bus producer")
	}
	defer producer.Close()

	consumer, err := events.NewConsumer(events.ConsumerConfig{
		Brokers: strings.Split(cfg.KafkaBrokers, ","),
		Topic:   cfg.KafkaTopic,
		GroupID: cfg.ConsumerGroup,
		Store:   cassandra,
		Fanout:  fm,
		Guard:   guard,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start event bus consumer")
	}

	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	go consumer.Run(consumerCtx)

	wsHandler := session.NewHandler(tokens, fm, cassandra, limiter, guard, logger)
	restServer := &restapi.Server{Store: cassandra, Producer: producer, Tokens: tokens, Logger: logger}

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", restServer.Routes())

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("chatd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down chatd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	cancelConsumer()
	consumer.Stop()
}
