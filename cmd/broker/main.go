package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"pairwire/broker"
	"pairwire/broker/workers"
	"pairwire/internal"
	"pairwire/logs"
	"pairwire/observability"
	"pairwire/presence"
	"pairwire/services"
	"pairwire/storage"
	"pairwire/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting so every defer (database close included)
// executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Delivery pipeline: registry, supervisor, broker, presence
	monitoring := observability.NewMonitoringManager()
	registry := broker.NewRegistry(log)
	sup := workers.NewSupervisor(log)
	brk := broker.New(log, registry, sup, monitoring, config.BufferSize)
	tracker := presence.NewTracker(brk.Events(), log)

	// 4. Storage & services
	userRepository := storage.NewUserRepository(db)
	channelRepository := storage.NewChannelRepository(db, log)
	messageRepository := storage.NewMessageRepository(db, log)

	authService := services.NewAuthService(userRepository, config.AuthTokenDuration)
	channelService := services.NewChannelService(channelRepository, userRepository, log)
	messageService := services.NewMessageService(messageRepository, channelRepository,
		userRepository, brk, monitoring, log)

	// 5. Transport
	manager := transport.NewManager()
	wsHandler := transport.NewWSHandler(log, authService, channelService, messageService,
		registry, tracker, manager, transport.WSConfig{
			HandshakeWindow: config.HandshakeWindow,
			SinkBufferSize:  config.ConnectionBufferSize,
			DeliveryTimeout: config.SinkTimeout,
			PingInterval:    config.PingInterval,
			WriteTimeout:    config.WriteTimeout,
		})
	api := transport.NewAPI(log, authService, channelService, messageService, wsHandler)

	monitoring.AddProbe(func(stats *observability.BrokerStats) {
		stats.Connections = manager.Count()
		stats.Rooms = registry.RoomCount()
		stats.OnlineUsers = len(tracker.Snapshot())
	})

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Supervised workers
	liveness := transport.NewLivenessChecker(manager, config.LivenessTimeout,
		config.LivenessInterval, log)
	stats := workers.NewStatsWorker(log, monitoring, config.MetricInterval)

	brokerDone := make(chan struct{})
	go func() {
		defer close(brokerDone)
		brk.Start(ctx, liveness, stats)
	}()

	// 8. HTTP server
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:    address,
		Handler: api.Routes(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 9. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 10. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	manager.CloseAll()
	brk.Stop()
	<-brokerDone
	log.Info("Program stopped cleanly")

	return nil
}
