// Package e2e runs scenario tests against a full in-process broker: real
// BadgerDB on a temp dir, real HTTP/websocket transport, real clients.
package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/suite"

	"pairwire/broker"
	"pairwire/broker/workers"
	"pairwire/client"
	"pairwire/logs"
	"pairwire/notify"
	"pairwire/observability"
	"pairwire/presence"
	"pairwire/services"
	"pairwire/storage"
	"pairwire/transport"
)

// BaseBrokerSuite boots the whole broker stack once per suite and hands the
// scenarios connected clients. Mirrors the production wiring, minus the
// liveness and stats workers that only add noise at test timescales.
type BaseBrokerSuite struct {
	suite.Suite

	db         *badger.DB
	brk        *broker.Broker
	manager    *transport.Manager
	server     *httptest.Server
	cancel     context.CancelFunc
	brokerDone chan struct{}
}

func (s *BaseBrokerSuite) SetupSuite() {
	log := logs.GetLoggerFromString("error")

	db, err := badger.Open(badger.DefaultOptions(s.T().TempDir()).
		WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)
	s.db = db

	monitoring := observability.NewMonitoringManager()
	registry := broker.NewRegistry(log)
	sup := workers.NewSupervisor(log)
	s.brk = broker.New(log, registry, sup, monitoring, 64)
	tracker := presence.NewTracker(s.brk.Events(), log)

	userRepository := storage.NewUserRepository(db)
	channelRepository := storage.NewChannelRepository(db, log)
	messageRepository := storage.NewMessageRepository(db, log)

	authService := services.NewAuthService(userRepository, time.Hour)
	channelService := services.NewChannelService(channelRepository, userRepository, log)
	messageService := services.NewMessageService(messageRepository, channelRepository,
		userRepository, s.brk, monitoring, log)

	s.manager = transport.NewManager()
	wsHandler := transport.NewWSHandler(log, authService, channelService, messageService,
		registry, tracker, s.manager, transport.WSConfig{})
	api := transport.NewAPI(log, authService, channelService, messageService, wsHandler)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.brokerDone = make(chan struct{})
	go func() {
		defer close(s.brokerDone)
		s.brk.Start(ctx)
	}()

	s.server = httptest.NewServer(api.Routes())
}

func (s *BaseBrokerSuite) TearDownSuite() {
	s.server.Close()
	s.manager.CloseAll()
	s.cancel()
	s.brk.Stop()
	<-s.brokerDone
	s.Require().NoError(s.db.Close())
}

// RegisterUser creates an account and returns its bearer token.
func (s *BaseBrokerSuite) RegisterUser(name, role string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	email := fmt.Sprintf("%s@example.com", name)
	token, err := client.Register(ctx, s.server.URL, email, name, role, "ComplexPass123!")
	s.Require().NoError(err, "registration failed for %s", name)
	return token
}

// ConnectClient starts a resilient client for the token and waits until its
// first session is up. The client keeps reconnecting until the test ends.
func (s *BaseBrokerSuite) ConnectClient(token string) *client.Client {
	c := client.New(slog.Default(), client.Config{
		ServerURL:     s.server.URL,
		Token:         token,
		AckTimeout:    2 * time.Second,
		ReconnectBase: 50 * time.Millisecond,
	}, notify.NewFeedNotifier(64))

	ctx, cancel := context.WithCancel(context.Background())
	s.T().Cleanup(cancel)
	go func() { _ = c.Run(ctx) }()

	s.Require().Eventually(c.Connected, 5*time.Second, 20*time.Millisecond,
		"client never established a session")
	return c
}
