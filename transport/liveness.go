package transport

import (
	"context"
	"log/slog"
	"time"

	"pairwire/contract"
)

var _ contract.Worker = (*LivenessChecker)(nil)

// LivenessChecker closes connections that stopped heartbeating. Closing the
// socket unblocks the connection's read loop, whose teardown then runs the
// usual cleanup (registry, presence, manager) exactly once. The sweep never
// touches registry or presence itself: a user with another live connection
// must not lose their online status to a stale one being reaped.
type LivenessChecker struct {
	manager       *Manager
	timeout       time.Duration
	checkInterval time.Duration
	log           *slog.Logger
}

func NewLivenessChecker(manager *Manager, timeout, checkInterval time.Duration,
	log *slog.Logger) *LivenessChecker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &LivenessChecker{
		manager:       manager,
		timeout:       timeout,
		checkInterval: checkInterval,
		log:           log,
	}
}

func (l *LivenessChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.checkInterval)
	defer ticker.Stop()

	l.log.Info("Liveness checker started",
		"timeout", l.timeout, "check_interval", l.checkInterval)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Liveness checker stopped")
			return nil
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *LivenessChecker) sweep() {
	now := time.Now()
	for _, conn := range l.manager.All() {
		if now.Sub(conn.LastActive()) <= l.timeout {
			continue
		}
		l.log.Debug("Connection liveness timeout",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"last_active", conn.LastActive())
		conn.Close()
	}
}
