// Package sink provides event consumers that bridge the fanout pipeline to
// connection write loops.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pairwire/contract"
	"pairwire/domain/event"
	"pairwire/errors"
)

var _ contract.EventSink = (*BufferedSink)(nil)

// BufferedSink decouples the room from a connection's write loop through a
// bounded channel. A write loop that stops draining (slow or dead client)
// makes Consume fail after the delivery timeout instead of stalling the
// room; the client's cursor reconciliation fills whatever was missed.
type BufferedSink struct {
	Events    chan event.DomainEvent
	log       *slog.Logger
	timeout   time.Duration
	closeOnce sync.Once
	closed    chan struct{}
}

func NewBufferedSink(log *slog.Logger, bufferSize int, timeout time.Duration) *BufferedSink {
	return &BufferedSink{
		Events:  make(chan event.DomainEvent, bufferSize),
		log:     log,
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

func (s *BufferedSink) Consume(ctx context.Context, e event.DomainEvent) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case s.Events <- e:
		return nil
	case <-s.closed:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		s.log.Warn("Sink delivery timeout, event dropped")
		return errors.ErrDeliveryUnavailable
	}
}

// Close unblocks pending Consume calls and marks the sink dead. Idempotent.
func (s *BufferedSink) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Closed exposes the termination signal for the write loop's select.
func (s *BufferedSink) Closed() <-chan struct{} {
	return s.closed
}
