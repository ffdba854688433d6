package sink

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pairwire/domain/event"
	"pairwire/errors"
)

func TestBufferedSink_Consume(t *testing.T) {
	req := require.New(t)
	s := NewBufferedSink(slog.Default(), 2, 50*time.Millisecond)

	evt := event.PresenceChanged{UserID: "alice"}
	req.NoError(s.Consume(context.Background(), evt))
	req.Equal(evt, <-s.Events)
}

func TestBufferedSink_TimeoutWhenFull(t *testing.T) {
	req := require.New(t)
	s := NewBufferedSink(slog.Default(), 1, 20*time.Millisecond)

	req.NoError(s.Consume(context.Background(), event.PresenceChanged{UserID: "a"}))

	// Buffer is full and nobody drains: the room must not stall
	err := s.Consume(context.Background(), event.PresenceChanged{UserID: "b"})
	req.ErrorIs(err, errors.ErrDeliveryUnavailable)
}

func TestBufferedSink_ClosedRejects(t *testing.T) {
	req := require.New(t)
	s := NewBufferedSink(slog.Default(), 0, time.Second)
	s.Close()
	s.Close() // idempotent

	err := s.Consume(context.Background(), event.PresenceChanged{UserID: "a"})
	req.ErrorIs(err, errors.ErrConnectionClosed)

	select {
	case <-s.Closed():
	default:
		req.Fail("Closed() should be signaled")
	}
}

func TestBufferedSink_ContextCancellation(t *testing.T) {
	req := require.New(t)
	s := NewBufferedSink(slog.Default(), 0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Consume(ctx, event.PresenceChanged{UserID: "a"})
	req.ErrorIs(err, context.Canceled)
}
