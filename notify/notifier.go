// Package notify is the surface the client core pushes human-readable
// events into. The core never renders anything itself.
package notify

import "log/slog"

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Toast is one human-readable notification (new message, failed send,
// reconnecting indicator).
type Toast struct {
	Level Level
	Title string
	Body  string
}

type Notifier interface {
	Notify(t Toast)
}

// LogNotifier writes toasts to the logger. Default when no UI is attached.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(t Toast) {
	switch t.Level {
	case LevelError:
		n.Log.Error(t.Title, "body", t.Body)
	case LevelWarn:
		n.Log.Warn(t.Title, "body", t.Body)
	default:
		n.Log.Info(t.Title, "body", t.Body)
	}
}

// FeedNotifier exposes toasts on a bounded channel for a UI to drain.
// When the feed is full the oldest unread toast is dropped first.
type FeedNotifier struct {
	feed chan Toast
}

func NewFeedNotifier(size int) *FeedNotifier {
	return &FeedNotifier{feed: make(chan Toast, size)}
}

func (n *FeedNotifier) Notify(t Toast) {
	for {
		select {
		case n.feed <- t:
			return
		default:
			select {
			case <-n.feed:
			default:
			}
		}
	}
}

func (n *FeedNotifier) Feed() <-chan Toast {
	return n.feed
}
