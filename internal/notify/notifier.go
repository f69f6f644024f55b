// Package notify delivers operator alerts to chat channels. Alerts are
// filtered by event type so operators receive only what they subscribed to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Options tunes a Notifier.
type Options struct {
	// Events lists the event types to forward. Empty forwards everything.
	Events []string
	// Prefix is prepended to every title, e.g. "[dryrun]".
	Prefix string
	// Quiet suppresses a repeat of the same event and title within the
	// window. Zero disables suppression.
	Quiet time.Duration
}

// Notifier fans an alert out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	prefix  string
	quiet   time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewNotifier creates a Notifier for the given senders.
func NewNotifier(senders []Sender, opts Options, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(opts.Events))
	for _, e := range opts.Events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		prefix:  strings.TrimSpace(opts.Prefix),
		quiet:   opts.Quiet,
		logger:  logger.With(slog.String("component", "notifier")),
		last:    make(map[string]time.Time),
		now:     time.Now,
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify forwards an alert when its event type is subscribed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	if n.suppressed(event, title) {
		n.logger.DebugContext(ctx, "repeat alert suppressed",
			slog.String("event", event),
			slog.String("title", title),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends an alert regardless of the event filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) suppressed(event, title string) bool {
	if n.quiet <= 0 {
		return false
	}
	key := event + "\x00" + title
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if at, ok := n.last[key]; ok && now.Sub(at) < n.quiet {
		return true
	}
	n.last[key] = now
	return false
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if n.prefix != "" {
		title = n.prefix + " " + title
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
