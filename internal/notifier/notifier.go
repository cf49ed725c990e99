// Package notifier delivers progress and error events to external observers.
package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/ejwhitmore/tweetvault/internal/config"
	"github.com/ejwhitmore/tweetvault/internal/logger"
	"github.com/ejwhitmore/tweetvault/internal/notifier/providers"
)

// EventKind distinguishes progress from error events.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventError    EventKind = "error"
)

// Event is one structured engine event.
type Event struct {
	Kind    EventKind
	Phase   string
	Message string
	ItemIDs []string
	Time    time.Time
}

// Sender defines the interface for outbound delivery.
type Sender interface {
	Send(to, subject, body string) error
}

// Notifier publishes engine events. Progress events are logged; error events
// are additionally delivered through the sender when one is configured.
type Notifier struct {
	sender Sender
	to     string
	log    *logger.Logger
}

// New creates a notifier with the given sender. A nil sender logs only.
func New(sender Sender, to string, log *logger.Logger) *Notifier {
	return &Notifier{sender: sender, to: to, log: log.With("component", "notifier")}
}

// NewFromConfig creates a notifier based on configuration.
func NewFromConfig(cfg config.NotifyConfig, log *logger.Logger) (*Notifier, error) {
	switch cfg.Provider {
	case "smtp":
		sender := providers.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.FromAddr)
		return New(sender, cfg.ToAddr, log), nil
	case "":
		return New(nil, "", log), nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}
}

// Publish delivers one event. Delivery failures are logged, never returned:
// notification must not affect phase outcomes.
func (n *Notifier) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	switch ev.Kind {
	case EventError:
		n.log.Error("phase error", "phase", ev.Phase, "message", ev.Message, "items", len(ev.ItemIDs))
		if n.sender != nil {
			subject := fmt.Sprintf("tweetvault: phase %s failed", ev.Phase)
			body := fmt.Sprintf("Phase: %s\nTime: %s\n\n%s\n", ev.Phase, ev.Time.Format(time.RFC3339), ev.Message)
			if len(ev.ItemIDs) > 0 {
				body += fmt.Sprintf("\nAffected items:\n%s\n", strings.Join(ev.ItemIDs, "\n"))
			}
			if err := n.sender.Send(n.to, subject, body); err != nil {
				n.log.Warn("failed to deliver error notification", "error", err)
			}
		}
	default:
		n.log.Info("phase progress", "phase", ev.Phase, "message", ev.Message)
	}
}
