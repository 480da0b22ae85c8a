// Package notify routes created and enriched events to the configured
// delivery channels: message bus, websocket dashboards, Telegram, email.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/technosupport/ts-nvr/internal/data"
)

// Channel is one user-facing delivery mechanism.
type Channel interface {
	Name() string
	Enabled(s data.UserSettings) bool
	Send(ctx context.Context, e *data.Event, s data.UserSettings, text string) error
}

// Publisher is the bus side; it always fires regardless of user filters.
type Publisher interface {
	PublishCreated(e *data.Event) error
	PublishEnriched(e *data.Event) error
}

// Broadcaster pushes to live dashboard connections.
type Broadcaster interface {
	Broadcast(kind string, e *data.Event)
}

// Dispatcher applies the user's notification filters and fans out. Bus and
// websocket delivery always happen; user channels only fire for enriched
// events that pass the severity and type filters, and for safety-scan
// events which are created already enriched.
type Dispatcher struct {
	publisher   Publisher
	broadcaster Broadcaster
	channels    []Channel
}

func NewDispatcher(publisher Publisher, broadcaster Broadcaster, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		publisher:   publisher,
		broadcaster: broadcaster,
		channels:    channels,
	}
}

func (d *Dispatcher) EventCreated(ctx context.Context, e *data.Event, s data.UserSettings) {
	if d.publisher != nil {
		if err := d.publisher.PublishCreated(e); err != nil {
			log.Printf("[ERROR] Notify: publishing created event %s: %v", e.ID, err)
		}
	}
	if d.broadcaster != nil {
		d.broadcaster.Broadcast("event.created", e)
	}

	// Detector events normally wait for enrichment before alerting a
	// human; events born with a summary (safety scans) alert right away,
	// and so do plain detector events when the user has enrichment turned
	// off, since no EventEnriched will ever follow.
	if e.SummaryGeneratedAt != nil || !s.AutoSummarize {
		d.alert(ctx, e, s)
	}
}

func (d *Dispatcher) EventEnriched(ctx context.Context, e *data.Event, s data.UserSettings) {
	if d.publisher != nil {
		if err := d.publisher.PublishEnriched(e); err != nil {
			log.Printf("[ERROR] Notify: publishing enriched event %s: %v", e.ID, err)
		}
	}
	if d.broadcaster != nil {
		d.broadcaster.Broadcast("event.enriched", e)
	}
	d.alert(ctx, e, s)
}

func (d *Dispatcher) alert(ctx context.Context, e *data.Event, s data.UserSettings) {
	if !ShouldNotify(e, s) {
		return
	}
	text := AlertText(e)
	for _, ch := range d.channels {
		if !ch.Enabled(s) {
			continue
		}
		if err := ch.Send(ctx, e, s, text); err != nil {
			log.Printf("[ERROR] Notify: %s delivery for event %s: %v", ch.Name(), e.ID, err)
		} else {
			log.Printf("Notify: %s alert sent for event %s", ch.Name(), e.ID)
		}
	}
}

// ShouldNotify applies the user's severity floor and event type filter.
func ShouldNotify(e *data.Event, s data.UserSettings) bool {
	if !s.NotificationsEnabled {
		return false
	}
	if e.Severity.Rank() < s.MinSeverity.Rank() {
		return false
	}
	if len(s.NotifyEventTypes) == 0 {
		return true
	}
	for _, t := range s.NotifyEventTypes {
		if t == "all" || strings.EqualFold(t, string(e.Type)) {
			return true
		}
	}
	return false
}

// AlertText renders the human-readable alert body.
func AlertText(e *data.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s alert\n", severityEmoji(e.Severity), strings.ToUpper(string(e.Severity)))
	fmt.Fprintf(&b, "Type: %s\n", e.Type)
	if e.Summary != nil && *e.Summary != "" {
		fmt.Fprintf(&b, "%s\n", *e.Summary)
	}
	fmt.Fprintf(&b, "Time: %s", e.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return b.String()
}

func severityEmoji(s data.EventSeverity) string {
	switch s {
	case data.SeverityCritical:
		return "🚨"
	case data.SeverityHigh:
		return "⚠️"
	case data.SeverityMedium:
		return "🔔"
	default:
		return "ℹ️"
	}
}
