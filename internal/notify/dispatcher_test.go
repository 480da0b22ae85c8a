package notify

import (
	"context"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr/internal/data"
)

type recordingChannel struct {
	name    string
	enabled bool
	sent    []*data.Event
}

func (c *recordingChannel) Name() string                       { return c.name }
func (c *recordingChannel) Enabled(s data.UserSettings) bool   { return c.enabled }
func (c *recordingChannel) Send(ctx context.Context, e *data.Event, s data.UserSettings, text string) error {
	c.sent = append(c.sent, e)
	return nil
}

type recordingPublisher struct {
	created, enriched []*data.Event
}

func (p *recordingPublisher) PublishCreated(e *data.Event) error {
	p.created = append(p.created, e)
	return nil
}

func (p *recordingPublisher) PublishEnriched(e *data.Event) error {
	p.enriched = append(p.enriched, e)
	return nil
}

func highEvent() *data.Event {
	summary := "A person is climbing the fence."
	return &data.Event{
		ID:        uuid.New(),
		CameraID:  uuid.New(),
		Type:      data.EventIntrusion,
		Severity:  data.SeverityHigh,
		Summary:   &summary,
		CreatedAt: time.Now(),
	}
}

func settingsWithNotify() data.UserSettings {
	s := data.DefaultUserSettings(uuid.New())
	s.MinSeverity = data.SeverityMedium
	return s
}

func TestShouldNotify(t *testing.T) {
	e := highEvent()

	t.Run("passes severity floor", func(t *testing.T) {
		assert.True(t, ShouldNotify(e, settingsWithNotify()))
	})

	t.Run("below severity floor", func(t *testing.T) {
		s := settingsWithNotify()
		s.MinSeverity = data.SeverityCritical
		assert.False(t, ShouldNotify(e, s))
	})

	t.Run("notifications disabled", func(t *testing.T) {
		s := settingsWithNotify()
		s.NotificationsEnabled = false
		assert.False(t, ShouldNotify(e, s))
	})

	t.Run("type filter matches", func(t *testing.T) {
		s := settingsWithNotify()
		s.NotifyEventTypes = []string{"intrusion", "fire_detected"}
		assert.True(t, ShouldNotify(e, s))
	})

	t.Run("type filter excludes", func(t *testing.T) {
		s := settingsWithNotify()
		s.NotifyEventTypes = []string{"fire_detected"}
		assert.False(t, ShouldNotify(e, s))
	})

	t.Run("all wildcard", func(t *testing.T) {
		s := settingsWithNotify()
		s.NotifyEventTypes = []string{"all"}
		assert.True(t, ShouldNotify(e, s))
	})
}

func TestDispatcherCreatedWaitsForEnrichment(t *testing.T) {
	pub := &recordingPublisher{}
	ch := &recordingChannel{name: "test", enabled: true}
	d := NewDispatcher(pub, nil, ch)

	// A bare detector event publishes to the bus but does not alert.
	e := highEvent()
	e.Summary = nil
	d.EventCreated(context.Background(), e, settingsWithNotify())
	assert.Len(t, pub.created, 1)
	assert.Empty(t, ch.sent)

	// Once enriched it alerts.
	d.EventEnriched(context.Background(), highEvent(), settingsWithNotify())
	assert.Len(t, pub.enriched, 1)
	assert.Len(t, ch.sent, 1)
}

func TestDispatcherCreatedWithSummaryAlertsImmediately(t *testing.T) {
	ch := &recordingChannel{name: "test", enabled: true}
	d := NewDispatcher(nil, nil, ch)

	// Safety-scan events are born enriched.
	e := highEvent()
	now := time.Now()
	e.SummaryGeneratedAt = &now
	d.EventCreated(context.Background(), e, settingsWithNotify())
	assert.Len(t, ch.sent, 1)
}

func TestDispatcherCreatedAlertsWhenEnrichmentDisabled(t *testing.T) {
	ch := &recordingChannel{name: "test", enabled: true}
	d := NewDispatcher(nil, nil, ch)

	// With auto-summarize off no EventEnriched will ever follow, so the
	// bare detector event must alert at creation.
	e := highEvent()
	e.Summary = nil
	s := settingsWithNotify()
	s.AutoSummarize = false
	d.EventCreated(context.Background(), e, s)
	assert.Len(t, ch.sent, 1)
}

func TestDispatcherSkipsDisabledChannels(t *testing.T) {
	on := &recordingChannel{name: "on", enabled: true}
	off := &recordingChannel{name: "off", enabled: false}
	d := NewDispatcher(nil, nil, on, off)

	d.EventEnriched(context.Background(), highEvent(), settingsWithNotify())
	assert.Len(t, on.sent, 1)
	assert.Empty(t, off.sent)
}

func TestAlertText(t *testing.T) {
	text := AlertText(highEvent())
	assert.Contains(t, text, "HIGH")
	assert.Contains(t, text, "intrusion")
	assert.Contains(t, text, "A person is climbing the fence.")
}

func TestEmailChannelBuildsMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	ch := NewEmailChannel()
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	s := settingsWithNotify()
	s.EmailEnabled = true
	s.EmailSMTPHost = "mail.example.com"
	s.EmailSMTPPort = 587
	s.EmailSMTPUser = "nvr@example.com"
	s.EmailRecipients = []string{"ops@example.com"}

	require.True(t, ch.Enabled(s))
	require.NoError(t, ch.Send(context.Background(), highEvent(), s, "alert body"))

	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "nvr@example.com", gotFrom)
	assert.Equal(t, []string{"ops@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [HIGH] intrusion alert")
	assert.Contains(t, string(gotMsg), "alert body")
}

func TestTelegramChannelEnabled(t *testing.T) {
	ch := NewTelegramChannel()
	s := settingsWithNotify()
	assert.False(t, ch.Enabled(s))

	s.TelegramEnabled = true
	s.TelegramBotToken = "token"
	s.TelegramChatID = "42"
	assert.True(t, ch.Enabled(s))
}
