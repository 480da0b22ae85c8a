package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/technosupport/ts-nvr/internal/data"
)

// EmailChannel delivers alerts over SMTP with the server and credentials
// taken from the user's settings.
type EmailChannel struct {
	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailChannel() *EmailChannel {
	return &EmailChannel{send: smtp.SendMail}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Enabled(s data.UserSettings) bool {
	return s.EmailEnabled && s.EmailSMTPHost != "" && len(s.EmailRecipients) > 0
}

func (c *EmailChannel) Send(ctx context.Context, e *data.Event, s data.UserSettings, text string) error {
	from := s.EmailFromAddress
	if from == "" {
		from = s.EmailSMTPUser
	}

	subject := fmt.Sprintf("[%s] %s alert", strings.ToUpper(string(e.Severity)), e.Type)
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.EmailRecipients, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(text)
	msg.WriteString("\r\n")

	var auth smtp.Auth
	if s.EmailSMTPUser != "" {
		auth = smtp.PlainAuth("", s.EmailSMTPUser, s.EmailSMTPPassword, s.EmailSMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", s.EmailSMTPHost, s.EmailSMTPPort)

	// smtp.SendMail has no context support; the dispatcher already runs
	// channels on background tasks.
	done := make(chan error, 1)
	go func() {
		done <- c.send(addr, auth, from, s.EmailRecipients, []byte(msg.String()))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
