package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/ts-nvr/internal/data"
)

// NATSPublisher fans events out onto the message bus for downstream
// consumers (recorders, dashboards). Subjects are per camera:
// <prefix>.created.<camera_id> and <prefix>.enriched.<camera_id>.
type NATSPublisher struct {
	conn       *nats.Conn
	prefix     string
	maxRetries int
}

func NewNATSPublisher(conn *nats.Conn, prefix string, maxRetries int) *NATSPublisher {
	return &NATSPublisher{
		conn:       conn,
		prefix:     prefix,
		maxRetries: maxRetries,
	}
}

func (p *NATSPublisher) PublishCreated(e *data.Event) error {
	return p.publish(fmt.Sprintf("%s.created.%s", p.prefix, e.CameraID), e)
}

func (p *NATSPublisher) PublishEnriched(e *data.Event) error {
	return p.publish(fmt.Sprintf("%s.enriched.%s", p.prefix, e.CameraID), e)
}

func (p *NATSPublisher) publish(subject string, e *data.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, payload)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
