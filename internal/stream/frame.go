package stream

import (
	"time"

	"github.com/google/uuid"
)

// Frame is an immutable snapshot of one captured JPEG frame. Handlers never
// mutate a frame after enqueueing it, so any number of consumers may share it.
type Frame struct {
	CameraID  uuid.UUID
	Data      []byte // JPEG bytes
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
}

// State is the handler connection state machine position.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	StateStopped      State = "stopped"
)

// Info is a point-in-time snapshot of handler state for status reporting.
type Info struct {
	CameraID      uuid.UUID `json:"camera_id"`
	URL           string    `json:"url"`
	State         State     `json:"state"`
	FPS           int       `json:"fps"`
	Width         int       `json:"width,omitempty"`
	Height        int       `json:"height,omitempty"`
	LastFrameTime time.Time `json:"last_frame_time,omitzero"`
	FrameCount    uint64    `json:"frame_count"`
	LastError     string    `json:"last_error,omitempty"`
}
