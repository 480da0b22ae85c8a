package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/detect"
	"github.com/technosupport/ts-nvr/internal/stream"
	"github.com/technosupport/ts-nvr/internal/vlm"
)

// Detector is the slice of the backend manager the loops need.
type Detector interface {
	Detect(ctx context.Context, frame *stream.Frame) (*detect.Result, error)
	Name() string
}

// FrameStore persists event frames and thumbnails to disk.
type FrameStore interface {
	SaveEventFrame(cameraID uuid.UUID, jpeg []byte, detections []data.StoredDetection) (framePath, thumbPath string, err error)
}

// Notifier receives lifecycle notifications for created and enriched events.
type Notifier interface {
	EventCreated(ctx context.Context, e *data.Event, settings data.UserSettings)
	EventEnriched(ctx context.Context, e *data.Event, settings data.UserSettings)
}

// Describer is the slice of the VLM service the enrichment path needs.
type Describer interface {
	Describe(ctx context.Context, settings data.UserSettings, tier vlm.Tier, frameJPEG []byte, prompt string) (string, error)
	Scan(ctx context.Context, settings data.UserSettings, frameJPEG []byte) (vlm.ScanVerdict, error)
}
