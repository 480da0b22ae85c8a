package detect

import (
	"context"
	"strings"

	"github.com/technosupport/ts-nvr/internal/stream"
)

// Detection is one bounding-box classification from a single inference call.
// BBox is [x1, y1, x2, y2] normalized to 0..1.
type Detection struct {
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	TrackID    int        `json:"track_id,omitempty"`
}

// Result is the full output of one detect call.
type Result struct {
	Objects  []Detection    `json:"objects"`
	Metadata map[string]any `json:"metadata"`
}

// Detector is the backend contract. Implementations are stateless with
// respect to history; temporal identity comes from the Tracker, not the
// backend.
type Detector interface {
	Detect(ctx context.Context, frame *stream.Frame) (*Result, error)
	Name() string
	Close() error
}

// FilterDetections drops detections whose class is not in the allow-list.
// An empty allow-list accepts everything.
func FilterDetections(objects []Detection, allowed []string) []Detection {
	if len(allowed) == 0 {
		return objects
	}
	allow := make(map[string]struct{}, len(allowed))
	for _, c := range allowed {
		allow[strings.ToLower(c)] = struct{}{}
	}
	var out []Detection
	for _, d := range objects {
		if _, ok := allow[strings.ToLower(d.ClassName)]; ok {
			out = append(out, d)
		}
	}
	return out
}

// FilterConfidence drops detections below the significance floor.
func FilterConfidence(objects []Detection, floor float64) []Detection {
	var out []Detection
	for _, d := range objects {
		if d.Confidence > floor {
			out = append(out, d)
		}
	}
	return out
}
