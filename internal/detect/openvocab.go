package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/technosupport/ts-nvr/internal/stream"
)

// QueryDetector is the open-vocabulary backend. It posts frames to an
// external detection service that matches arbitrary text queries, so the
// label set can be changed at runtime without reloading a model.
type QueryDetector struct {
	endpoint  string
	threshold float64
	client    *http.Client

	mu      sync.RWMutex
	queries []string
}

func NewQueryDetector(endpoint string, threshold float64, queries []string) *QueryDetector {
	return &QueryDetector{
		endpoint:  endpoint,
		threshold: threshold,
		queries:   append([]string(nil), queries...),
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *QueryDetector) Name() string { return "openvocab" }

// SetQueries replaces the text queries used for subsequent detections.
func (d *QueryDetector) SetQueries(queries []string) {
	d.mu.Lock()
	d.queries = append([]string(nil), queries...)
	d.mu.Unlock()
}

func (d *QueryDetector) Queries() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.queries...)
}

type ovRequest struct {
	ImageB64  string   `json:"image_b64"`
	Queries   []string `json:"queries"`
	Threshold float64  `json:"threshold"`
}

type ovResponse struct {
	Detections []struct {
		Label      string     `json:"label"`
		Confidence float64    `json:"confidence"`
		BBox       [4]float64 `json:"bbox"`
	} `json:"detections"`
	Error string `json:"error,omitempty"`
}

func (d *QueryDetector) Detect(ctx context.Context, frame *stream.Frame) (*Result, error) {
	queries := d.Queries()
	if len(queries) == 0 {
		return &Result{}, nil
	}

	body, err := json.Marshal(ovRequest{
		ImageB64:  base64.StdEncoding.EncodeToString(frame.Data),
		Queries:   queries,
		Threshold: d.threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect service returned %d", resp.StatusCode)
	}

	var out ovResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("detect service: %s", out.Error)
	}

	objects := make([]Detection, 0, len(out.Detections))
	for _, det := range out.Detections {
		objects = append(objects, Detection{
			ClassName:  det.Label,
			Confidence: det.Confidence,
			BBox:       det.BBox,
		})
	}

	return &Result{
		Objects: objects,
		Metadata: map[string]any{
			"backend":      d.Name(),
			"queries":      queries,
			"inference_ms": time.Since(start).Milliseconds(),
		},
	}, nil
}

func (d *QueryDetector) Close() error { return nil }
