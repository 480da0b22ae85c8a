// Package status mirrors live pipeline state into Redis so the API tier
// and dashboards can read camera health without touching the pipeline.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CameraStatus is the per-camera snapshot visible to readers.
type CameraStatus struct {
	CameraID    uuid.UUID `json:"camera_id"`
	StreamState string    `json:"stream_state"`
	LoopRunning bool      `json:"loop_running"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	FrameCount  uint64    `json:"frame_count"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Cache writes statuses under nvr:camera:<id>:status with a TTL, so a
// crashed writer leaves stale keys that expire instead of lying forever.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

func statusKey(cameraID uuid.UUID) string {
	return fmt.Sprintf("nvr:camera:%s:status", cameraID)
}

func (c *Cache) Set(ctx context.Context, s CameraStatus) error {
	s.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := c.rdb.Set(ctx, statusKey(s.CameraID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// Get returns the status for one camera, or nil if none is cached.
func (c *Cache) Get(ctx context.Context, cameraID uuid.UUID) (*CameraStatus, error) {
	raw, err := c.rdb.Get(ctx, statusKey(cameraID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	var s CameraStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &s, nil
}

// GetAll scans for every cached camera status.
func (c *Cache) GetAll(ctx context.Context) ([]CameraStatus, error) {
	var out []CameraStatus
	iter := c.rdb.Scan(ctx, 0, "nvr:camera:*:status", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := c.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var s CameraStatus
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan statuses: %w", err)
	}
	return out, nil
}

// Delete removes a camera's status, used when a camera is deleted outright.
func (c *Cache) Delete(ctx context.Context, cameraID uuid.UUID) error {
	return c.rdb.Del(ctx, statusKey(cameraID)).Err()
}
