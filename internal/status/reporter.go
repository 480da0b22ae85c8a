package status

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr/internal/stream"
)

// Reporter periodically snapshots the stream registry into the cache.
type Reporter struct {
	cache    *Cache
	registry *stream.Registry
	interval time.Duration

	// LoopRunning reports whether a detection loop is live for a camera;
	// optional.
	LoopRunning func(cameraID uuid.UUID) bool
}

func NewReporter(cache *Cache, registry *stream.Registry, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reporter{cache: cache, registry: registry, interval: interval}
}

func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	for id, h := range r.registry.GetAllStreams() {
		info := h.Info()
		s := CameraStatus{
			CameraID:    id,
			StreamState: string(info.State),
			Width:       info.Width,
			Height:      info.Height,
			LastFrameAt: info.LastFrameTime,
			FrameCount:  info.FrameCount,
			LastError:   info.LastError,
		}
		if r.LoopRunning != nil {
			s.LoopRunning = r.LoopRunning(id)
		}
		if err := r.cache.Set(ctx, s); err != nil {
			log.Printf("[ERROR] Status: caching camera %s: %v", id, err)
		}
	}
}
