package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the keyed collection of stream handlers. All mutating
// operations serialize through one mutex so concurrent add/remove for the
// same camera cannot race.
type Registry struct {
	mu       sync.Mutex
	handlers map[uuid.UUID]*Handler
	opts     HandlerOpts
}

func NewRegistry(opts HandlerOpts) *Registry {
	return &Registry{
		handlers: make(map[uuid.UUID]*Handler),
		opts:     opts,
	}
}

// AddStream creates, starts and registers a handler for the camera. An
// existing handler for the same camera is stopped and replaced, making
// re-configuration idempotent. Waits briefly for the first connection but
// returns the handler regardless; it keeps reconnecting on its own.
func (r *Registry) AddStream(ctx context.Context, cameraID uuid.UUID, url string, fps int) *Handler {
	r.mu.Lock()
	if old, ok := r.handlers[cameraID]; ok {
		old.Stop()
		delete(r.handlers, cameraID)
	}
	h := NewHandler(cameraID, url, fps, r.opts)
	r.handlers[cameraID] = h
	r.mu.Unlock()

	h.Start()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	h.WaitConnected(waitCtx)
	return h
}

// RemoveStream stops and discards the camera's handler. No-op if absent.
func (r *Registry) RemoveStream(cameraID uuid.UUID) {
	r.mu.Lock()
	h, ok := r.handlers[cameraID]
	if ok {
		delete(r.handlers, cameraID)
	}
	r.mu.Unlock()
	if ok {
		h.Stop()
	}
}

func (r *Registry) GetStream(cameraID uuid.UUID) *Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handlers[cameraID]
}

func (r *Registry) GetAllStreams() map[uuid.UUID]*Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]*Handler, len(r.handlers))
	for id, h := range r.handlers {
		out[id] = h
	}
	return out
}

// GetActiveCount reports how many handlers are currently connected.
func (r *Registry) GetActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.handlers {
		if h.IsConnected() {
			n++
		}
	}
	return n
}

func (r *Registry) StopAll() {
	r.mu.Lock()
	handlers := make([]*Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}
	r.handlers = make(map[uuid.UUID]*Handler)
	r.mu.Unlock()

	for _, h := range handlers {
		h.Stop()
	}
}
