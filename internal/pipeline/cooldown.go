package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// cooldownGate rate-limits event creation per (camera, class). Allow and
// Mark are split so an event that fails to persist does not consume the
// cooldown window.
type cooldownGate struct {
	mu      sync.Mutex
	fired   map[string]time.Time
	now     func() time.Time
	cleanup time.Time
}

func newCooldownGate() *cooldownGate {
	return &cooldownGate{
		fired: make(map[string]time.Time),
		now:   time.Now,
	}
}

func cooldownKey(cameraID uuid.UUID, class string) string {
	return fmt.Sprintf("%s|%s", cameraID, class)
}

// Allow reports whether a (camera, class) pair is outside its cooldown
// window of the given duration.
func (g *cooldownGate) Allow(cameraID uuid.UUID, class string, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.maybeCleanup(now, window)

	last, ok := g.fired[cooldownKey(cameraID, class)]
	return !ok || now.Sub(last) >= window
}

// Mark records that an event fired for the pair. Called only after the
// event row is persisted.
func (g *cooldownGate) Mark(cameraID uuid.UUID, class string) {
	g.mu.Lock()
	g.fired[cooldownKey(cameraID, class)] = g.now()
	g.mu.Unlock()
}

// maybeCleanup drops stale entries so the map does not grow with every
// class ever seen. Runs at most once per window.
func (g *cooldownGate) maybeCleanup(now time.Time, window time.Duration) {
	if window <= 0 || now.Sub(g.cleanup) < window {
		return
	}
	g.cleanup = now
	for k, t := range g.fired {
		if now.Sub(t) >= window {
			delete(g.fired, k)
		}
	}
}
