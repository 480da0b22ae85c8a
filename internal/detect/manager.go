package detect

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/technosupport/ts-nvr/internal/stream"
)

// Manager holds the single active detection backend and allows switching
// between them at runtime. Exactly one backend serves Detect at a time;
// switching closes the previous one after the swap.
type Manager struct {
	mu     sync.RWMutex
	active Detector
}

func NewManager(initial Detector) *Manager {
	return &Manager{active: initial}
}

// Detect runs inference on the active backend.
func (m *Manager) Detect(ctx context.Context, frame *stream.Frame) (*Result, error) {
	m.mu.RLock()
	d := m.active
	m.mu.RUnlock()
	if d == nil {
		return nil, fmt.Errorf("no detection backend configured")
	}
	return d.Detect(ctx, frame)
}

// Name reports the active backend name, or "none".
func (m *Manager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return "none"
	}
	return m.active.Name()
}

// Switch replaces the active backend and closes the old one. Detections in
// flight on the old backend finish against it.
func (m *Manager) Switch(next Detector) {
	m.mu.Lock()
	prev := m.active
	m.active = next
	m.mu.Unlock()

	if prev != nil && prev != next {
		if err := prev.Close(); err != nil {
			log.Printf("[ERROR] Detector: closing %s backend: %v", prev.Name(), err)
		}
	}
	if next != nil {
		log.Printf("Detector: switched to %s backend", next.Name())
	}
}

// Close shuts down the active backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	err := m.active.Close()
	m.active = nil
	return err
}
