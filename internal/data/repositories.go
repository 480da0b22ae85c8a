package data

import (
	"context"

	"github.com/google/uuid"
)

// EventRepository persists events. ApplyEnrichment must be idempotent: it
// updates only rows whose summary has not been generated yet and reports
// whether it changed anything, so calling it twice cannot corrupt state.
type EventRepository interface {
	Insert(ctx context.Context, e *Event) error
	ApplyEnrichment(ctx context.Context, u EnrichmentUpdate) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
}

// SettingsRepository reads per-user pipeline settings.
type SettingsRepository interface {
	GetForUser(ctx context.Context, userID uuid.UUID) (UserSettings, error)
}

// CameraRepository lists cameras the orchestrator should supervise.
type CameraRepository interface {
	ListDetectionEnabled(ctx context.Context) ([]*Camera, error)
}
