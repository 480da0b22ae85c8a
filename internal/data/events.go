package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventModel struct {
	DB *sql.DB
}

func (m EventModel) Insert(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	objects, err := json.Marshal(e.DetectedObjects)
	if err != nil {
		return fmt.Errorf("marshal detected_objects: %w", err)
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO events (
			id, camera_id, user_id, event_type, severity,
			detected_objects, confidence_score, frame_path, thumbnail_path,
			metadata, summary, summary_generated_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err = m.DB.ExecContext(ctx, query,
		e.ID, e.CameraID, e.UserID, string(e.Type), string(e.Severity),
		objects, e.ConfidenceScore, e.FramePath, e.ThumbnailPath,
		meta, e.Summary, e.SummaryGeneratedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ApplyEnrichment writes the summary, severity and refined type in one
// statement guarded on summary_generated_at IS NULL. A second call for the
// same event matches zero rows and returns false.
func (m EventModel) ApplyEnrichment(ctx context.Context, u EnrichmentUpdate) (bool, error) {
	meta, err := json.Marshal(u.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal enrichment metadata: %w", err)
	}

	query := `
		UPDATE events
		SET summary = $2,
		    severity = $3,
		    event_type = $4,
		    metadata = metadata || $5,
		    summary_generated_at = $6
		WHERE id = $1 AND summary_generated_at IS NULL`

	res, err := m.DB.ExecContext(ctx, query,
		u.EventID, u.Summary, string(u.Severity), string(u.Type), meta, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("apply enrichment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (m EventModel) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT id, camera_id, user_id, event_type, severity,
		       detected_objects, confidence_score, frame_path, thumbnail_path,
		       metadata, summary, summary_generated_at, created_at, is_acknowledged
		FROM events WHERE id = $1`

	var (
		e            Event
		et, sev      string
		objects      []byte
		meta         []byte
		framePath    sql.NullString
		thumbPath    sql.NullString
		summary      sql.NullString
		summarizedAt sql.NullTime
	)
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.CameraID, &e.UserID, &et, &sev,
		&objects, &e.ConfidenceScore, &framePath, &thumbPath,
		&meta, &summary, &summarizedAt, &e.CreatedAt, &e.IsAcknowledged,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	e.Type = EventType(et)
	e.Severity = EventSeverity(sev)
	e.FramePath = framePath.String
	e.ThumbnailPath = thumbPath.String
	if summary.Valid {
		e.Summary = &summary.String
	}
	if summarizedAt.Valid {
		t := summarizedAt.Time
		e.SummaryGeneratedAt = &t
	}
	if len(objects) > 0 {
		if err := json.Unmarshal(objects, &e.DetectedObjects); err != nil {
			return nil, fmt.Errorf("unmarshal detected_objects: %w", err)
		}
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &e.Metadata)
	}
	return &e, nil
}
