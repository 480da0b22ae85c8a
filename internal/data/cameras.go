package data

import (
	"context"
	"database/sql"
	"fmt"
)

type CameraModel struct {
	DB *sql.DB
}

func (m CameraModel) ListDetectionEnabled(ctx context.Context) ([]*Camera, error) {
	query := `
		SELECT id, owner_id, name, stream_url, fps, detection_enabled
		FROM cameras
		WHERE detection_enabled = TRUE AND is_enabled = TRUE
		ORDER BY created_at`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list detection-enabled cameras: %w", err)
	}
	defer rows.Close()

	var cams []*Camera
	for rows.Next() {
		var c Camera
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.StreamURL, &c.FPS, &c.DetectionEnabled); err != nil {
			return nil, fmt.Errorf("scan camera row: %w", err)
		}
		cams = append(cams, &c)
	}
	return cams, rows.Err()
}
