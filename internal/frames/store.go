// Package frames persists event snapshots: the full annotated frame and a
// small thumbnail for list views.
package frames

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr/internal/data"
)

const thumbWidth, thumbHeight = 320, 180

// Store writes frames under a per-camera directory tree:
// <base>/<camera_id>/camera_<id>_<timestamp>_<rand>.jpg plus a _thumb
// sibling.
type Store struct {
	base string
}

func NewStore(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create frames dir: %w", err)
	}
	return &Store{base: base}, nil
}

// SaveEventFrame writes the annotated frame and its thumbnail, returning
// both paths. Detection boxes are drawn onto the full image; the thumbnail
// is unannotated. A thumbnail failure is logged but does not fail the save.
func (s *Store) SaveEventFrame(cameraID uuid.UUID, jpegData []byte, detections []data.StoredDetection) (string, string, error) {
	dir := filepath.Join(s.base, cameraID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create camera dir: %w", err)
	}

	ts := time.Now().UTC().Format("20060102_150405")
	rand := strings.Split(uuid.NewString(), "-")[0]
	name := fmt.Sprintf("camera_%s_%s_%s", cameraID, ts, rand)

	framePath := filepath.Join(dir, name+".jpg")
	annotated, err := annotate(jpegData, detections)
	if err != nil {
		// Fall back to the raw frame rather than losing the evidence.
		log.Printf("[ERROR] Frames: annotating frame for camera %s: %v", cameraID, err)
		annotated = jpegData
	}
	if err := os.WriteFile(framePath, annotated, 0o644); err != nil {
		return "", "", fmt.Errorf("write frame: %w", err)
	}

	thumbPath := filepath.Join(dir, name+"_thumb.jpg")
	thumb, err := makeThumbnail(jpegData, thumbWidth, thumbHeight)
	if err != nil {
		log.Printf("[ERROR] Frames: thumbnail for camera %s: %v", cameraID, err)
		return framePath, "", nil
	}
	if err := os.WriteFile(thumbPath, thumb, 0o644); err != nil {
		log.Printf("[ERROR] Frames: writing thumbnail for camera %s: %v", cameraID, err)
		return framePath, "", nil
	}
	return framePath, thumbPath, nil
}

// Prune removes frames older than maxAge for all cameras, returning how
// many files were deleted.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	err := filepath.Walk(s.base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if strings.HasSuffix(path, ".jpg") && info.ModTime().Before(cutoff) {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
