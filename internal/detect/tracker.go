package detect

import (
	"sync"

	"github.com/google/uuid"
)

// Tracker assigns stable track IDs to detections across consecutive frames
// of a camera by greedy IOU matching against the previous frame. State is
// per camera and is discarded on Reset (stream disconnect).
type Tracker struct {
	mu         sync.Mutex
	iouMin     float64
	maxMissed  int
	perCamera  map[uuid.UUID][]track
	nextID     int
}

type track struct {
	id     int
	class  string
	bbox   [4]float64
	missed int
}

func NewTracker(iouMin float64, maxMissed int) *Tracker {
	if iouMin <= 0 {
		iouMin = 0.3
	}
	if maxMissed <= 0 {
		maxMissed = 5
	}
	return &Tracker{
		iouMin:    iouMin,
		maxMissed: maxMissed,
		perCamera: make(map[uuid.UUID][]track),
		nextID:    1,
	}
}

// Assign stamps TrackID on each detection, matching against the camera's
// previous detections by class and IOU. Unmatched detections get new IDs;
// tracks unseen for maxMissed frames are dropped.
func (t *Tracker) Assign(cameraID uuid.UUID, detections []Detection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.perCamera[cameraID]
	used := make([]bool, len(prev))

	for i := range detections {
		best := -1
		bestIOU := t.iouMin
		for j, tr := range prev {
			if used[j] || tr.class != detections[i].ClassName {
				continue
			}
			if v := iou(tr.bbox, detections[i].BBox); v >= bestIOU {
				bestIOU = v
				best = j
			}
		}
		if best >= 0 {
			used[best] = true
			detections[i].TrackID = prev[best].id
		} else {
			detections[i].TrackID = t.nextID
			t.nextID++
		}
	}

	next := make([]track, 0, len(detections))
	for i := range detections {
		next = append(next, track{
			id:    detections[i].TrackID,
			class: detections[i].ClassName,
			bbox:  detections[i].BBox,
		})
	}
	// Carry unmatched previous tracks forward until they age out, so a
	// single missed frame does not break identity.
	for j, tr := range prev {
		if used[j] {
			continue
		}
		tr.missed++
		if tr.missed < t.maxMissed {
			next = append(next, tr)
		}
	}
	t.perCamera[cameraID] = next
}

// Reset drops all track state for a camera.
func (t *Tracker) Reset(cameraID uuid.UUID) {
	t.mu.Lock()
	delete(t.perCamera, cameraID)
	t.mu.Unlock()
}

func iou(a, b [4]float64) float64 {
	x1 := max64(a[0], b[0])
	y1 := max64(a[1], b[1])
	x2 := min64(a[2], b[2])
	y2 := min64(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
