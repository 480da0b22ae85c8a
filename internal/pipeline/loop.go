package pipeline

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/detect"
	"github.com/technosupport/ts-nvr/internal/metrics"
	"github.com/technosupport/ts-nvr/internal/stream"
)

// detectionLoop is the long-running per-camera task: drain frames, run the
// detector at a reduced cadence, gate by cooldown, create events, kick off
// enrichment and periodic safety scans.
type detectionLoop struct {
	svc     *Service
	camera  *data.Camera
	handler *stream.Handler
}

func (l *detectionLoop) run(ctx context.Context) {
	cam := l.camera
	log.Printf("DetectionLoop: starting for camera %s (%s)", cam.Name, cam.ID)
	metrics.ActiveLoops.Inc()
	defer metrics.ActiveLoops.Dec()
	defer log.Printf("DetectionLoop: stopped for camera %s", cam.Name)

	settings, err := l.svc.settings.GetForUser(ctx, cam.OwnerID)
	if err != nil {
		log.Printf("[ERROR] DetectionLoop: loading settings for camera %s: %v", cam.Name, err)
		settings = data.DefaultUserSettings(cam.OwnerID)
	}
	settingsRefreshed := time.Now()

	// Track state from a previous run of this camera is meaningless.
	l.svc.tracker.Reset(cam.ID)
	l.svc.scanGate.Reset(cam.ID)

	var frameCount uint64
	var lastScan time.Time

	for {
		if ctx.Err() != nil {
			return
		}
		if !l.handler.IsConnected() {
			log.Printf("DetectionLoop: stream for camera %s no longer connected, exiting", cam.Name)
			return
		}

		tuning := l.svc.tunables.Get()

		if time.Since(settingsRefreshed) >= tuning.SettingsRefresh {
			if fresh, err := l.svc.settings.GetForUser(ctx, cam.OwnerID); err == nil {
				settings = fresh
			} else {
				log.Printf("[ERROR] DetectionLoop: refreshing settings for camera %s: %v", cam.Name, err)
			}
			settingsRefreshed = time.Now()
		}

		readCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		frame := l.handler.GetFrameCtx(readCtx)
		cancel()
		if frame == nil {
			continue
		}
		frameCount++

		// Periodic safety scan, decoupled from detector cadence.
		if settings.SafetyScanEnabled && time.Since(lastScan) >= settings.SafetyScanInterval {
			lastScan = time.Now()
			l.spawnSafetyScan(frame, settings)
		}

		nth := tuning.InferenceEveryNth
		if nth < 1 {
			nth = 1
		}
		if frameCount%uint64(nth) != 0 {
			continue
		}

		l.runInference(ctx, frame, settings, tuning.EventCooldown)
	}
}

func (l *detectionLoop) runInference(ctx context.Context, frame *stream.Frame, settings data.UserSettings, cooldown time.Duration) {
	cam := l.camera

	start := time.Now()
	result, err := l.svc.detector.Detect(ctx, frame)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordInference(l.svc.detector.Name(), false, latency)
		log.Printf("[ERROR] DetectionLoop: inference failed for camera %s: %v", cam.Name, err)
		return
	}
	metrics.RecordInference(l.svc.detector.Name(), true, latency)

	passing := detect.FilterConfidence(
		detect.FilterDetections(result.Objects, settings.EnabledClasses),
		settings.DetectionConfidence,
	)
	if len(passing) == 0 {
		return
	}
	l.svc.tracker.Assign(cam.ID, passing)

	// One event per class group; the event covers every box of that class
	// in the frame.
	byClass := make(map[string][]detect.Detection)
	for _, d := range passing {
		byClass[d.ClassName] = append(byClass[d.ClassName], d)
	}

	for class, group := range byClass {
		if !l.svc.cooldown.Allow(cam.ID, class, cooldown) {
			metrics.RecordSuppressed("event_cooldown")
			continue
		}
		event, err := l.createEvent(ctx, frame, group)
		if err != nil {
			log.Printf("[ERROR] DetectionLoop: creating %s event for camera %s: %v", class, cam.Name, err)
			continue
		}
		l.svc.cooldown.Mark(cam.ID, class)
		metrics.RecordEventCreated("detector", string(event.Severity))
		log.Printf("DetectionLoop: %s event %s on camera %s (%d objects, severity %s)",
			event.Type, event.ID, cam.Name, len(group), event.Severity)

		l.svc.notifier.EventCreated(ctx, event, settings)
		l.spawnEnrichment(event, frame, settings)
	}
}

func (l *detectionLoop) createEvent(ctx context.Context, frame *stream.Frame, group []detect.Detection) (*data.Event, error) {
	cam := l.camera

	stored := make([]data.StoredDetection, 0, len(group))
	for _, d := range group {
		stored = append(stored, data.StoredDetection{
			Class:      d.ClassName,
			Confidence: d.Confidence,
			BBox:       d.BBox,
			TrackID:    d.TrackID,
		})
	}

	framePath, thumbPath, err := l.svc.frames.SaveEventFrame(cam.ID, frame.Data, stored)
	if err != nil {
		// A missing snapshot is not worth losing the event over.
		log.Printf("[ERROR] DetectionLoop: saving frame for camera %s: %v", cam.Name, err)
	}

	eventType, severity := classifyDetections(group, time.Now())
	event := &data.Event{
		ID:              uuid.New(),
		CameraID:        cam.ID,
		UserID:          cam.OwnerID,
		Type:            eventType,
		Severity:        severity,
		DetectedObjects: stored,
		ConfidenceScore: maxConfidence(group),
		FramePath:       framePath,
		ThumbnailPath:   thumbPath,
		CreatedAt:       time.Now().UTC(),
		Metadata:        map[string]any{"source": "detector"},
	}
	if err := l.svc.events.Insert(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// spawnEnrichment launches the VLM enrichment without awaiting it. A slow
// model call must never stall frame processing.
func (l *detectionLoop) spawnEnrichment(event *data.Event, frame *stream.Frame, settings data.UserSettings) {
	if !settings.AutoSummarize {
		return
	}
	frameJPEG := frame.Data
	l.svc.tasks.Go("enrich:"+event.ID.String(), func(ctx context.Context) {
		l.svc.enrich(ctx, l.camera, event, frameJPEG, settings)
	})
}

func (l *detectionLoop) spawnSafetyScan(frame *stream.Frame, settings data.UserSettings) {
	frameJPEG := frame.Data
	l.svc.tasks.Go("scan:"+l.camera.ID.String(), func(ctx context.Context) {
		l.svc.safetyScan(ctx, l.camera, frameJPEG, settings)
	})
}
