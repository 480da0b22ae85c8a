package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr/internal/config"
	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/detect"
	"github.com/technosupport/ts-nvr/internal/stream"
)

// Service is the orchestrator. It polls the camera list, keeps at most one
// detection loop alive per connected camera, and owns the shared pipeline
// state (cooldown gate, scan gate, tracker, background task group).
type Service struct {
	registry *stream.Registry
	detector Detector
	tracker  *detect.Tracker
	events   data.EventRepository
	settings data.SettingsRepository
	cameras  data.CameraRepository
	frames   FrameStore
	notifier Notifier
	vlm      Describer
	tunables *config.Tunables

	cooldown *cooldownGate
	scanGate *scanGate
	tasks    *taskGroup

	mu    sync.Mutex
	loops map[uuid.UUID]*loopHandle

	loopWG sync.WaitGroup
}

// loopHandle identifies one launched loop. Slots are cleared by pointer
// identity so a loop that exits late cannot deregister its replacement.
type loopHandle struct {
	cancel context.CancelFunc
}

// Deps bundles the collaborators the service needs.
type Deps struct {
	Registry *stream.Registry
	Detector Detector
	Tracker  *detect.Tracker
	Events   data.EventRepository
	Settings data.SettingsRepository
	Cameras  data.CameraRepository
	Frames   FrameStore
	Notifier Notifier
	VLM      Describer
	Tunables *config.Tunables
}

func NewService(d Deps) *Service {
	return &Service{
		registry: d.Registry,
		detector: d.Detector,
		tracker:  d.Tracker,
		events:   d.Events,
		settings: d.Settings,
		cameras:  d.Cameras,
		frames:   d.Frames,
		notifier: d.Notifier,
		vlm:      d.VLM,
		tunables: d.Tunables,
		cooldown: newCooldownGate(),
		scanGate: newScanGate(),
		tasks:    newTaskGroup(),
		loops:    make(map[uuid.UUID]*loopHandle),
	}
}

// Run polls until ctx is cancelled, reconciling desired state (cameras
// with detection enabled and a connected stream) against running loops.
func (s *Service) Run(ctx context.Context) {
	log.Printf("Pipeline: orchestrator started")
	defer log.Printf("Pipeline: orchestrator stopped")

	ticker := time.NewTicker(s.tunables.Get().OrchestratorPoll)
	defer ticker.Stop()

	for {
		s.reconcile(ctx)
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) reconcile(ctx context.Context) {
	cams, err := s.cameras.ListDetectionEnabled(ctx)
	if err != nil {
		log.Printf("[ERROR] Pipeline: listing cameras: %v", err)
		return
	}

	want := make(map[uuid.UUID]*data.Camera, len(cams))
	for _, cam := range cams {
		want[cam.ID] = cam
	}

	// Ensure a handler exists for every wanted camera before taking s.mu;
	// AddStream blocks waiting for the first connection and must not stall
	// RestartAllDetectionLoops or the status callbacks.
	handlers := make(map[uuid.UUID]*stream.Handler, len(want))
	for id, cam := range want {
		h := s.registry.GetStream(id)
		if h == nil {
			h = s.registry.AddStream(ctx, id, cam.StreamURL, cam.FPS)
		}
		handlers[id] = h
	}

	s.mu.Lock()

	// Stop loops whose camera is gone or disabled.
	for id, h := range s.loops {
		if _, ok := want[id]; !ok {
			log.Printf("Pipeline: stopping loop for removed camera %s", id)
			h.cancel()
			delete(s.loops, id)
		}
	}

	for id, cam := range want {
		handler := handlers[id]
		_, running := s.loops[id]
		connected := handler.IsConnected()

		switch {
		case connected && !running:
			s.startLoopLocked(cam, handler)
		case !connected && running:
			log.Printf("Pipeline: camera %s disconnected, cancelling its loop", cam.Name)
			s.loops[id].cancel()
			delete(s.loops, id)
		}
	}
	s.mu.Unlock()

	// Tear down handlers for cameras no longer wanted, so a deleted or
	// disabled camera's ffmpeg child stops reconnecting.
	for id := range s.registry.GetAllStreams() {
		if _, ok := want[id]; !ok {
			log.Printf("Pipeline: removing stream for camera %s", id)
			s.registry.RemoveStream(id)
		}
	}
}

// startLoopLocked launches the per-camera loop. Caller holds s.mu.
func (s *Service) startLoopLocked(cam *data.Camera, handler *stream.Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &loopHandle{cancel: cancel}
	s.loops[cam.ID] = h

	loop := &detectionLoop{svc: s, camera: cam, handler: handler}
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		loop.run(ctx)
		cancel()

		// The loop may exit on its own (stream drop); clear the slot so
		// the next poll can restart it. A restart may have already put a
		// replacement loop in the slot, so only clear our own handle.
		s.mu.Lock()
		if s.loops[cam.ID] == h {
			delete(s.loops, cam.ID)
		}
		s.mu.Unlock()
	}()
}

// RestartAllDetectionLoops cancels every running loop. The next poll tick
// starts fresh ones, picking up a swapped detector backend or new settings.
func (s *Service) RestartAllDetectionLoops() {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Printf("Pipeline: restarting all %d detection loops", len(s.loops))
	for id, h := range s.loops {
		h.cancel()
		delete(s.loops, id)
	}
}

// ActiveLoopCount reports how many per-camera loops are registered.
func (s *Service) ActiveLoopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

// IsLoopRunning reports whether a detection loop is registered for the camera.
func (s *Service) IsLoopRunning(cameraID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loops[cameraID]
	return ok
}

func (s *Service) shutdown() {
	s.mu.Lock()
	for id, h := range s.loops {
		h.cancel()
		delete(s.loops, id)
	}
	s.mu.Unlock()

	s.loopWG.Wait()
	s.tasks.StopWait(30 * time.Second)
}
