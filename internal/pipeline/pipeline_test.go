package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-nvr/internal/config"
	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/detect"
	"github.com/technosupport/ts-nvr/internal/stream"
	"github.com/technosupport/ts-nvr/internal/vlm"
)

type fakeDetector struct {
	mu      sync.Mutex
	results []*detect.Result
	calls   int
}

func (f *fakeDetector) Detect(ctx context.Context, frame *stream.Frame) (*detect.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.results) {
		return &detect.Result{}, nil
	}
	r := f.results[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeDetector) Name() string { return "fake" }

type fakeEvents struct {
	mu       sync.Mutex
	inserted []*data.Event
	applied  []data.EnrichmentUpdate
	applyOK  bool
}

func (f *fakeEvents) Insert(ctx context.Context, e *data.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, e)
	return nil
}

func (f *fakeEvents) ApplyEnrichment(ctx context.Context, u data.EnrichmentUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, u)
	return f.applyOK, nil
}

func (f *fakeEvents) GetByID(ctx context.Context, id uuid.UUID) (*data.Event, error) {
	return nil, nil
}

func (f *fakeEvents) insertedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeSettings struct{ s data.UserSettings }

func (f *fakeSettings) GetForUser(ctx context.Context, userID uuid.UUID) (data.UserSettings, error) {
	return f.s, nil
}

type fakeFrames struct{}

func (fakeFrames) SaveEventFrame(cameraID uuid.UUID, jpeg []byte, detections []data.StoredDetection) (string, string, error) {
	return "/frames/test.jpg", "/frames/test_thumb.jpg", nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	created  []*data.Event
	enriched []*data.Event
}

func (f *fakeNotifier) EventCreated(ctx context.Context, e *data.Event, s data.UserSettings) {
	f.mu.Lock()
	f.created = append(f.created, e)
	f.mu.Unlock()
}

func (f *fakeNotifier) EventEnriched(ctx context.Context, e *data.Event, s data.UserSettings) {
	f.mu.Lock()
	f.enriched = append(f.enriched, e)
	f.mu.Unlock()
}

type fakeVLM struct {
	mu        sync.Mutex
	describes []string
	scans     []vlm.ScanVerdict
	prompts   []string
	di, si    int
}

func (f *fakeVLM) Describe(ctx context.Context, s data.UserSettings, tier vlm.Tier, frame []byte, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.di >= len(f.describes) {
		return "SUMMARY: nothing to report", nil
	}
	r := f.describes[f.di]
	f.di++
	return r, nil
}

func (f *fakeVLM) Scan(ctx context.Context, s data.UserSettings, frame []byte) (vlm.ScanVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.si >= len(f.scans) {
		return vlm.ScanVerdict{}, nil
	}
	v := f.scans[f.si]
	f.si++
	return v, nil
}

func newTestService(t *testing.T, det *fakeDetector, events *fakeEvents, v *fakeVLM) (*Service, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	svc := NewService(Deps{
		Detector: det,
		Tracker:  detect.NewTracker(0.3, 3),
		Events:   events,
		Settings: &fakeSettings{s: data.DefaultUserSettings(uuid.New())},
		Frames:   fakeFrames{},
		Notifier: notifier,
		VLM:      v,
		Tunables: config.NewTunables(config.Default().Tuning),
	})
	return svc, notifier
}

func testCamera() *data.Camera {
	return &data.Camera{ID: uuid.New(), OwnerID: uuid.New(), Name: "front-door", FPS: 10}
}

func TestInferenceGroupsDetectionsByClass(t *testing.T) {
	det := &fakeDetector{results: []*detect.Result{{
		Objects: []detect.Detection{
			{ClassName: "person", Confidence: 0.9, BBox: [4]float64{0.1, 0.1, 0.2, 0.4}},
			{ClassName: "person", Confidence: 0.8, BBox: [4]float64{0.6, 0.1, 0.7, 0.4}},
		},
	}}}
	events := &fakeEvents{applyOK: true}
	svc, notifier := newTestService(t, det, events, &fakeVLM{})
	cam := testCamera()
	loop := &detectionLoop{svc: svc, camera: cam}

	settings := data.DefaultUserSettings(cam.OwnerID)
	settings.AutoSummarize = false

	loop.runInference(context.Background(), &stream.Frame{Data: []byte("jpeg")}, settings, 10*time.Second)

	// Two people in one frame produce exactly one event covering both.
	require.Equal(t, 1, events.insertedCount())
	e := events.inserted[0]
	assert.Equal(t, data.EventPersonDetected, e.Type)
	assert.Len(t, e.DetectedObjects, 2)
	assert.Equal(t, 0.9, e.ConfidenceScore)
	assert.Equal(t, "/frames/test.jpg", e.FramePath)
	assert.Len(t, notifier.created, 1)
}

func TestInferenceRespectsCooldown(t *testing.T) {
	person := &detect.Result{Objects: []detect.Detection{
		{ClassName: "person", Confidence: 0.9, BBox: [4]float64{0.1, 0.1, 0.2, 0.4}},
	}}
	det := &fakeDetector{results: []*detect.Result{person, person, person}}
	events := &fakeEvents{applyOK: true}
	svc, _ := newTestService(t, det, events, &fakeVLM{})
	cam := testCamera()
	loop := &detectionLoop{svc: svc, camera: cam}

	settings := data.DefaultUserSettings(cam.OwnerID)
	settings.AutoSummarize = false
	frame := &stream.Frame{Data: []byte("jpeg")}

	now := time.Now()
	svc.cooldown.now = func() time.Time { return now }

	loop.runInference(context.Background(), frame, settings, 10*time.Second)
	assert.Equal(t, 1, events.insertedCount())

	// Same class three seconds later is suppressed.
	now = now.Add(3 * time.Second)
	loop.runInference(context.Background(), frame, settings, 10*time.Second)
	assert.Equal(t, 1, events.insertedCount())

	// Past the window it fires again.
	now = now.Add(8 * time.Second)
	loop.runInference(context.Background(), frame, settings, 10*time.Second)
	assert.Equal(t, 2, events.insertedCount())
}

func TestInferenceFiltersByConfidenceAndClass(t *testing.T) {
	det := &fakeDetector{results: []*detect.Result{{
		Objects: []detect.Detection{
			{ClassName: "person", Confidence: 0.3},
			{ClassName: "chair", Confidence: 0.9},
		},
	}}}
	events := &fakeEvents{applyOK: true}
	svc, _ := newTestService(t, det, events, &fakeVLM{})
	cam := testCamera()
	loop := &detectionLoop{svc: svc, camera: cam}

	settings := data.DefaultUserSettings(cam.OwnerID)
	settings.AutoSummarize = false
	settings.DetectionConfidence = 0.5
	settings.EnabledClasses = []string{"person"}

	loop.runInference(context.Background(), &stream.Frame{Data: []byte("jpeg")}, settings, time.Second)
	assert.Zero(t, events.insertedCount())
}

func scanCfg() config.SafetyScanConfig {
	return config.SafetyScanConfig{
		ConfidenceFloor:    70,
		CriticalBypass:     85,
		ConfirmationNeeded: 2,
		PendingExpiry:      2 * time.Minute,
		AlertCooldown:      3 * time.Minute,
	}
}

func TestScanGateConfidenceFloor(t *testing.T) {
	g := newScanGate()
	fire, _, reason := g.Observe(uuid.New(), vlm.ScanVerdict{
		ThreatDetected: true, Confidence: 60, ThreatType: "fire", Severity: data.SeverityHigh,
	}, scanCfg())
	assert.False(t, fire)
	assert.Equal(t, "confidence_floor", reason)
}

func TestScanGateConfirmationAndCooldown(t *testing.T) {
	g := newScanGate()
	now := time.Now()
	g.now = func() time.Time { return now }
	cam := uuid.New()

	first := vlm.ScanVerdict{ThreatDetected: true, Confidence: 80, ThreatType: "fire", Severity: data.SeverityHigh}
	fire, _, reason := g.Observe(cam, first, scanCfg())
	assert.False(t, fire)
	assert.Equal(t, "pending_confirmation", reason)

	// Same type seen again inside the pending window confirms it; the
	// stronger verdict wins.
	now = now.Add(30 * time.Second)
	second := vlm.ScanVerdict{ThreatDetected: true, Confidence: 82, ThreatType: "fire", Severity: data.SeverityHigh}
	fire, use, reason := g.Observe(cam, second, scanCfg())
	assert.True(t, fire)
	assert.Equal(t, "confirmed", reason)
	assert.Equal(t, 82, use.Confidence)

	// A third identical report right after is muted by the alert cooldown.
	now = now.Add(30 * time.Second)
	fire, _, reason = g.Observe(cam, second, scanCfg())
	assert.False(t, fire)
	assert.Equal(t, "alert_cooldown", reason)

	// Past the cooldown the cycle starts over with confirmation.
	now = now.Add(4 * time.Minute)
	fire, _, reason = g.Observe(cam, second, scanCfg())
	assert.False(t, fire)
	assert.Equal(t, "pending_confirmation", reason)
}

func TestScanGateCriticalBypass(t *testing.T) {
	g := newScanGate()
	fire, _, reason := g.Observe(uuid.New(), vlm.ScanVerdict{
		ThreatDetected: true, Confidence: 90, ThreatType: "weapon", Severity: data.SeverityCritical,
	}, scanCfg())
	assert.True(t, fire)
	assert.Equal(t, "critical_bypass", reason)
}

func TestScanGateCriticalBelowBypassNeedsConfirmation(t *testing.T) {
	g := newScanGate()
	fire, _, reason := g.Observe(uuid.New(), vlm.ScanVerdict{
		ThreatDetected: true, Confidence: 80, ThreatType: "weapon", Severity: data.SeverityCritical,
	}, scanCfg())
	assert.False(t, fire)
	assert.Equal(t, "pending_confirmation", reason)
}

func TestScanGatePendingExpiry(t *testing.T) {
	g := newScanGate()
	now := time.Now()
	g.now = func() time.Time { return now }
	cam := uuid.New()

	v := vlm.ScanVerdict{ThreatDetected: true, Confidence: 80, ThreatType: "fire", Severity: data.SeverityHigh}
	g.Observe(cam, v, scanCfg())

	// Reconfirmation three minutes later finds the pending entry expired.
	now = now.Add(3 * time.Minute)
	fire, _, reason := g.Observe(cam, v, scanCfg())
	assert.False(t, fire)
	assert.Equal(t, "pending_confirmation", reason)
}

func TestScanGateDifferentTypesDoNotConfirmEachOther(t *testing.T) {
	g := newScanGate()
	cam := uuid.New()
	cfg := scanCfg()

	g.Observe(cam, vlm.ScanVerdict{ThreatDetected: true, Confidence: 80, ThreatType: "fire", Severity: data.SeverityHigh}, cfg)
	fire, _, _ := g.Observe(cam, vlm.ScanVerdict{ThreatDetected: true, Confidence: 80, ThreatType: "intrusion", Severity: data.SeverityHigh}, cfg)
	assert.False(t, fire)
}

func TestSafetyScanCreatesEvent(t *testing.T) {
	events := &fakeEvents{applyOK: true}
	v := &fakeVLM{scans: []vlm.ScanVerdict{
		{ThreatDetected: true, Confidence: 90, ThreatType: "weapon", Severity: data.SeverityCritical, Description: "Armed person at the gate.", Doubt: "low light"},
	}}
	svc, notifier := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()
	settings := data.DefaultUserSettings(cam.OwnerID)

	svc.safetyScan(context.Background(), cam, []byte("jpeg"), settings)

	require.Equal(t, 1, events.insertedCount())
	e := events.inserted[0]
	assert.Equal(t, data.SeverityCritical, e.Severity)
	assert.Equal(t, "safety_scan", e.Metadata["source"])
	assert.Equal(t, 90, e.Metadata["scan_confidence"])
	assert.Equal(t, "low light", e.Metadata["doubt"])
	require.NotNil(t, e.Summary)
	assert.Equal(t, "Armed person at the gate.", *e.Summary)
	assert.NotNil(t, e.SummaryGeneratedAt)
	assert.Len(t, notifier.created, 1)
}

func TestSafetyScanLowConfidenceCreatesNothing(t *testing.T) {
	events := &fakeEvents{applyOK: true}
	v := &fakeVLM{scans: []vlm.ScanVerdict{
		{ThreatDetected: true, Confidence: 60, ThreatType: "fire", Severity: data.SeverityHigh},
	}}
	svc, _ := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()

	svc.safetyScan(context.Background(), cam, []byte("jpeg"), data.DefaultUserSettings(cam.OwnerID))
	assert.Zero(t, events.insertedCount())
}

func TestEnrichUpgradesSeverityAndNotifies(t *testing.T) {
	events := &fakeEvents{applyOK: true}
	v := &fakeVLM{describes: []string{
		"SUMMARY: A person is trying the door handle.\nTHREAT_LEVEL: high\nEVENT_TYPE: suspicious",
	}}
	svc, notifier := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()

	event := &data.Event{
		ID:       uuid.New(),
		CameraID: cam.ID,
		UserID:   cam.OwnerID,
		Type:     data.EventPersonDetected,
		Severity: data.SeverityMedium,
		DetectedObjects: []data.StoredDetection{
			{Class: "person", Confidence: 0.9},
		},
	}
	svc.enrich(context.Background(), cam, event, []byte("jpeg"), data.DefaultUserSettings(cam.OwnerID))

	require.Len(t, events.applied, 1)
	u := events.applied[0]
	assert.Equal(t, data.SeverityHigh, u.Severity)
	assert.Equal(t, data.EventSuspicious, u.Type)
	assert.Equal(t, "A person is trying the door handle.", u.Summary)
	require.Len(t, notifier.enriched, 1)
	assert.Equal(t, data.SeverityHigh, notifier.enriched[0].Severity)
}

func TestEnrichPromptCarriesTimeAndDetections(t *testing.T) {
	events := &fakeEvents{applyOK: true}
	v := &fakeVLM{describes: []string{"SUMMARY: fine\nTHREAT_LEVEL: medium\nEVENT_TYPE: visitor"}}
	svc, _ := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()

	event := &data.Event{
		ID: uuid.New(), CameraID: cam.ID, UserID: cam.OwnerID,
		Type: data.EventPersonDetected, Severity: data.SeverityMedium,
		DetectedObjects: []data.StoredDetection{
			{Class: "person", Confidence: 0.92},
			{Class: "dog", Confidence: 0.65},
		},
		CreatedAt: time.Date(2026, 3, 1, 14, 0, 0, 0, time.Local),
	}
	svc.enrich(context.Background(), cam, event, []byte("jpeg"), data.DefaultUserSettings(cam.OwnerID))

	require.Len(t, v.prompts, 1)
	assert.Contains(t, v.prompts[0], "person (92%)")
	assert.Contains(t, v.prompts[0], "dog (65%)")
	assert.Contains(t, v.prompts[0], "TIME: afternoon")
	assert.Contains(t, v.prompts[0], `camera "front-door"`)
}

func TestEnrichNeverDowngradesSeverity(t *testing.T) {
	events := &fakeEvents{applyOK: true}
	v := &fakeVLM{describes: []string{
		"SUMMARY: Just a cat.\nTHREAT_LEVEL: low\nEVENT_TYPE: animal_detected",
	}}
	svc, _ := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()

	event := &data.Event{
		ID: uuid.New(), CameraID: cam.ID, UserID: cam.OwnerID,
		Type: data.EventPersonDetected, Severity: data.SeverityHigh,
		DetectedObjects: []data.StoredDetection{{Class: "person", Confidence: 0.9}},
	}
	svc.enrich(context.Background(), cam, event, []byte("jpeg"), data.DefaultUserSettings(cam.OwnerID))

	require.Len(t, events.applied, 1)
	assert.Equal(t, data.SeverityHigh, events.applied[0].Severity)
}

func TestEnrichSkipTierUsesTemplate(t *testing.T) {
	events := &fakeEvents{applyOK: true}
	v := &fakeVLM{}
	svc, _ := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()

	event := &data.Event{
		ID: uuid.New(), CameraID: cam.ID, UserID: cam.OwnerID,
		Type: data.EventVehicleDetected, Severity: data.SeverityLow,
		DetectedObjects: []data.StoredDetection{{Class: "car", Confidence: 0.8}},
	}
	svc.enrich(context.Background(), cam, event, []byte("jpeg"), data.DefaultUserSettings(cam.OwnerID))

	// No model call for low severity.
	assert.Zero(t, v.di)
	require.Len(t, events.applied, 1)
	assert.Equal(t, "Detected car on camera front-door.", events.applied[0].Summary)
}

func TestEnrichAlreadyAppliedDoesNotNotify(t *testing.T) {
	events := &fakeEvents{applyOK: false}
	v := &fakeVLM{describes: []string{"SUMMARY: fine\nTHREAT_LEVEL: medium\nEVENT_TYPE: visitor"}}
	svc, notifier := newTestService(t, &fakeDetector{}, events, v)
	cam := testCamera()

	event := &data.Event{
		ID: uuid.New(), CameraID: cam.ID, UserID: cam.OwnerID,
		Type: data.EventPersonDetected, Severity: data.SeverityMedium,
	}
	svc.enrich(context.Background(), cam, event, []byte("jpeg"), data.DefaultUserSettings(cam.OwnerID))
	assert.Empty(t, notifier.enriched)
}

func TestTaskGroupStopWait(t *testing.T) {
	g := newTaskGroup()
	done := make(chan struct{})
	g.Go("test", func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	})
	assert.True(t, g.StopWait(time.Second))
	<-done

	// After stop, new tasks are rejected.
	ran := false
	g.Go("late", func(ctx context.Context) { ran = true })
	assert.False(t, ran)
}

func TestClassifyDetections(t *testing.T) {
	day := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	evening := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	typ, sev := classifyDetections([]detect.Detection{{ClassName: "person"}}, day)
	assert.Equal(t, data.EventPersonDetected, typ)
	assert.Equal(t, data.SeverityLow, sev)

	_, sev = classifyDetections([]detect.Detection{{ClassName: "person"}}, evening)
	assert.Equal(t, data.SeverityMedium, sev)

	_, sev = classifyDetections([]detect.Detection{{ClassName: "person"}}, night)
	assert.Equal(t, data.SeverityHigh, sev)

	typ, sev = classifyDetections([]detect.Detection{{ClassName: "truck"}}, night)
	assert.Equal(t, data.EventVehicleDetected, typ)
	assert.Equal(t, data.SeverityLow, sev)

	typ, _ = classifyDetections([]detect.Detection{{ClassName: "dog"}}, day)
	assert.Equal(t, data.EventAnimalDetected, typ)

	typ, _ = classifyDetections([]detect.Detection{{ClassName: "chair"}}, day)
	assert.Equal(t, data.EventObjectDetected, typ)
}
