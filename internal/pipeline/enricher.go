package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/metrics"
	"github.com/technosupport/ts-nvr/internal/vlm"
)

// vlmCallTimeout bounds a single enrichment or scan call. Vision models
// are slow; the loop is already decoupled, so a generous bound is fine.
const vlmCallTimeout = 90 * time.Second

// enrich runs the post-creation analysis for one event. Failures are
// logged and swallowed: the event keeps its heuristic severity and summary
// forever, there is no retry.
func (s *Service) enrich(ctx context.Context, cam *data.Camera, event *data.Event, frameJPEG []byte, settings data.UserSettings) {
	tier := vlm.TierForSeverity(event.Severity)

	var verdict vlm.Verdict
	switch tier {
	case vlm.TierSkip:
		// Low severity events get a template summary without a model call.
		verdict = vlm.Verdict{
			Summary:  templateSummary(cam, event),
			Severity: event.Severity,
		}
	default:
		callCtx, cancel := context.WithTimeout(ctx, vlmCallTimeout)
		defer cancel()

		prompt := vlm.DescribePrompt(vlm.DescribeContext{
			CameraName: cam.Name,
			Time:       event.CreatedAt.Local(),
			Detections: detectionLines(event),
		})
		resp, err := s.vlm.Describe(callCtx, settings, tier, frameJPEG, prompt)
		if err != nil {
			metrics.RecordEnrichment(string(tier), "error")
			log.Printf("[ERROR] Enrichment: describe failed for event %s: %v", event.ID, err)
			return
		}
		verdict = vlm.ParseVerdict(resp)
	}

	// Severity only ever moves up; the heuristic floor stands.
	severity := event.Severity
	if verdict.Severity.Rank() > severity.Rank() {
		severity = verdict.Severity
	}
	eventType := event.Type
	if verdict.EventType != "" {
		eventType = verdict.EventType
	}

	applied, err := s.events.ApplyEnrichment(ctx, data.EnrichmentUpdate{
		EventID:  event.ID,
		Summary:  verdict.Summary,
		Severity: severity,
		Type:     eventType,
		Metadata: map[string]any{
			"analysis_tier":    string(tier),
			"analyzed_at":      time.Now().UTC().Format(time.RFC3339),
			"initial_severity": string(event.Severity),
		},
	})
	if err != nil {
		metrics.RecordEnrichment(string(tier), "error")
		log.Printf("[ERROR] Enrichment: updating event %s: %v", event.ID, err)
		return
	}
	if !applied {
		// Someone else already enriched this event; do not notify twice.
		metrics.RecordEnrichment(string(tier), "skipped")
		return
	}
	metrics.RecordEnrichment(string(tier), "ok")

	now := time.Now().UTC()
	event.Summary = &verdict.Summary
	event.Severity = severity
	event.Type = eventType
	event.SummaryGeneratedAt = &now

	s.notifier.EventEnriched(ctx, event, settings)
}

// safetyScan runs one independent threat pass over the camera's current
// frame and routes the verdict through the anti-hallucination gate.
func (s *Service) safetyScan(ctx context.Context, cam *data.Camera, frameJPEG []byte, settings data.UserSettings) {
	callCtx, cancel := context.WithTimeout(ctx, vlmCallTimeout)
	defer cancel()

	verdict, err := s.vlm.Scan(callCtx, settings, frameJPEG)
	if err != nil {
		metrics.RecordSafetyScan("error")
		log.Printf("[ERROR] SafetyScan: scan failed for camera %s: %v", cam.Name, err)
		return
	}

	cfg := s.tunables.Get().SafetyScan
	fire, use, reason := s.scanGate.Observe(cam.ID, verdict, cfg)
	metrics.RecordSafetyScan(reason)
	if !fire {
		return
	}

	framePath, thumbPath, err := s.frames.SaveEventFrame(cam.ID, frameJPEG, nil)
	if err != nil {
		log.Printf("[ERROR] SafetyScan: saving frame for camera %s: %v", cam.Name, err)
	}

	event := scanEvent(cam, use, framePath, thumbPath)
	if err := s.events.Insert(ctx, event); err != nil {
		log.Printf("[ERROR] SafetyScan: persisting event for camera %s: %v", cam.Name, err)
		return
	}
	metrics.RecordEventCreated("safety_scan", string(event.Severity))
	log.Printf("SafetyScan: %s alert %s on camera %s (%d%% confidence, %s)",
		use.ThreatType, event.ID, cam.Name, use.Confidence, reason)

	s.notifier.EventCreated(ctx, event, settings)
}

// templateSummary renders the no-model summary for low severity events.
func templateSummary(cam *data.Camera, event *data.Event) string {
	classes := detectionClasses(event)
	if len(classes) == 0 {
		return fmt.Sprintf("Activity detected on camera %s.", cam.Name)
	}
	return fmt.Sprintf("Detected %s on camera %s.", strings.Join(classes, ", "), cam.Name)
}

// detectionLines renders each stored detection as "class (NN%)" for the
// enrichment prompt.
func detectionLines(event *data.Event) []string {
	out := make([]string, 0, len(event.DetectedObjects))
	for _, d := range event.DetectedObjects {
		out = append(out, fmt.Sprintf("%s (%.0f%%)", d.Class, d.Confidence*100))
	}
	return out
}

func detectionClasses(event *data.Event) []string {
	seen := make(map[string]struct{}, len(event.DetectedObjects))
	var out []string
	for _, d := range event.DetectedObjects {
		if _, ok := seen[d.Class]; ok {
			continue
		}
		seen[d.Class] = struct{}{}
		out = append(out, d.Class)
	}
	return out
}
