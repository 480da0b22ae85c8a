package pipeline

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-nvr/internal/config"
	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/metrics"
	"github.com/technosupport/ts-nvr/internal/vlm"
)

// pendingThreat tracks a sub-critical verdict awaiting reconfirmation.
type pendingThreat struct {
	verdict   vlm.ScanVerdict
	count     int
	firstSeen time.Time
}

// scanGate implements the anti-hallucination policy for safety-scan
// verdicts. All per-camera scan tasks share one gate; the maps are
// protected because scans run on real OS threads.
type scanGate struct {
	mu      sync.Mutex
	pending map[string]*pendingThreat
	alerted map[string]time.Time
	now     func() time.Time
}

func newScanGate() *scanGate {
	return &scanGate{
		pending: make(map[string]*pendingThreat),
		alerted: make(map[string]time.Time),
		now:     time.Now,
	}
}

func threatKey(cameraID uuid.UUID, threatType string) string {
	return fmt.Sprintf("%s|%s", cameraID, threatType)
}

// Observe feeds one verdict through the policy and reports whether it
// should become an event. The rules, in order:
//
//  1. verdicts without a detected threat clear nothing and fire nothing;
//  2. verdicts below the confidence floor are discarded outright;
//  3. a critical verdict at or above the bypass confidence fires on first
//     sight;
//  4. anything else is held pending until the same threat type is seen on
//     the required number of scans, with pending entries expiring;
//  5. a fired (camera, threat type) pair is muted for the alert cooldown.
func (g *scanGate) Observe(cameraID uuid.UUID, v vlm.ScanVerdict, cfg config.SafetyScanConfig) (fire bool, use vlm.ScanVerdict, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expireLocked(now, cfg.PendingExpiry)

	if !v.ThreatDetected {
		return false, v, "no_threat"
	}
	if v.Confidence < cfg.ConfidenceFloor {
		metrics.RecordSuppressed("scan_confidence_floor")
		return false, v, "confidence_floor"
	}

	key := threatKey(cameraID, v.ThreatType)
	if last, ok := g.alerted[key]; ok && now.Sub(last) < cfg.AlertCooldown {
		metrics.RecordSuppressed("scan_alert_cooldown")
		return false, v, "alert_cooldown"
	}

	if v.Severity == data.SeverityCritical && v.Confidence >= cfg.CriticalBypass {
		delete(g.pending, key)
		g.alerted[key] = now
		return true, v, "critical_bypass"
	}

	p, ok := g.pending[key]
	if !ok {
		g.pending[key] = &pendingThreat{verdict: v, count: 1, firstSeen: now}
		log.Printf("[DEBUG] SafetyScan: holding %s on camera %s pending confirmation (%d%%)",
			v.ThreatType, cameraID, v.Confidence)
		return false, v, "pending_confirmation"
	}

	p.count++
	// Keep the strongest verdict for the eventual event.
	if v.Confidence > p.verdict.Confidence {
		p.verdict = v
	}
	if p.count < cfg.ConfirmationNeeded {
		return false, v, "pending_confirmation"
	}

	use = p.verdict
	delete(g.pending, key)
	g.alerted[key] = now
	return true, use, "confirmed"
}

// Reset drops all pending state for a camera, called when its stream
// restarts.
func (g *scanGate) Reset(cameraID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := cameraID.String() + "|"
	for k := range g.pending {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(g.pending, k)
		}
	}
}

func (g *scanGate) expireLocked(now time.Time, expiry time.Duration) {
	if expiry <= 0 {
		return
	}
	for k, p := range g.pending {
		if now.Sub(p.firstSeen) > expiry {
			log.Printf("[DEBUG] SafetyScan: discarding stale pending threat %s", k)
			delete(g.pending, k)
		}
	}
}

// scanEvent builds the event row for a confirmed safety-scan threat. The
// raw confidence and the model's stated doubt go into metadata for audit.
func scanEvent(cam *data.Camera, v vlm.ScanVerdict, framePath, thumbPath string) *data.Event {
	eventType := data.EventSuspicious
	if t, ok := data.ParseEventType(v.ThreatType); ok {
		eventType = t
	}
	summary := v.Description
	if summary == "" {
		summary = fmt.Sprintf("Safety scan detected %s (%d%% confidence)", v.ThreatType, v.Confidence)
	}

	now := time.Now().UTC()
	e := &data.Event{
		ID:                 uuid.New(),
		CameraID:           cam.ID,
		UserID:             cam.OwnerID,
		Type:               eventType,
		Severity:           v.Severity,
		ConfidenceScore:    float64(v.Confidence) / 100,
		FramePath:          framePath,
		ThumbnailPath:      thumbPath,
		Summary:            &summary,
		SummaryGeneratedAt: &now,
		CreatedAt:          now,
		Metadata: map[string]any{
			"source":          "safety_scan",
			"threat_type":     v.ThreatType,
			"scan_confidence": v.Confidence,
		},
	}
	if v.Doubt != "" {
		e.Metadata["doubt"] = v.Doubt
	}
	return e
}
