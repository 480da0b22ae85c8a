package vlm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-nvr/internal/data"
)

func TestParseVerdictWellFormed(t *testing.T) {
	text := `SUMMARY: A person is walking toward the gate carrying a bag.
THREAT_LEVEL: medium
EVENT_TYPE: person_detected`

	v := ParseVerdict(text)
	assert.Equal(t, "A person is walking toward the gate carrying a bag.", v.Summary)
	assert.Equal(t, data.SeverityMedium, v.Severity)
	assert.Equal(t, data.EventPersonDetected, v.EventType)
}

func TestParseVerdictMarkdownBoldAndCase(t *testing.T) {
	text := `Here is my analysis:

**SUMMARY**: Two vehicles parked near the fence.
**Threat_Level**: HIGH
**event_type**: vehicle_detected`

	v := ParseVerdict(text)
	assert.Equal(t, "Two vehicles parked near the fence.", v.Summary)
	assert.Equal(t, data.SeverityHigh, v.Severity)
	assert.Equal(t, data.EventVehicleDetected, v.EventType)
}

func TestParseVerdictFallbacks(t *testing.T) {
	t.Run("free-form reply", func(t *testing.T) {
		v := ParseVerdict("The scene looks calm, nothing unusual.\nMore detail here.")
		assert.Equal(t, "The scene looks calm, nothing unusual.", v.Summary)
		assert.Equal(t, data.SeverityLow, v.Severity)
		assert.Empty(t, v.EventType)
	})

	t.Run("unknown severity and type", func(t *testing.T) {
		v := ParseVerdict("SUMMARY: ok\nTHREAT_LEVEL: bananas\nEVENT_TYPE: alien_invasion")
		assert.Equal(t, data.SeverityLow, v.Severity)
		assert.Empty(t, v.EventType)
	})

	t.Run("empty reply", func(t *testing.T) {
		v := ParseVerdict("")
		assert.Equal(t, "No description available.", v.Summary)
	})
}

func TestParseScanVerdictMarkers(t *testing.T) {
	text := `THREAT_DETECTED: yes
CONFIDENCE: 85
THREAT_TYPE: intrusion
THREAT_LEVEL: critical
DESCRIPTION: Someone is climbing over the perimeter fence.
DOUBT: none`

	v := ParseScanVerdict(text)
	assert.True(t, v.ThreatDetected)
	assert.Equal(t, 85, v.Confidence)
	assert.Equal(t, "intrusion", v.ThreatType)
	assert.Equal(t, data.SeverityCritical, v.Severity)
	assert.Equal(t, "Someone is climbing over the perimeter fence.", v.Description)
	assert.Empty(t, v.Doubt)
}

func TestParseScanVerdictNoThreat(t *testing.T) {
	text := `THREAT_DETECTED: no
CONFIDENCE: 10
THREAT_TYPE: none
THREAT_LEVEL: low
DESCRIPTION: Empty driveway at night.
DOUBT: Headlight glare could be mistaken for movement.`

	v := ParseScanVerdict(text)
	assert.False(t, v.ThreatDetected)
	assert.Equal(t, 10, v.Confidence)
	assert.Empty(t, v.ThreatType)
	assert.Equal(t, "Headlight glare could be mistaken for movement.", v.Doubt)
}

func TestParseScanVerdictJSONReply(t *testing.T) {
	text := "Sure! Here is the assessment:\n```json\n" +
		`{"threat_detected": true, "confidence": 91, "threat_type": "theft attempt", "threat_level": "high", "description": "A person is forcing a car door.", "doubt": "none"}` +
		"\n```"

	v := ParseScanVerdict(text)
	assert.True(t, v.ThreatDetected)
	assert.Equal(t, 91, v.Confidence)
	assert.Equal(t, "theft_attempt", v.ThreatType)
	assert.Equal(t, data.SeverityHigh, v.Severity)
}

func TestParseScanVerdictGarbled(t *testing.T) {
	v := ParseScanVerdict("I cannot analyze this image, sorry.")
	assert.False(t, v.ThreatDetected)
	assert.Zero(t, v.Confidence)
}

func TestParseScanVerdictThreatWithoutType(t *testing.T) {
	v := ParseScanVerdict("THREAT_DETECTED: yes\nCONFIDENCE: 72")
	assert.True(t, v.ThreatDetected)
	assert.Equal(t, "unspecified", v.ThreatType)
}

func TestParseConfidenceFormats(t *testing.T) {
	cases := map[string]int{
		"85":         85,
		"85%":        85,
		"0.85":       85,
		"about 60":   60,
		"120":        100,
		"nonsense":   0,
		"":           0,
		"0.4 (weak)": 40,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseConfidence(in), "input %q", in)
	}
}

func TestTierForSeverity(t *testing.T) {
	assert.Equal(t, TierSkip, TierForSeverity(data.SeverityLow))
	assert.Equal(t, TierFast, TierForSeverity(data.SeverityMedium))
	assert.Equal(t, TierBest, TierForSeverity(data.SeverityHigh))
	assert.Equal(t, TierBest, TierForSeverity(data.SeverityCritical))
}
