package vlm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/technosupport/ts-nvr/internal/data"
)

// Verdict is the parsed result of an enrichment describe call. EventType
// is empty when the model did not produce a valid vocabulary entry; the
// caller keeps its heuristic type in that case.
type Verdict struct {
	Summary   string
	Severity  data.EventSeverity
	EventType data.EventType
}

// ScanVerdict is the parsed result of an independent safety scan.
type ScanVerdict struct {
	ThreatDetected bool
	Confidence     int // 0..100
	ThreatType     string
	Severity       data.EventSeverity
	Description    string
	Doubt          string
}

var markerRe = regexp.MustCompile(`(?mi)^\s*\**\s*([A-Z_]+)\s*\**\s*:\s*(.*)$`)

// parseMarkers extracts KEY: value lines, tolerating markdown bold around
// the key and leading whitespace. Later occurrences win.
func parseMarkers(text string) map[string]string {
	out := make(map[string]string)
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		key := strings.ToUpper(m[1])
		val := strings.TrimSpace(m[2])
		val = strings.Trim(val, "*`")
		out[key] = strings.TrimSpace(val)
	}
	return out
}

// ParseVerdict pulls SUMMARY / THREAT_LEVEL / EVENT_TYPE from a model
// reply. Models do not always follow instructions, so every field has a
// fallback: missing summary uses the whole reply trimmed, unknown severity
// defaults to low, unknown event type stays empty.
func ParseVerdict(text string) Verdict {
	markers := parseMarkers(text)

	v := Verdict{Severity: data.SeverityLow}

	if s, ok := markers["SUMMARY"]; ok && s != "" {
		v.Summary = s
	} else {
		v.Summary = fallbackSummary(text)
	}
	if lvl, ok := markers["THREAT_LEVEL"]; ok {
		if sev, ok := data.ParseSeverity(lvl); ok {
			v.Severity = sev
		}
	}
	if et, ok := markers["EVENT_TYPE"]; ok {
		if typ, ok := data.ParseEventType(et); ok {
			v.EventType = typ
		}
	}
	return v
}

// ParseScanVerdict parses the safety-scan reply. On an unparseable reply it
// returns a no-threat verdict with zero confidence, never an error: a
// garbled model answer must not promote an alert.
func ParseScanVerdict(text string) ScanVerdict {
	// Some models wrap the answer in JSON despite instructions.
	if v, ok := parseScanJSON(text); ok {
		return v
	}

	markers := parseMarkers(text)
	v := ScanVerdict{Severity: data.SeverityLow}

	if d, ok := markers["THREAT_DETECTED"]; ok {
		d = strings.ToLower(d)
		v.ThreatDetected = d == "yes" || d == "true"
	}
	if c, ok := markers["CONFIDENCE"]; ok {
		v.Confidence = parseConfidence(c)
	}
	if tt, ok := markers["THREAT_TYPE"]; ok && !strings.EqualFold(tt, "none") {
		v.ThreatType = strings.ToLower(strings.ReplaceAll(tt, " ", "_"))
	}
	if lvl, ok := markers["THREAT_LEVEL"]; ok {
		if sev, ok := data.ParseSeverity(lvl); ok {
			v.Severity = sev
		}
	}
	if d, ok := markers["DESCRIPTION"]; ok {
		v.Description = d
	}
	if d, ok := markers["DOUBT"]; ok && !strings.EqualFold(d, "none") {
		v.Doubt = d
	}

	// No threat without a type or description is still fine; a claimed
	// threat with no type gets a generic label.
	if v.ThreatDetected && v.ThreatType == "" {
		v.ThreatType = "unspecified"
	}
	return v
}

func parseScanJSON(text string) (ScanVerdict, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ScanVerdict{}, false
	}
	var raw struct {
		ThreatDetected any    `json:"threat_detected"`
		Confidence     any    `json:"confidence"`
		ThreatType     string `json:"threat_type"`
		ThreatLevel    string `json:"threat_level"`
		Description    string `json:"description"`
		Doubt          string `json:"doubt"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return ScanVerdict{}, false
	}

	v := ScanVerdict{
		Severity:    data.SeverityLow,
		Description: raw.Description,
	}
	switch d := raw.ThreatDetected.(type) {
	case bool:
		v.ThreatDetected = d
	case string:
		v.ThreatDetected = strings.EqualFold(d, "yes") || strings.EqualFold(d, "true")
	}
	switch c := raw.Confidence.(type) {
	case float64:
		v.Confidence = clampConfidence(int(c))
	case string:
		v.Confidence = parseConfidence(c)
	}
	if raw.ThreatType != "" && !strings.EqualFold(raw.ThreatType, "none") {
		v.ThreatType = strings.ToLower(strings.ReplaceAll(raw.ThreatType, " ", "_"))
	}
	if sev, ok := data.ParseSeverity(raw.ThreatLevel); ok {
		v.Severity = sev
	}
	if !strings.EqualFold(raw.Doubt, "none") {
		v.Doubt = raw.Doubt
	}
	if v.ThreatDetected && v.ThreatType == "" {
		v.ThreatType = "unspecified"
	}
	return v, true
}

var numRe = regexp.MustCompile(`\d+(\.\d+)?`)

// parseConfidence accepts "85", "85%", "0.85" and clamps to 0..100.
func parseConfidence(s string) int {
	m := numRe.FindString(s)
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0
	}
	// A bare fraction means a probability.
	if f <= 1.0 && strings.Contains(m, ".") {
		f *= 100
	}
	return clampConfidence(int(f + 0.5))
}

func clampConfidence(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// fallbackSummary trims a free-form reply down to something usable as a
// one-line summary.
func fallbackSummary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "No description available."
	}
	if idx := strings.IndexByte(text, '\n'); idx > 0 {
		text = text[:idx]
	}
	const maxLen = 300
	if len(text) > maxLen {
		text = strings.TrimSpace(text[:maxLen]) + "..."
	}
	return text
}
