package vlm

import (
	"fmt"
	"strings"
	"time"
)

// describePrompt instructs the model to answer with fixed markers so the
// reply can be parsed without depending on model-specific JSON support.
const describePrompt = `You are a security camera analyst. Look at this frame from camera "%s".
TIME: %s
DETECTED: %s

Describe what is happening in one or two sentences, then classify it.
Severity rules: people at night or late night are at least medium, high if
the behavior suggests probing doors, windows or vehicles; routine daytime
activity such as deliveries or visitors is low; forced entry or theft is
high; fire or smoke is always critical.
Respond in EXACTLY this format:

SUMMARY: <one or two sentence description>
THREAT_LEVEL: <low|medium|high|critical>
EVENT_TYPE: <person_detected|vehicle_detected|animal_detected|object_detected|motion_detected|delivery|visitor|package_left|suspicious|intrusion|loitering|theft_attempt|fire_detected|smoke_detected>

Be factual. Only report what is visible in the frame.`

// scanPrompt asks for an independent threat assessment of a frame with no
// detector context, used to verify events before alerting.
const scanPrompt = `You are a security threat verifier. Examine this camera frame independently.
Report whether a genuine security threat is visible.
Respond in EXACTLY this format:

THREAT_DETECTED: <yes|no>
CONFIDENCE: <0-100>
THREAT_TYPE: <short snake_case label, or none>
THREAT_LEVEL: <low|medium|high|critical>
DESCRIPTION: <one sentence>
DOUBT: <one sentence on what could make this a false positive, or none>

If you are not sure, say no. A missed threat is better than a false alarm.`

// DescribeContext is the detector context interpolated into the
// enrichment prompt.
type DescribeContext struct {
	CameraName string
	Time       time.Time
	Detections []string // rendered "class (NN%)" entries
}

// DescribePrompt renders the enrichment prompt for one event.
func DescribePrompt(c DescribeContext) string {
	detected := "none"
	if len(c.Detections) > 0 {
		detected = fmt.Sprintf("%d object(s): %s", len(c.Detections), strings.Join(c.Detections, ", "))
	}
	return fmt.Sprintf(describePrompt, c.CameraName, TimeOfDay(c.Time), detected)
}

// TimeOfDay buckets an instant into the coarse label the prompt uses.
func TimeOfDay(t time.Time) string {
	switch h := t.Hour(); {
	case h < 6:
		return "late night"
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	case h < 21:
		return "evening"
	default:
		return "night"
	}
}

// ScanPrompt returns the independent safety-scan prompt.
func ScanPrompt() string { return scanPrompt }
