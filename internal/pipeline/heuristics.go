package pipeline

import (
	"time"

	"github.com/technosupport/ts-nvr/internal/data"
	"github.com/technosupport/ts-nvr/internal/detect"
)

var vehicleClasses = map[string]struct{}{
	"car": {}, "truck": {}, "bus": {}, "motorcycle": {}, "bicycle": {},
}

var animalClasses = map[string]struct{}{
	"dog": {}, "cat": {}, "bird": {},
}

// classifyDetections derives the initial event type and severity from raw
// detector output and the wall clock. This is a cheap first guess; the VLM
// may refine it later.
func classifyDetections(objects []detect.Detection, at time.Time) (data.EventType, data.EventSeverity) {
	var hasPerson, hasVehicle, hasAnimal bool
	for _, d := range objects {
		switch {
		case d.ClassName == "person":
			hasPerson = true
		default:
			if _, ok := vehicleClasses[d.ClassName]; ok {
				hasVehicle = true
			} else if _, ok := animalClasses[d.ClassName]; ok {
				hasAnimal = true
			}
		}
	}

	switch {
	case hasPerson:
		return data.EventPersonDetected, personSeverity(at)
	case hasVehicle:
		return data.EventVehicleDetected, data.SeverityLow
	case hasAnimal:
		return data.EventAnimalDetected, data.SeverityLow
	default:
		return data.EventObjectDetected, data.SeverityLow
	}
}

// personSeverity boosts person detections by time of day: late night is
// high, evening and early morning medium, daytime low.
func personSeverity(at time.Time) data.EventSeverity {
	h := at.Hour()
	switch {
	case h >= 23 || h < 5:
		return data.SeverityHigh
	case h >= 21 || h < 7:
		return data.SeverityMedium
	default:
		return data.SeverityLow
	}
}

// maxConfidence returns the highest confidence among the detections.
func maxConfidence(objects []detect.Detection) float64 {
	var max float64
	for _, d := range objects {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}
