package data

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed classification vocabulary. The VLM may refine a
// heuristic type into any of these; unknown strings are rejected at parse time.
type EventType string

const (
	EventPersonDetected  EventType = "person_detected"
	EventVehicleDetected EventType = "vehicle_detected"
	EventAnimalDetected  EventType = "animal_detected"
	EventObjectDetected  EventType = "object_detected"
	EventMotionDetected  EventType = "motion_detected"

	EventDelivery     EventType = "delivery"
	EventVisitor      EventType = "visitor"
	EventPackageLeft  EventType = "package_left"
	EventSuspicious   EventType = "suspicious"
	EventIntrusion    EventType = "intrusion"
	EventLoitering    EventType = "loitering"
	EventTheftAttempt EventType = "theft_attempt"

	EventFireDetected  EventType = "fire_detected"
	EventSmokeDetected EventType = "smoke_detected"
)

var eventTypes = map[EventType]struct{}{
	EventPersonDetected: {}, EventVehicleDetected: {}, EventAnimalDetected: {},
	EventObjectDetected: {}, EventMotionDetected: {}, EventDelivery: {},
	EventVisitor: {}, EventPackageLeft: {}, EventSuspicious: {},
	EventIntrusion: {}, EventLoitering: {}, EventTheftAttempt: {},
	EventFireDetected: {}, EventSmokeDetected: {},
}

// ParseEventType matches case-insensitively, returning false for anything
// outside the vocabulary.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	_, ok := eventTypes[t]
	return t, ok
}

type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

var severityRank = map[EventSeverity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordering position of a severity; unknown values rank lowest.
func (s EventSeverity) Rank() int { return severityRank[s] }

func ParseSeverity(s string) (EventSeverity, bool) {
	sev := EventSeverity(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[sev]
	return sev, ok
}

// StoredDetection is the detection shape embedded into an event row.
type StoredDetection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
	TrackID    int        `json:"track_id,omitempty"`
}

// Event is the persisted unit of observation. Severity and type are a
// heuristic at creation time; enrichment may upgrade both, at most once.
type Event struct {
	ID              uuid.UUID         `json:"id"`
	CameraID        uuid.UUID         `json:"camera_id"`
	UserID          uuid.UUID         `json:"user_id"`
	Type            EventType         `json:"event_type"`
	Severity        EventSeverity     `json:"severity"`
	DetectedObjects []StoredDetection `json:"detected_objects"`
	ConfidenceScore float64           `json:"confidence_score"`
	FramePath       string            `json:"frame_path,omitempty"`
	ThumbnailPath   string            `json:"thumbnail_path,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`

	Summary            *string    `json:"summary,omitempty"`
	SummaryGeneratedAt *time.Time `json:"summary_generated_at,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	IsAcknowledged bool       `json:"is_acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// EnrichmentUpdate carries the single post-creation mutation of an event.
type EnrichmentUpdate struct {
	EventID  uuid.UUID
	Summary  string
	Severity EventSeverity
	Type     EventType
	Metadata map[string]any
}

// Camera is the subset of the camera row the pipeline needs.
type Camera struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	Name             string
	StreamURL        string
	FPS              int
	DetectionEnabled bool
}

// UserSettings is the fully-typed per-user pipeline configuration. It is
// loaded once per loop start and refreshed on a fixed cadence, never
// re-fetched ad hoc.
type UserSettings struct {
	UserID uuid.UUID

	DetectionModel      string
	DetectionDevice     string
	DetectionConfidence float64
	EnabledClasses      []string

	VLMProvider   string // "ollama", "openai", "gemini"
	VLMModel      string
	VLMURL        string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GeminiAPIKey  string
	GeminiModel   string

	AutoSummarize      bool
	SafetyScanEnabled  bool
	SafetyScanInterval time.Duration

	NotificationsEnabled bool
	MinSeverity          EventSeverity
	NotifyEventTypes     []string

	TelegramEnabled   bool
	TelegramBotToken  string
	TelegramChatID    string
	TelegramSendPhoto bool

	EmailEnabled      bool
	EmailSMTPHost     string
	EmailSMTPPort     int
	EmailSMTPUser     string
	EmailSMTPPassword string
	EmailFromAddress  string
	EmailRecipients   []string
}

// DefaultUserSettings mirrors the column defaults so a user without a
// settings row still gets a working pipeline.
func DefaultUserSettings(userID uuid.UUID) UserSettings {
	return UserSettings{
		UserID:               userID,
		DetectionModel:       "ssd_mobilenet_v2",
		DetectionDevice:      "cpu",
		DetectionConfidence:  0.5,
		VLMProvider:          "ollama",
		VLMModel:             "gemma3:4b",
		VLMURL:               "http://localhost:11434",
		OpenAIModel:          "gpt-4o",
		GeminiModel:          "gemini-2.0-flash-exp",
		AutoSummarize:        true,
		SafetyScanEnabled:    true,
		SafetyScanInterval:   30 * time.Second,
		NotificationsEnabled: true,
		MinSeverity:          SeverityHigh,
		NotifyEventTypes:     []string{"all"},
		EmailSMTPPort:        587,
		TelegramSendPhoto:    true,
	}
}
