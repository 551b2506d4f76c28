package gate

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// UnknownPlate is what the OCR stage reports when no characters were read.
const UnknownPlate = "UNKNOWN"

type EntryStatus string

const (
	StatusActive EntryStatus = "active"
	StatusExited EntryStatus = "exited"
)

// EntryRecord is one vehicle's stay behind the gate, opened at entry and
// closed exactly once at exit.
type EntryRecord struct {
	ID              uuid.UUID   `json:"id"`
	PlateText       string      `json:"plate_text"`
	PlateConfidence float64     `json:"plate_confidence"`
	FaceVector      []float64   `json:"face_vector,omitempty"`
	PlateImageRef   string      `json:"plate_image_ref,omitempty"`
	FaceImageRef    string      `json:"face_image_ref,omitempty"`
	EntryTime       time.Time   `json:"entry_time"`
	ExitTime        *time.Time  `json:"exit_time,omitempty"`
	Status          EntryStatus `json:"status"`
}

func (r EntryRecord) IsActive() bool {
	return r.Status == StatusActive
}

// NewEntry carries what the entry side captured for a vehicle.
type NewEntry struct {
	PlateText       string
	PlateConfidence float64
	FaceVector      []float64
	PlateImageRef   string
	FaceImageRef    string
}

type Label string

const (
	LabelPlate Label = "plate"
	LabelFace  Label = "face"
)

// Box is a raw detector output in frame pixel coordinates.
type Box struct {
	Label      Label   `json:"label"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}

type Candidate struct {
	Region     image.Rectangle
	Crop       image.Image
	Confidence float64
}

// DetectionResult keeps candidates per label in detector order. Only the
// first one of each label is used downstream.
type DetectionResult map[Label][]Candidate

func (d DetectionResult) First(label Label) (Candidate, bool) {
	candidates := d[label]
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	return candidates[0], true
}

type Frame struct {
	ID         uuid.UUID
	Image      image.Image
	CapturedAt time.Time
	Source     string
}

// Recognition is the adapter's answer for one frame.
type Recognition struct {
	Detections      DetectionResult
	PlateText       string
	PlateConfidence float64
	PlateCrop       image.Image
	FaceVector      []float64
	FaceCrop        image.Image
}

func (r *Recognition) HasPlate() bool {
	return r != nil && r.PlateText != "" && r.PlateText != UnknownPlate
}

func (r *Recognition) HasFace() bool {
	return r != nil && len(r.FaceVector) > 0
}

type Command string

const (
	CommandOpenGate Command = "open_gate"
	CommandAlarmOn  Command = "alarm_on"
	CommandAlarmOff Command = "alarm_off"
)

type Override string

const (
	OverrideNone      Override = ""
	OverrideOpenGate  Override = "open_gate"
	OverrideMuteAlarm Override = "mute_alarm"
)

func (o Override) Valid() bool {
	return o == OverrideOpenGate || o == OverrideMuteAlarm
}

type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeNoDetection       OutcomeKind = "no_detection"
	OutcomePlateUnregistered OutcomeKind = "plate_unregistered"
	OutcomeFaceMismatch      OutcomeKind = "face_mismatch"
	OutcomeComparisonFailed  OutcomeKind = "comparison_failed"
	// OutcomeAborted marks an episode cut short by a store failure.
	OutcomeAborted           OutcomeKind = "aborted"
)

// ValidationOutcome is the decision for one exit episode.
type ValidationOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	RecordID   uuid.UUID   `json:"record_id,omitempty"`
	Plate      string      `json:"plate"`
	Similarity *float64    `json:"similarity,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	DecidedAt  time.Time   `json:"decided_at"`
	Err        error       `json:"-"`
}

func (o ValidationOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

type State string

const (
	StateIdle             State = "idle"
	StateAwaitingVehicle  State = "awaiting_vehicle"
	StateProcessing       State = "processing"
	StateSuccess          State = "success"
	StateFailed           State = "failed"
	StateAwaitingOverride State = "awaiting_override"
)

// Event is what gets published about the gate to outside listeners.
type Event struct {
	Type       string             `json:"type"`
	Gate       string             `json:"gate"`
	Outcome    *ValidationOutcome `json:"outcome,omitempty"`
	Override   Override           `json:"override,omitempty"`
	Plate      string             `json:"plate,omitempty"`
	RecordID   *uuid.UUID         `json:"record_id,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}
