package violation

import (
	"time"

	"github.com/google/uuid"
)

// Status of a persisted violation's notification lifecycle. Transitions are
// monotonic: PENDING -> NOTIFIED or PENDING -> FAILED_NOTIFY -> NOTIFIED.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusNotified     Status = "NOTIFIED"
	StatusFailedNotify Status = "FAILED_NOTIFY"
)

type AttemptOutcome string

const (
	AttemptSent          AttemptOutcome = "SENT"
	AttemptTransientFail AttemptOutcome = "TRANSIENT_FAIL"
	AttemptPermanentFail AttemptOutcome = "PERMANENT_FAIL"
)

// Outcome is the terminal state a single candidate (or a whole reading)
// reached in the pipeline.
type Outcome string

const (
	OutcomeNotified      Outcome = "NOTIFIED"
	OutcomeNotifyFailed  Outcome = "NOTIFY_FAILED"
	OutcomeSuppressed    Outcome = "SUPPRESSED"
	OutcomeUnresolved    Outcome = "UNRESOLVED"
	OutcomeLowConfidence Outcome = "LOW_CONFIDENCE"
	OutcomeNoViolation   Outcome = "NO_VIOLATION"
)

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type ContextSignals struct {
	HelmetAbsent   bool     `json:"helmet_absent,omitempty"`
	SeatbeltAbsent bool     `json:"seatbelt_absent,omitempty"`
	SignalRed      bool     `json:"signal_red,omitempty"`
	SpeedKPH       *float64 `json:"speed_kph,omitempty"`
}

// PlateReading is one detector+OCR output for one image. Immutable once
// produced; confidences are untrusted input gated by the rule engine.
type PlateReading struct {
	PlateText           string         `json:"plate_text"`
	OCRConfidence       float64        `json:"ocr_confidence"`
	DetectionConfidence float64        `json:"detection_confidence"`
	BBox                Rect           `json:"bbox"`
	FrameRef            string         `json:"frame_ref,omitempty"`
	ObservedAt          time.Time      `json:"observed_at"`
	Signals             ContextSignals `json:"context_signals"`
}

// Candidate is a not-yet-admitted violation proposal from the rule engine.
type Candidate struct {
	RuleID        string
	ViolationType string
	PlateNumber   string
	RawPlate      string
	DetectedAt    time.Time
	Cooldown      time.Duration
	Evidence      Evidence
}

type Evidence struct {
	FrameRef string `json:"frame_ref,omitempty"`
	BBox     Rect   `json:"bbox"`
}

type Violation struct {
	ID            uuid.UUID `json:"violation_id"`
	PlateNumber   string    `json:"plate_number"`
	OwnerID       int64     `json:"owner_id"`
	ViolationType string    `json:"violation_type"`
	FineAmount    int64     `json:"fine_amount"`
	Evidence      Evidence  `json:"evidence"`
	DetectedAt    time.Time `json:"detected_at"`
	Status        Status    `json:"status"`
}

type NotificationAttempt struct {
	ViolationID   uuid.UUID      `json:"violation_id"`
	AttemptNumber int            `json:"attempt_number"`
	Outcome       AttemptOutcome `json:"outcome"`
	AttemptedAt   time.Time      `json:"attempted_at"`
	Detail        string         `json:"detail,omitempty"`
}

type Owner struct {
	OwnerID int64  `json:"owner_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type Vehicle struct {
	PlateNumber string `json:"plate_number"`
	OwnerID     int64  `json:"owner_id"`
	VehicleType string `json:"vehicle_type,omitempty"`
}

// QuarantinedCandidate is a candidate held back for manual reconciliation
// because its plate had no registry entry at persistence time.
type QuarantinedCandidate struct {
	ID            int64     `json:"id"`
	PlateNumber   string    `json:"plate_number"`
	ViolationType string    `json:"violation_type"`
	FineAmount    int64     `json:"fine_amount"`
	Evidence      Evidence  `json:"evidence"`
	DetectedAt    time.Time `json:"detected_at"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// RecordResult is the terminal state one candidate reached.
type RecordResult struct {
	RuleID        string     `json:"rule_id"`
	ViolationType string     `json:"violation_type"`
	Outcome       Outcome    `json:"outcome"`
	ViolationID   *uuid.UUID `json:"violation_id,omitempty"`
	FineAmount    int64      `json:"fine_amount,omitempty"`
	SuppressedBy  *uuid.UUID `json:"suppressed_by,omitempty"`
}

// PipelineResult summarizes one reading's trip through the pipeline.
// Outcome is the overall terminal state; Records carries the per-candidate
// detail when more than one rule fired.
type PipelineResult struct {
	Plate   string         `json:"plate"`
	Outcome Outcome        `json:"outcome"`
	Records []RecordResult `json:"records,omitempty"`
}
