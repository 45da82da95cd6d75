package rules

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Khan-Nahida123/anpr-system/internal/config"
	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

var ErrLowConfidence = errors.New("reading below confidence threshold")

const (
	SignalHelmetAbsent   = "helmet_absent"
	SignalSeatbeltAbsent = "seatbelt_absent"
	SignalRed            = "signal_red"
)

// Definition is one loaded rule. The predicate fires when the configured
// context signal is set and, if a speed floor is configured, the reading's
// speed estimate meets it.
type Definition struct {
	RuleID        string
	ViolationType string
	Signal        string
	MinSpeedKPH   *float64
	Priority      int
	Cooldown      time.Duration
}

func (d Definition) matches(s violation.ContextSignals) bool {
	if d.Signal != "" && !signalSet(d.Signal, s) {
		return false
	}
	if d.MinSpeedKPH != nil {
		if s.SpeedKPH == nil || *s.SpeedKPH < *d.MinSpeedKPH {
			return false
		}
	}
	return true
}

func signalSet(name string, s violation.ContextSignals) bool {
	switch name {
	case SignalHelmetAbsent:
		return s.HelmetAbsent
	case SignalSeatbeltAbsent:
		return s.SeatbeltAbsent
	case SignalRed:
		return s.SignalRed
	}
	return false
}

// ScheduleChecker reports whether a violation type is priced in every
// schedule version. Satisfied by fines.Calculator.
type ScheduleChecker interface {
	Covers(violationType string) bool
}

// Engine evaluates readings against the loaded rule set. Pure function of
// its inputs and static configuration; candidates come out in priority
// order so downstream processing and audit logs stay deterministic.
type Engine struct {
	defs      []Definition
	minOCR    float64
	minDetect float64
	log       zerolog.Logger
}

func NewEngine(cfgRules []config.RuleConfig, minOCR, minDetect float64, log zerolog.Logger) (*Engine, error) {
	if len(cfgRules) == 0 {
		return nil, errors.New("rule set is empty")
	}

	defs := make([]Definition, 0, len(cfgRules))
	seen := make(map[string]bool, len(cfgRules))
	for _, rc := range cfgRules {
		if rc.RuleID == "" || rc.ViolationType == "" {
			return nil, fmt.Errorf("rule %q: rule_id and violation_type are required", rc.RuleID)
		}
		if rc.Signal == "" && rc.MinSpeedKPH == nil {
			return nil, fmt.Errorf("rule %s: predicate needs a signal or min_speed_kph", rc.RuleID)
		}
		if rc.CooldownSeconds <= 0 {
			return nil, fmt.Errorf("rule %s: cooldown_seconds must be positive", rc.RuleID)
		}
		if seen[rc.RuleID] {
			return nil, fmt.Errorf("rule %s: duplicate rule_id", rc.RuleID)
		}
		seen[rc.RuleID] = true
		defs = append(defs, Definition{
			RuleID:        rc.RuleID,
			ViolationType: rc.ViolationType,
			Signal:        rc.Signal,
			MinSpeedKPH:   rc.MinSpeedKPH,
			Priority:      rc.Priority,
			Cooldown:      rc.Cooldown(),
		})
	}
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Priority < defs[j].Priority })

	return &Engine{
		defs:      defs,
		minOCR:    minOCR,
		minDetect: minDetect,
		log:       log,
	}, nil
}

// ValidateSchedule checks that every rule's violation type is priced in the
// fine schedule. A mismatch means rules and schedule are out of sync, which
// is fatal at startup.
func (e *Engine) ValidateSchedule(schedule ScheduleChecker) error {
	for _, d := range e.defs {
		if !schedule.Covers(d.ViolationType) {
			return fmt.Errorf("rule %s: violation type %s missing from fine schedule", d.RuleID, d.ViolationType)
		}
	}
	return nil
}

// Evaluate applies every rule to the reading's context signals. Readings
// below either confidence threshold never become candidates; they are
// reported as ErrLowConfidence for the caller to drop. Several rules may
// fire on one reading.
func (e *Engine) Evaluate(reading violation.PlateReading, plate string) ([]violation.Candidate, error) {
	if reading.OCRConfidence < e.minOCR || reading.DetectionConfidence < e.minDetect {
		e.log.Debug().
			Str("plate", plate).
			Float64("ocr_confidence", reading.OCRConfidence).
			Float64("detection_confidence", reading.DetectionConfidence).
			Msg("reading below confidence thresholds")
		return nil, ErrLowConfidence
	}

	var candidates []violation.Candidate
	for _, d := range e.defs {
		if !d.matches(reading.Signals) {
			continue
		}
		candidates = append(candidates, violation.Candidate{
			RuleID:        d.RuleID,
			ViolationType: d.ViolationType,
			PlateNumber:   plate,
			RawPlate:      reading.PlateText,
			DetectedAt:    reading.ObservedAt,
			Cooldown:      d.Cooldown,
			Evidence: violation.Evidence{
				FrameRef: reading.FrameRef,
				BBox:     reading.BBox,
			},
		})
	}
	return candidates, nil
}
