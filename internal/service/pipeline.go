package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Khan-Nahida123/anpr-system/internal/dedup"
	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
	"github.com/Khan-Nahida123/anpr-system/internal/fines"
	"github.com/Khan-Nahida123/anpr-system/internal/repository"
	"github.com/Khan-Nahida123/anpr-system/internal/rules"
	"github.com/Khan-Nahida123/anpr-system/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	// ErrConfigIntegrity: the rule set produced a violation type the fine
	// schedule cannot price, or an ID generation invariant broke. Fatal to
	// the pipeline run, not a per-record outcome.
	ErrConfigIntegrity = errors.New("configuration integrity failure")
)

// ViolationStore is the durable append-only violation log as the
// orchestrator sees it.
type ViolationStore interface {
	Append(ctx context.Context, cand violation.Candidate, fineAmount int64) (*violation.Violation, error)
	LastViolationSince(ctx context.Context, plateNumber, violationType string, since time.Time) (*violation.Violation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*violation.Violation, error)
	Find(ctx context.Context, plateNumber *string, from, to *time.Time, limit, offset int) ([]violation.Violation, error)
	Attempts(ctx context.Context, violationID uuid.UUID) ([]violation.NotificationAttempt, error)
	Quarantine(ctx context.Context, cand violation.Candidate, fineAmount int64, reason string) error
	ListQuarantined(ctx context.Context, limit, offset int) ([]violation.QuarantinedCandidate, error)
}

// Notifier dispatches the fine notice for a persisted violation.
type Notifier interface {
	Dispatch(ctx context.Context, v *violation.Violation, owner *violation.Owner) (violation.Outcome, error)
}

// PipelineService coordinates the violation decision pipeline: evaluate the
// reading, admit candidates past the cooldown check, price them, persist,
// and dispatch notifications. One invocation per reading; invocations are
// independent and share state only through the store.
type PipelineService struct {
	engine     *rules.Engine
	dedup      *dedup.Deduplicator
	calc       *fines.Calculator
	store      ViolationStore
	registry   repository.RegistryLookup
	dispatcher Notifier
	log        zerolog.Logger
}

func NewPipelineService(
	engine *rules.Engine,
	dd *dedup.Deduplicator,
	calc *fines.Calculator,
	store ViolationStore,
	registry repository.RegistryLookup,
	dispatcher Notifier,
	log zerolog.Logger,
) *PipelineService {
	return &PipelineService{
		engine:     engine,
		dedup:      dd,
		calc:       calc,
		store:      store,
		registry:   registry,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Process runs one reading through the pipeline and returns its terminal
// state. Expected business outcomes (low confidence, suppression,
// unresolved owner, notify failure) come back inside the result; only
// storage unavailability and config integrity failures return an error.
// Persisted records are never rolled back on later failures.
func (s *PipelineService) Process(ctx context.Context, reading violation.PlateReading) (*violation.PipelineResult, error) {
	if reading.PlateText == "" {
		return nil, fmt.Errorf("%w: plate_text is required", ErrInvalidInput)
	}
	if reading.ObservedAt.IsZero() {
		return nil, fmt.Errorf("%w: observed_at is required", ErrInvalidInput)
	}
	if reading.OCRConfidence < 0 || reading.OCRConfidence > 1 ||
		reading.DetectionConfidence < 0 || reading.DetectionConfidence > 1 {
		return nil, fmt.Errorf("%w: confidence values must be within [0,1]", ErrInvalidInput)
	}

	plate := utils.NormalizePlate(reading.PlateText)
	if plate == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
	}

	candidates, err := s.engine.Evaluate(reading, plate)
	if errors.Is(err, rules.ErrLowConfidence) {
		s.log.Info().
			Str("plate", plate).
			Float64("ocr_confidence", reading.OCRConfidence).
			Float64("detection_confidence", reading.DetectionConfidence).
			Msg("reading dropped: low confidence")
		return &violation.PipelineResult{Plate: plate, Outcome: violation.OutcomeLowConfidence}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &violation.PipelineResult{Plate: plate, Outcome: violation.OutcomeNoViolation}, nil
	}

	records := make([]violation.RecordResult, 0, len(candidates))
	for _, cand := range candidates {
		rec, err := s.processCandidate(ctx, cand)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return &violation.PipelineResult{
		Plate:   plate,
		Outcome: overallOutcome(records),
		Records: records,
	}, nil
}

func (s *PipelineService) processCandidate(ctx context.Context, cand violation.Candidate) (violation.RecordResult, error) {
	rec := violation.RecordResult{
		RuleID:        cand.RuleID,
		ViolationType: cand.ViolationType,
	}

	decision, err := s.dedup.Admit(ctx, cand)
	if err != nil {
		return rec, err
	}
	if !decision.Admitted {
		rec.Outcome = violation.OutcomeSuppressed
		rec.SuppressedBy = decision.SuppressedBy
		return rec, nil
	}

	fineAmount, err := s.calc.Compute(cand.ViolationType, cand.DetectedAt)
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrConfigIntegrity, err)
	}

	persisted, err := s.store.Append(ctx, cand, fineAmount)
	switch {
	case errors.Is(err, repository.ErrOwnerUnresolved):
		if qerr := s.store.Quarantine(ctx, cand, fineAmount, "owner unresolved"); qerr != nil {
			return rec, qerr
		}
		s.log.Warn().
			Str("plate", cand.PlateNumber).
			Str("violation_type", cand.ViolationType).
			Msg("candidate quarantined: owner unresolved")
		rec.Outcome = violation.OutcomeUnresolved
		return rec, nil
	case errors.Is(err, repository.ErrDuplicateWindow):
		// Lost the race against a concurrent pipeline run; the winner's
		// record is the suppressor.
		winner, lerr := s.store.LastViolationSince(ctx, cand.PlateNumber, cand.ViolationType, cand.DetectedAt.Add(-cand.Cooldown))
		if lerr == nil && winner != nil {
			id := winner.ID
			rec.SuppressedBy = &id
		}
		rec.Outcome = violation.OutcomeSuppressed
		return rec, nil
	case errors.Is(err, repository.ErrDuplicateID):
		return rec, fmt.Errorf("%w: %v", ErrConfigIntegrity, err)
	case err != nil:
		return rec, err
	}

	s.log.Info().
		Str("violation_id", persisted.ID.String()).
		Str("plate", persisted.PlateNumber).
		Str("violation_type", persisted.ViolationType).
		Int64("fine_amount", persisted.FineAmount).
		Time("detected_at", persisted.DetectedAt).
		Msg("violation persisted")

	id := persisted.ID
	rec.ViolationID = &id
	rec.FineAmount = persisted.FineAmount
	rec.Outcome = s.dispatch(ctx, persisted)
	return rec, nil
}

// dispatch sends the notice for a freshly persisted violation. Failures
// here never undo the record; they only shape the reported outcome.
func (s *PipelineService) dispatch(ctx context.Context, v *violation.Violation) violation.Outcome {
	owner, _, err := s.registry.OwnerByPlate(ctx, v.PlateNumber)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("violation_id", v.ID.String()).
			Msg("owner lookup failed before notification")
		return violation.OutcomeNotifyFailed
	}

	outcome, err := s.dispatcher.Dispatch(ctx, v, owner)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("violation_id", v.ID.String()).
			Msg("notification dispatch failed")
		return violation.OutcomeNotifyFailed
	}
	return outcome
}

// Renotify re-runs notification dispatch for a persisted violation, used by
// operators after FAILED_NOTIFY. Already-notified violations are a no-op.
func (s *PipelineService) Renotify(ctx context.Context, id uuid.UUID) (violation.Outcome, error) {
	v, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: violation %s", ErrNotFound, id)
	}
	if err != nil {
		return "", err
	}
	if v.Status == violation.StatusNotified {
		return violation.OutcomeNotified, nil
	}

	owner, _, err := s.registry.OwnerByPlate(ctx, v.PlateNumber)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: owner for plate %s", ErrNotFound, v.PlateNumber)
	}
	if err != nil {
		return "", err
	}
	return s.dispatcher.Dispatch(ctx, v, owner)
}

func (s *PipelineService) Violation(ctx context.Context, id uuid.UUID) (*violation.Violation, []violation.NotificationAttempt, error) {
	v, err := s.store.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: violation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}
	attempts, err := s.store.Attempts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return v, attempts, nil
}

func (s *PipelineService) FindViolations(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]violation.Violation, error) {
	var plate *string
	if plateQuery != nil {
		normalized := utils.NormalizePlate(*plateQuery)
		if normalized != "" {
			plate = &normalized
		}
	}

	var fromTime, toTime *time.Time
	if from != nil && *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		fromTime = &t
	}
	if to != nil && *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		toTime = &t
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Find(ctx, plate, fromTime, toTime, limit, offset)
}

func (s *PipelineService) Quarantined(ctx context.Context, limit, offset int) ([]violation.QuarantinedCandidate, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListQuarantined(ctx, limit, offset)
}

// overallOutcome collapses per-candidate results into one headline state.
// Persisted outcomes dominate, and a notify failure outranks a success so
// operators see it.
func overallOutcome(records []violation.RecordResult) violation.Outcome {
	precedence := []violation.Outcome{
		violation.OutcomeNotifyFailed,
		violation.OutcomeNotified,
		violation.OutcomeUnresolved,
		violation.OutcomeSuppressed,
	}
	for _, o := range precedence {
		for _, rec := range records {
			if rec.Outcome == o {
				return o
			}
		}
	}
	return violation.OutcomeNoViolation
}
