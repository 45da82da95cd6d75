package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Khan-Nahida123/anpr-system/internal/dedup"
	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

var (
	// ErrOwnerUnresolved: plate has no registry entry at persistence time.
	ErrOwnerUnresolved = errors.New("owner unresolved for plate")
	// ErrDuplicateWindow: the dedup uniqueness constraint rejected the insert,
	// meaning a concurrent pipeline run won the same cooldown bucket.
	ErrDuplicateWindow = errors.New("duplicate violation within cooldown window")
	// ErrDuplicateID: primary key collision on a generated UUID. Should never
	// happen; treated as an invariant violation by callers.
	ErrDuplicateID = errors.New("duplicate violation id")
	// ErrStorageUnavailable: timeout or transport-level database failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RegistryLookup is the slice of the vehicle registry the violation store
// needs for owner resolution at append time.
type RegistryLookup interface {
	OwnerByPlate(ctx context.Context, plateNumber string) (*violation.Owner, *violation.Vehicle, error)
}

// ViolationRepository is the append-only violation log plus its satellite
// tables (notification attempts, quarantine). Records are never deleted;
// corrections are new records.
type ViolationRepository struct {
	db       *gorm.DB
	registry RegistryLookup
	timeout  time.Duration
}

func NewViolationRepository(db *gorm.DB, registry RegistryLookup, timeout time.Duration) *ViolationRepository {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ViolationRepository{db: db, registry: registry, timeout: timeout}
}

type violationRow struct {
	ID             uuid.UUID `gorm:"primaryKey"`
	PlateNumber    string    `gorm:"not null"`
	OwnerID        int64     `gorm:"not null"`
	ViolationType  string    `gorm:"not null"`
	FineAmount     int64     `gorm:"not null"`
	Evidence       datatypes.JSON
	DetectedAt     time.Time        `gorm:"not null"`
	CooldownBucket int64            `gorm:"not null"`
	Status         violation.Status `gorm:"not null"`
	CreatedAt      time.Time
}

func (violationRow) TableName() string { return "violations" }

type notificationAttemptRow struct {
	ID            int64                    `gorm:"primaryKey"`
	ViolationID   uuid.UUID                `gorm:"not null"`
	AttemptNumber int                      `gorm:"not null"`
	Outcome       violation.AttemptOutcome `gorm:"not null"`
	Detail        *string
	AttemptedAt   time.Time
}

func (notificationAttemptRow) TableName() string { return "notification_attempts" }

type quarantinedCandidateRow struct {
	ID            int64  `gorm:"primaryKey"`
	PlateNumber   string `gorm:"not null"`
	ViolationType string `gorm:"not null"`
	FineAmount    int64  `gorm:"not null"`
	Evidence      datatypes.JSON
	DetectedAt    time.Time `gorm:"not null"`
	Reason        string    `gorm:"not null"`
	CreatedAt     time.Time
}

func (quarantinedCandidateRow) TableName() string { return "quarantined_candidates" }

func (r *ViolationRepository) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Append resolves the candidate's owner, assigns a fresh violation ID and
// PENDING status, and writes the record durably. The write runs in a
// transaction that takes an advisory lock per (plate, type) and re-checks the
// cooldown window, so two concurrent appends straddling a bucket boundary
// still collapse to one record; the unique index on the bucket remains as a
// backstop for same-bucket races.
func (r *ViolationRepository) Append(ctx context.Context, cand violation.Candidate, fineAmount int64) (*violation.Violation, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	owner, _, err := r.registry.OwnerByPlate(ctx, cand.PlateNumber)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOwnerUnresolved, cand.PlateNumber)
	}
	if err != nil {
		return nil, classifyStorageErr(err)
	}

	evidence, err := json.Marshal(cand.Evidence)
	if err != nil {
		return nil, fmt.Errorf("marshal evidence: %w", err)
	}

	row := violationRow{
		ID:             uuid.New(),
		PlateNumber:    cand.PlateNumber,
		OwnerID:        owner.OwnerID,
		ViolationType:  cand.ViolationType,
		FineAmount:     fineAmount,
		Evidence:       datatypes.JSON(evidence),
		DetectedAt:     cand.DetectedAt,
		CooldownBucket: dedup.CooldownBucket(cand.DetectedAt, cand.Cooldown),
		Status:         violation.StatusPending,
		CreatedAt:      time.Now(),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"SELECT pg_advisory_xact_lock(hashtext(? || '|' || ?))",
			cand.PlateNumber, cand.ViolationType,
		).Error; err != nil {
			return err
		}

		var prior violationRow
		err := tx.
			Where("plate_number = ? AND violation_type = ? AND detected_at >= ?",
				cand.PlateNumber, cand.ViolationType, cand.DetectedAt.Add(-cand.Cooldown)).
			Order("detected_at DESC").
			First(&prior).Error
		if err == nil {
			return ErrDuplicateWindow
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateWindow) {
			return nil, err
		}
		return nil, classifyStorageErr(err)
	}

	v := rowToViolation(row)
	return &v, nil
}

// LastViolationSince returns the most recent violation of the given type for
// the plate detected at or after since, or nil when there is none.
func (r *ViolationRepository) LastViolationSince(ctx context.Context, plateNumber, violationType string, since time.Time) (*violation.Violation, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var row violationRow
	err := r.db.WithContext(ctx).
		Where("plate_number = ? AND violation_type = ? AND detected_at >= ?", plateNumber, violationType, since).
		Order("detected_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	v := rowToViolation(row)
	return &v, nil
}

func (r *ViolationRepository) FindByID(ctx context.Context, id uuid.UUID) (*violation.Violation, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var row violationRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	v := rowToViolation(row)
	return &v, nil
}

func (r *ViolationRepository) Find(ctx context.Context, plateNumber *string, from, to *time.Time, limit, offset int) ([]violation.Violation, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	query := r.db.WithContext(ctx).Model(&violationRow{})
	if plateNumber != nil {
		query = query.Where("plate_number = ?", *plateNumber)
	}
	if from != nil {
		query = query.Where("detected_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("detected_at <= ?", *to)
	}
	query = query.Order("detected_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []violationRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, classifyStorageErr(err)
	}

	result := make([]violation.Violation, 0, len(rows))
	for _, row := range rows {
		result = append(result, rowToViolation(row))
	}
	return result, nil
}

// RecordAttempt appends one notification attempt and returns its number.
// Numbering happens under an advisory lock per violation so racing dispatches
// never assign the same attempt number; the unique index on
// (violation_id, attempt_number) enforces the same invariant at the schema.
func (r *ViolationRepository) RecordAttempt(ctx context.Context, violationID uuid.UUID, outcome violation.AttemptOutcome, detail string) (int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var attemptNumber int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"SELECT pg_advisory_xact_lock(hashtext(?))", violationID.String(),
		).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.
			Model(&notificationAttemptRow{}).
			Where("violation_id = ?", violationID).
			Count(&count).Error; err != nil {
			return err
		}

		row := notificationAttemptRow{
			ViolationID:   violationID,
			AttemptNumber: int(count) + 1,
			Outcome:       outcome,
			AttemptedAt:   time.Now(),
		}
		if detail != "" {
			row.Detail = &detail
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		attemptNumber = row.AttemptNumber
		return nil
	})
	if err != nil {
		return 0, classifyStorageErr(err)
	}
	return attemptNumber, nil
}

func (r *ViolationRepository) Attempts(ctx context.Context, violationID uuid.UUID) ([]violation.NotificationAttempt, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var rows []notificationAttemptRow
	err := r.db.WithContext(ctx).
		Where("violation_id = ?", violationID).
		Order("attempt_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classifyStorageErr(err)
	}

	attempts := make([]violation.NotificationAttempt, 0, len(rows))
	for _, row := range rows {
		a := violation.NotificationAttempt{
			ViolationID:   row.ViolationID,
			AttemptNumber: row.AttemptNumber,
			Outcome:       row.Outcome,
			AttemptedAt:   row.AttemptedAt,
		}
		if row.Detail != nil {
			a.Detail = *row.Detail
		}
		attempts = append(attempts, a)
	}
	return attempts, nil
}

// MarkNotified moves the violation to NOTIFIED. The guarded update makes the
// transition idempotent: only the first caller gets true, and a NOTIFIED
// record never reverts.
func (r *ViolationRepository) MarkNotified(ctx context.Context, violationID uuid.UUID) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).
		Model(&violationRow{}).
		Where("id = ? AND status <> ?", violationID, violation.StatusNotified).
		Update("status", violation.StatusNotified)
	if res.Error != nil {
		return false, classifyStorageErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkNotifyFailed moves a PENDING violation to FAILED_NOTIFY. NOTIFIED
// records are left alone.
func (r *ViolationRepository) MarkNotifyFailed(ctx context.Context, violationID uuid.UUID) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	err := r.db.WithContext(ctx).
		Model(&violationRow{}).
		Where("id = ? AND status = ?", violationID, violation.StatusPending).
		Update("status", violation.StatusFailedNotify).Error
	if err != nil {
		return classifyStorageErr(err)
	}
	return nil
}

// Quarantine stores a candidate that could not be resolved to an owner for
// manual reconciliation. Quarantined candidates never enter the main table.
func (r *ViolationRepository) Quarantine(ctx context.Context, cand violation.Candidate, fineAmount int64, reason string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	evidence, err := json.Marshal(cand.Evidence)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	row := quarantinedCandidateRow{
		PlateNumber:   cand.PlateNumber,
		ViolationType: cand.ViolationType,
		FineAmount:    fineAmount,
		Evidence:      datatypes.JSON(evidence),
		DetectedAt:    cand.DetectedAt,
		Reason:        reason,
		CreatedAt:     time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return classifyStorageErr(err)
	}
	return nil
}

func (r *ViolationRepository) ListQuarantined(ctx context.Context, limit, offset int) ([]violation.QuarantinedCandidate, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	query := r.db.WithContext(ctx).Model(&quarantinedCandidateRow{}).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []quarantinedCandidateRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, classifyStorageErr(err)
	}

	result := make([]violation.QuarantinedCandidate, 0, len(rows))
	for _, row := range rows {
		q := violation.QuarantinedCandidate{
			ID:            row.ID,
			PlateNumber:   row.PlateNumber,
			ViolationType: row.ViolationType,
			FineAmount:    row.FineAmount,
			DetectedAt:    row.DetectedAt,
			Reason:        row.Reason,
			CreatedAt:     row.CreatedAt,
		}
		_ = json.Unmarshal(row.Evidence, &q.Evidence)
		result = append(result, q)
	}
	return result, nil
}

func rowToViolation(row violationRow) violation.Violation {
	v := violation.Violation{
		ID:            row.ID,
		PlateNumber:   row.PlateNumber,
		OwnerID:       row.OwnerID,
		ViolationType: row.ViolationType,
		FineAmount:    row.FineAmount,
		DetectedAt:    row.DetectedAt,
		Status:        row.Status,
	}
	_ = json.Unmarshal(row.Evidence, &v.Evidence)
	return v
}

// classifyStorageErr maps database failures onto the pipeline's error
// taxonomy. Unique-constraint hits are distinguished by constraint name so
// a lost dedup race never looks like a generic storage failure.
func classifyStorageErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "violations_pkey" {
			return fmt.Errorf("%w: %v", ErrDuplicateID, err)
		}
		return fmt.Errorf("%w: %v", ErrDuplicateWindow, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
