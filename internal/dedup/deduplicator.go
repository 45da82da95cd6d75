package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

// HistoryLookup answers "what is the most recent persisted violation of this
// type for this plate since the given instant". Backed by the violation
// store; append's read-after-write guarantee is what makes this check sound.
type HistoryLookup interface {
	LastViolationSince(ctx context.Context, plateNumber, violationType string, since time.Time) (*violation.Violation, error)
}

// Decision is the outcome of an admission check. Suppressions carry the
// suppressing record's ID for the audit trail, never a silent drop.
type Decision struct {
	Admitted     bool
	SuppressedBy *uuid.UUID
}

type Deduplicator struct {
	history HistoryLookup
	log     zerolog.Logger
}

func NewDeduplicator(history HistoryLookup, log zerolog.Logger) *Deduplicator {
	return &Deduplicator{history: history, log: log}
}

// Admit accepts a candidate for persistence unless a violation of the same
// type for the same plate already exists inside the rule's cooldown window.
// Concurrent admits that race past this check are caught at append time: the
// store re-checks the window under a per-(plate, type) lock, with the
// cooldown-bucket uniqueness constraint as the same-bucket backstop.
func (d *Deduplicator) Admit(ctx context.Context, cand violation.Candidate) (Decision, error) {
	since := cand.DetectedAt.Add(-cand.Cooldown)
	prior, err := d.history.LastViolationSince(ctx, cand.PlateNumber, cand.ViolationType, since)
	if err != nil {
		return Decision{}, fmt.Errorf("dedup history lookup: %w", err)
	}
	if prior != nil {
		d.log.Info().
			Str("plate", cand.PlateNumber).
			Str("violation_type", cand.ViolationType).
			Str("suppressed_by", prior.ID.String()).
			Time("prior_detected_at", prior.DetectedAt).
			Msg("candidate suppressed by cooldown window")
		id := prior.ID
		return Decision{Admitted: false, SuppressedBy: &id}, nil
	}
	return Decision{Admitted: true}, nil
}

// CooldownBucket maps a timestamp to the discrete key used in the store's
// uniqueness constraint. Monotonic in time: two instants closer than the
// window land in the same or adjacent buckets. Same-bucket concurrent
// inserts conflict on the index; adjacent-bucket ones are handled by the
// append-time window check.
func CooldownBucket(at time.Time, window time.Duration) int64 {
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return at.Unix() / secs
}
