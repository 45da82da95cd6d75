package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

// Mailer delivers one fine notice. Implementations wrap errors that can
// never succeed on retry (malformed or permanently rejected addresses) with
// Permanent.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a delivery error as not retryable.
func Permanent(err error) error { return &permanentError{err: err} }

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Store is the slice of the violation store the dispatcher uses: a fresh
// status read, attempt rows, and the monotonic status transition.
type Store interface {
	FindByID(ctx context.Context, violationID uuid.UUID) (*violation.Violation, error)
	RecordAttempt(ctx context.Context, violationID uuid.UUID, outcome violation.AttemptOutcome, detail string) (int, error)
	MarkNotified(ctx context.Context, violationID uuid.UUID) (bool, error)
	MarkNotifyFailed(ctx context.Context, violationID uuid.UUID) error
}

type Policy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 200 * time.Millisecond
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 5 * time.Second
	}
	return p
}

// backoff returns the delay before the given attempt. The first attempt
// runs immediately; later ones double the base delay up to the cap.
func (p Policy) backoff(attempt int) time.Duration {
	shift := attempt - 2
	if shift < 0 {
		return 0
	}
	if shift > 30 {
		shift = 30
	}
	d := p.BackoffBase * time.Duration(1<<shift)
	if d > p.BackoffMax {
		d = p.BackoffMax
	}
	return d
}

// Dispatcher sends the fine notice for a persisted violation. At most one
// SENT outcome is ever recorded per violation ID, no matter how many times
// Dispatch is invoked: the store's guarded NOTIFIED transition decides who
// records it.
type Dispatcher struct {
	mailer Mailer
	store  Store
	policy Policy
	log    zerolog.Logger
}

func NewDispatcher(mailer Mailer, store Store, policy Policy, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		mailer: mailer,
		store:  store,
		policy: policy.normalized(),
		log:    log,
	}
}

// Dispatch runs the retry loop for one violation. Transient delivery errors
// are retried with capped exponential backoff up to the attempt limit;
// permanent errors stop immediately. Cancellation is cooperative, checked
// before each attempt rather than interrupting an in-flight send: both the
// context and the violation's current status are consulted, so a record an
// operator independently resolved mid-backoff stops the loop instead of
// receiving another send. The returned outcome is a business result, not an
// error.
func (d *Dispatcher) Dispatch(ctx context.Context, v *violation.Violation, owner *violation.Owner) (violation.Outcome, error) {
	if v.Status == violation.StatusNotified {
		return violation.OutcomeNotified, nil
	}

	subject, body := BuildNotice(v, owner)

	if _, err := mail.ParseAddress(owner.Email); err != nil {
		return d.permanentFail(ctx, v, fmt.Errorf("malformed recipient %q: %w", owner.Email, err))
	}

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if err := d.wait(ctx, attempt); err != nil {
			return violation.OutcomeNotifyFailed, err
		}
		if d.resolved(ctx, v.ID) {
			return violation.OutcomeNotified, nil
		}

		sendErr := d.mailer.Send(ctx, owner.Email, subject, body)
		if sendErr == nil {
			return d.recordSent(ctx, v)
		}
		if IsPermanent(sendErr) {
			return d.permanentFail(ctx, v, sendErr)
		}

		if _, err := d.store.RecordAttempt(ctx, v.ID, violation.AttemptTransientFail, sendErr.Error()); err != nil {
			return violation.OutcomeNotifyFailed, err
		}
		d.log.Warn().
			Str("violation_id", v.ID.String()).
			Int("attempt", attempt).
			Err(sendErr).
			Msg("transient notification failure")
	}

	if err := d.store.MarkNotifyFailed(ctx, v.ID); err != nil {
		return violation.OutcomeNotifyFailed, err
	}
	d.log.Error().
		Str("violation_id", v.ID.String()).
		Int("attempts", d.policy.MaxAttempts).
		Msg("notification retries exhausted")
	return violation.OutcomeNotifyFailed, nil
}

// resolved re-reads the record so a violation independently marked NOTIFIED
// (an operator resolving it while we back off) cancels the remaining
// attempts. Read failures fall through to the attempt; the guarded
// transition still keeps the recording single.
func (d *Dispatcher) resolved(ctx context.Context, id uuid.UUID) bool {
	current, err := d.store.FindByID(ctx, id)
	if err != nil {
		d.log.Warn().Err(err).Str("violation_id", id.String()).Msg("status read failed before attempt")
		return false
	}
	return current.Status == violation.StatusNotified
}

func (d *Dispatcher) wait(ctx context.Context, attempt int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	delay := d.policy.backoff(attempt)
	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Dispatcher) recordSent(ctx context.Context, v *violation.Violation) (violation.Outcome, error) {
	first, err := d.store.MarkNotified(ctx, v.ID)
	if err != nil {
		return violation.OutcomeNotifyFailed, err
	}
	if first {
		if _, err := d.store.RecordAttempt(ctx, v.ID, violation.AttemptSent, ""); err != nil {
			return violation.OutcomeNotifyFailed, err
		}
		d.log.Info().
			Str("violation_id", v.ID.String()).
			Str("plate", v.PlateNumber).
			Msg("fine notice sent")
	}
	return violation.OutcomeNotified, nil
}

func (d *Dispatcher) permanentFail(ctx context.Context, v *violation.Violation, cause error) (violation.Outcome, error) {
	if _, err := d.store.RecordAttempt(ctx, v.ID, violation.AttemptPermanentFail, cause.Error()); err != nil {
		return violation.OutcomeNotifyFailed, err
	}
	if err := d.store.MarkNotifyFailed(ctx, v.ID); err != nil {
		return violation.OutcomeNotifyFailed, err
	}
	d.log.Error().
		Str("violation_id", v.ID.String()).
		Err(cause).
		Msg("permanent notification failure, operator attention required")
	return violation.OutcomeNotifyFailed, nil
}

// BuildNotice renders the fine-notice subject and body for a violation.
func BuildNotice(v *violation.Violation, owner *violation.Owner) (subject, body string) {
	subject = fmt.Sprintf("Traffic Fine Notice - Plate %s", v.PlateNumber)
	body = fmt.Sprintf(
		"Dear %s,\n\n"+
			"Detected Plate: %s\n"+
			"Violation: %s\n"+
			"Fine: INR %d\n"+
			"Detected At: %s\n"+
			"Reference: %s\n",
		owner.Name,
		v.PlateNumber,
		v.ViolationType,
		v.FineAmount,
		v.DetectedAt.Format(time.RFC3339),
		v.ID,
	)
	return subject, body
}
