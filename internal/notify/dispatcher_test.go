package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

type fakeMailer struct {
	errs  []error
	calls int
}

func (m *fakeMailer) Send(_ context.Context, _, _, _ string) error {
	m.calls++
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

type fakeStore struct {
	status   violation.Status
	attempts []violation.NotificationAttempt
}

func (s *fakeStore) FindByID(_ context.Context, id uuid.UUID) (*violation.Violation, error) {
	return &violation.Violation{ID: id, Status: s.status}, nil
}

func (s *fakeStore) RecordAttempt(_ context.Context, id uuid.UUID, outcome violation.AttemptOutcome, detail string) (int, error) {
	s.attempts = append(s.attempts, violation.NotificationAttempt{
		ViolationID:   id,
		AttemptNumber: len(s.attempts) + 1,
		Outcome:       outcome,
		AttemptedAt:   time.Now(),
		Detail:        detail,
	})
	return len(s.attempts), nil
}

func (s *fakeStore) MarkNotified(_ context.Context, _ uuid.UUID) (bool, error) {
	if s.status == violation.StatusNotified {
		return false, nil
	}
	s.status = violation.StatusNotified
	return true, nil
}

func (s *fakeStore) MarkNotifyFailed(_ context.Context, _ uuid.UUID) error {
	if s.status == violation.StatusPending {
		s.status = violation.StatusFailedNotify
	}
	return nil
}

func testViolation() *violation.Violation {
	return &violation.Violation{
		ID:            uuid.New(),
		PlateNumber:   "22BH6517A",
		ViolationType: "NO_HELMET",
		FineAmount:    500,
		DetectedAt:    time.Now(),
		Status:        violation.StatusPending,
	}
}

func testOwner() *violation.Owner {
	return &violation.Owner{OwnerID: 1, Name: "Demo Owner", Email: "demo.owner@example.com"}
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 5, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}
}

func TestDispatch_Success(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	outcome, err := d.Dispatch(context.Background(), testViolation(), testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotified, outcome)
	assert.Equal(t, violation.StatusNotified, store.status)
	require.Len(t, store.attempts, 1)
	assert.Equal(t, violation.AttemptSent, store.attempts[0].Outcome)
}

func TestDispatch_TransientThenSuccess(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{errs: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	outcome, err := d.Dispatch(context.Background(), testViolation(), testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotified, outcome)
	assert.Equal(t, violation.StatusNotified, store.status)

	require.Len(t, store.attempts, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, violation.AttemptTransientFail, store.attempts[i].Outcome)
	}
	assert.Equal(t, violation.AttemptSent, store.attempts[3].Outcome)
}

func TestDispatch_RetriesExhausted(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{errs: []error{
		errors.New("timeout"), errors.New("timeout"), errors.New("timeout"),
		errors.New("timeout"), errors.New("timeout"),
	}}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	outcome, err := d.Dispatch(context.Background(), testViolation(), testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotifyFailed, outcome)
	assert.Equal(t, violation.StatusFailedNotify, store.status)
	assert.Len(t, store.attempts, 5)
	assert.Equal(t, 5, mailer.calls)
}

func TestDispatch_PermanentFailureNoRetry(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{errs: []error{Permanent(errors.New("mailbox does not exist"))}}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	outcome, err := d.Dispatch(context.Background(), testViolation(), testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotifyFailed, outcome)
	assert.Equal(t, violation.StatusFailedNotify, store.status)
	assert.Equal(t, 1, mailer.calls)
	require.Len(t, store.attempts, 1)
	assert.Equal(t, violation.AttemptPermanentFail, store.attempts[0].Outcome)
}

func TestDispatch_MalformedRecipient(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	owner := testOwner()
	owner.Email = "not-an-address"
	outcome, err := d.Dispatch(context.Background(), testViolation(), owner)
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotifyFailed, outcome)
	assert.Zero(t, mailer.calls)
	require.Len(t, store.attempts, 1)
	assert.Equal(t, violation.AttemptPermanentFail, store.attempts[0].Outcome)
}

func TestDispatch_Idempotent(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	v := testViolation()
	outcome, err := d.Dispatch(context.Background(), v, testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotified, outcome)

	// Second invocation with a stale PENDING snapshot: the fresh status read
	// before the attempt skips the send entirely.
	outcome, err = d.Dispatch(context.Background(), v, testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotified, outcome)
	assert.Equal(t, 1, mailer.calls)

	sent := 0
	for _, a := range store.attempts {
		if a.Outcome == violation.AttemptSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

// resolvingMailer fails its first delivery and flips the stored status to
// NOTIFIED behind the dispatcher's back, the way an operator resolving the
// violation during the backoff would.
type resolvingMailer struct {
	store *fakeStore
	calls int
}

func (m *resolvingMailer) Send(_ context.Context, _, _, _ string) error {
	m.calls++
	m.store.status = violation.StatusNotified
	return errors.New("connection reset")
}

func TestDispatch_ResolvedDuringBackoffStopsRetries(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &resolvingMailer{store: store}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	outcome, err := d.Dispatch(context.Background(), testViolation(), testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotified, outcome)
	assert.Equal(t, 1, mailer.calls, "no further sends once the record is resolved")

	require.Len(t, store.attempts, 1)
	assert.Equal(t, violation.AttemptTransientFail, store.attempts[0].Outcome)
}

func TestDispatch_AlreadyNotifiedSkipsSend(t *testing.T) {
	store := &fakeStore{status: violation.StatusNotified}
	mailer := &fakeMailer{}
	d := NewDispatcher(mailer, store, fastPolicy(), zerolog.Nop())

	v := testViolation()
	v.Status = violation.StatusNotified
	outcome, err := d.Dispatch(context.Background(), v, testOwner())
	require.NoError(t, err)
	assert.Equal(t, violation.OutcomeNotified, outcome)
	assert.Zero(t, mailer.calls)
	assert.Empty(t, store.attempts)
}

func TestDispatch_Cancellation(t *testing.T) {
	store := &fakeStore{status: violation.StatusPending}
	mailer := &fakeMailer{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	d := NewDispatcher(mailer, store, Policy{MaxAttempts: 5, BackoffBase: time.Hour, BackoffMax: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	outcome, err := d.Dispatch(ctx, testViolation(), testOwner())
	assert.Error(t, err)
	assert.Equal(t, violation.OutcomeNotifyFailed, outcome)
	assert.Equal(t, 1, mailer.calls, "cancellation is checked before each attempt, not mid-send")
}

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, BackoffBase: 100 * time.Millisecond, BackoffMax: 500 * time.Millisecond}

	assert.Equal(t, time.Duration(0), p.backoff(1))
	assert.Equal(t, 100*time.Millisecond, p.backoff(2))
	assert.Equal(t, 200*time.Millisecond, p.backoff(3))
	assert.Equal(t, 400*time.Millisecond, p.backoff(4))
	assert.Equal(t, 500*time.Millisecond, p.backoff(5))
	assert.Equal(t, 500*time.Millisecond, p.backoff(40))
}
