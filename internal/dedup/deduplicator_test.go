package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Khan-Nahida123/anpr-system/internal/domain/violation"
)

type fakeHistory struct {
	prior     *violation.Violation
	lastSince time.Time
}

func (f *fakeHistory) LastViolationSince(_ context.Context, _, _ string, since time.Time) (*violation.Violation, error) {
	f.lastSince = since
	if f.prior != nil && !f.prior.DetectedAt.Before(since) {
		return f.prior, nil
	}
	return nil, nil
}

func candidate(at time.Time) violation.Candidate {
	return violation.Candidate{
		RuleID:        "no-helmet",
		ViolationType: "NO_HELMET",
		PlateNumber:   "22BH6517A",
		DetectedAt:    at,
		Cooldown:      60 * time.Second,
	}
}

func TestAdmit_NoPrior(t *testing.T) {
	history := &fakeHistory{}
	d := NewDeduplicator(history, zerolog.Nop())

	now := time.Now()
	decision, err := d.Admit(context.Background(), candidate(now))
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
	assert.Nil(t, decision.SuppressedBy)
	assert.Equal(t, now.Add(-60*time.Second), history.lastSince)
}

func TestAdmit_SuppressedInsideWindow(t *testing.T) {
	now := time.Now()
	priorID := uuid.New()
	history := &fakeHistory{prior: &violation.Violation{
		ID:            priorID,
		PlateNumber:   "22BH6517A",
		ViolationType: "NO_HELMET",
		DetectedAt:    now.Add(-10 * time.Second),
	}}
	d := NewDeduplicator(history, zerolog.Nop())

	decision, err := d.Admit(context.Background(), candidate(now))
	require.NoError(t, err)
	assert.False(t, decision.Admitted)
	require.NotNil(t, decision.SuppressedBy)
	assert.Equal(t, priorID, *decision.SuppressedBy)
}

func TestAdmit_PriorOutsideWindow(t *testing.T) {
	now := time.Now()
	history := &fakeHistory{prior: &violation.Violation{
		ID:         uuid.New(),
		DetectedAt: now.Add(-5 * time.Minute),
	}}
	d := NewDeduplicator(history, zerolog.Nop())

	decision, err := d.Admit(context.Background(), candidate(now))
	require.NoError(t, err)
	assert.True(t, decision.Admitted)
}

func TestCooldownBucket(t *testing.T) {
	window := 60 * time.Second
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	b1 := CooldownBucket(base, window)
	b2 := CooldownBucket(base.Add(10*time.Second), window)
	b3 := CooldownBucket(base.Add(2*time.Minute), window)

	assert.Equal(t, b1, b2, "instants inside one window share a bucket")
	assert.Greater(t, b3, b1, "bucketing is monotonic in time")

	// Degenerate window still produces a usable key.
	assert.NotPanics(t, func() { CooldownBucket(base, 0) })
}
