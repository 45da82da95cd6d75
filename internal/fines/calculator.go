package fines

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Khan-Nahida123/anpr-system/internal/config"
)

var ErrUnknownViolationType = errors.New("unknown violation type")

type Version struct {
	Number        int
	EffectiveFrom time.Time
	Amounts       map[string]int64
}

// Calculator maps violation types to fine amounts through a versioned
// schedule. Versions are immutable once loaded, so Compute is deterministic
// for a given (type, timestamp) pair.
type Calculator struct {
	versions []Version
}

func NewCalculator(cfg []config.ScheduleVersionConfig) (*Calculator, error) {
	if len(cfg) == 0 {
		return nil, errors.New("fine schedule is empty")
	}

	versions := make([]Version, 0, len(cfg))
	for _, vc := range cfg {
		if len(vc.Amounts) == 0 {
			return nil, fmt.Errorf("schedule version %d has no amounts", vc.Version)
		}
		effectiveFrom, err := time.Parse(time.RFC3339, vc.EffectiveFrom)
		if err != nil {
			return nil, fmt.Errorf("schedule version %d: invalid effective_from: %w", vc.Version, err)
		}
		for vt, amount := range vc.Amounts {
			if amount < 0 {
				return nil, fmt.Errorf("schedule version %d: negative amount for %s", vc.Version, vt)
			}
		}
		versions = append(versions, Version{
			Number:        vc.Version,
			EffectiveFrom: effectiveFrom,
			Amounts:       vc.Amounts,
		})
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].EffectiveFrom.Before(versions[j].EffectiveFrom)
	})

	return &Calculator{versions: versions}, nil
}

// Compute returns the fine for violationType under the schedule version
// effective at the given time. Timestamps before the first version fall
// back to the earliest version.
func (c *Calculator) Compute(violationType string, at time.Time) (int64, error) {
	v := c.versions[0]
	for _, candidate := range c.versions[1:] {
		if candidate.EffectiveFrom.After(at) {
			break
		}
		v = candidate
	}

	amount, ok := v.Amounts[violationType]
	if !ok {
		return 0, fmt.Errorf("%w: %s in schedule version %d", ErrUnknownViolationType, violationType, v.Number)
	}
	return amount, nil
}

// Covers reports whether violationType is priced in every schedule version,
// so Compute cannot fail for it regardless of timestamp.
func (c *Calculator) Covers(violationType string) bool {
	for _, v := range c.versions {
		if _, ok := v.Amounts[violationType]; !ok {
			return false
		}
	}
	return true
}
