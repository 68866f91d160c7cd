package job

import (
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// Cadence is how often a persistent job re-runs.
type Cadence string

const (
	CadenceNone   Cadence = ""
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// ParseCadence accepts "", "daily" or "weekly".
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case CadenceNone, CadenceDaily, CadenceWeekly:
		return Cadence(s), nil
	}
	return CadenceNone, fmt.Errorf("unknown cadence %q", s)
}

// Cron returns the 5-field schedule used for the cadence.
func (c Cadence) Cron() string {
	switch c {
	case CadenceDaily:
		return "0 9 * * *"
	case CadenceWeekly:
		return "0 9 * * 1"
	}
	return ""
}

// Next returns the first scheduled time strictly after from. A cadence
// without a cron spec falls back to a fixed interval.
func (c Cadence) Next(from time.Time) time.Time {
	if spec := c.Cron(); spec != "" {
		if expr, err := cronexpr.Parse(spec); err == nil {
			if next := expr.Next(from); !next.IsZero() {
				return next
			}
		}
	}
	if c == CadenceWeekly {
		return from.Add(7 * 24 * time.Hour)
	}
	return from.Add(24 * time.Hour)
}

// Due reports whether a run scheduled after base should have fired by now.
func (c Cadence) Due(base, now time.Time) bool {
	if c == CadenceNone {
		return false
	}
	return !c.Next(base).After(now)
}
