package budget

import (
	"fmt"
	"sync"
)

// Ledger is the running total of estimated spend for one job run. Charges are
// recorded when a tool call is dispatched, before its outcome is known.
type Ledger struct {
	budget float64
	ratio  float64
	spent  float64
	mu     sync.Mutex
}

// NewLedger resumes a ledger at spent for the given budget.
func NewLedger(budget, spent float64) *Ledger {
	return &Ledger{budget: budget, ratio: DefaultWrapUpRatio, spent: spent}
}

// WithRatio overrides the wrap-up ratio; values outside (0,1] are ignored.
func (l *Ledger) WithRatio(ratio float64) *Ledger {
	if ratio > 0 && ratio <= 1 {
		l.mu.Lock()
		l.ratio = ratio
		l.mu.Unlock()
	}
	return l
}

// Charge adds cost to the running total and returns ErrWrapUp when the total
// is at or over the wrap-up threshold.
func (l *Ledger) Charge(cost float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cost > 0 {
		l.spent += cost
	}
	if l.nearLimitLocked() {
		return ErrWrapUp{Spent: l.spent, Budget: l.budget}
	}
	return nil
}

// NearLimit reports whether spend has reached the wrap-up threshold.
func (l *Ledger) NearLimit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nearLimitLocked()
}

func (l *Ledger) nearLimitLocked() bool {
	return l.spent >= l.budget*l.ratio
}

// Total returns the accumulated spend.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Budget returns the cap the ledger was created with.
func (l *Ledger) Budget() float64 {
	return l.budget
}

// WrapUpMessage is the instruction appended to the conversation once the
// wrap-up threshold is crossed.
func (l *Ledger) WrapUpMessage() string {
	return fmt.Sprintf("Budget limit approaching ($%.3f of $%.2f spent). Wrap up now and produce your final artifact with what you have.", l.Total(), l.budget)
}
