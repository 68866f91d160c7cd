package budget

import "fmt"

const (
	// MinJobBudget and MaxJobBudget bound the USD cap accepted for a job.
	MinJobBudget = 0.25
	MaxJobBudget = 10.0

	// DefaultWrapUpRatio is the share of the budget at which a run is told to
	// finish with what it has.
	DefaultWrapUpRatio = 0.9
)

// ValidateJobBudget ensures a caller-supplied cap is within bounds.
func ValidateJobBudget(v float64) error {
	if v < MinJobBudget || v > MaxJobBudget {
		return fmt.Errorf("budget must be between $%.2f and $%.2f", MinJobBudget, MaxJobBudget)
	}
	return nil
}
