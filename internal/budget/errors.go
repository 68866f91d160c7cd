package budget

import "fmt"

// ErrWrapUp is returned by Ledger.Charge once spend reaches the wrap-up
// threshold. It is a signal, not a failure: the charge is still recorded.
type ErrWrapUp struct {
	Spent  float64
	Budget float64
}

func (e ErrWrapUp) Error() string {
	return fmt.Sprintf("budget wrap-up threshold reached: spent=$%.3f budget=$%.2f", e.Spent, e.Budget)
}
