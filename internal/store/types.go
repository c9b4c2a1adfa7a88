package store

import "time"

// #region run
// Run is one simulation session: a configuration, a seed and its steps.
type Run struct {
	RunID      string
	Name       string
	Seed       uint64
	ConfigYAML string
	CreatedAt  time.Time
	ClosedAt   time.Time // zero while the run is open
	Steps      int
}

// #endregion run

// #region step-row
// StepRow is a single row in the steps table. Step 0 is the reset record.
type StepRow struct {
	RunID        string
	Step         int
	Reward       float64
	SetpointsMet bool
	DependentMet bool
	OutputsMet   bool
	Decision     string // "commit" | "reject" | "" for reset
	ActionsJSON  string
	RecordJSON   string
	CreatedAt    time.Time
}

// ConstraintsMet reports whether every constraint group held.
func (r StepRow) ConstraintsMet() bool {
	return r.SetpointsMet && r.DependentMet && r.OutputsMet
}

// #endregion step-row
