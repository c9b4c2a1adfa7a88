package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/store"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region fixture-types

// Fixture is the top-level JSON structure of a replay fixture: a configuration,
// a seed, the action sequence and the expected outcome of every step.
type Fixture struct {
	Description     string         `json:"description"`
	Seed            uint64         `json:"seed"`
	ConfigYAML      string         `json:"config_yaml"`
	Actions         []vars.Values  `json:"actions"`
	ExpectedResults []ExpectedStep `json:"expected_results"`
	Source          *FixtureSource `json:"source,omitempty"`
	Tolerance       float64        `json:"tolerance,omitempty"`
}

// FixtureSource records where an exported fixture came from.
type FixtureSource struct {
	RunID string `json:"run_id"`
	Name  string `json:"name,omitempty"`
}

// ExpectedStep captures the expected outcome of one step. Step 0 is the reset.
type ExpectedStep struct {
	Step           int     `json:"step"`
	Decision       string  `json:"decision"`
	Reward         float64 `json:"reward"`
	ConstraintsMet bool    `json:"constraints_met"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if len(f.ExpectedResults) > 0 && len(f.ExpectedResults) != len(f.Actions)+1 {
		return nil, fmt.Errorf("fixture %s: %d actions need %d expected results, got %d",
			path, len(f.Actions), len(f.Actions)+1, len(f.ExpectedResults))
	}
	return &f, nil
}

// Save writes the fixture as indented JSON.
func (f *Fixture) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// Config parses the embedded configuration. Relative paths resolve against dir.
func (f *Fixture) Config(dir string) (*config.Config, error) {
	cfg, err := config.Parse([]byte(f.ConfigYAML), dir)
	if err != nil {
		return nil, fmt.Errorf("fixture config: %w", err)
	}
	return cfg, nil
}

// #endregion fixture-loader

// #region fixture-export

// FixtureFromRun rebuilds a fixture from a stored run. Rows must include the
// reset row at step 0 and be contiguous.
func FixtureFromRun(run store.Run, rows []store.StepRow, description string) (*Fixture, error) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Step < rows[j].Step })
	if len(rows) == 0 || rows[0].Step != 0 {
		return nil, fmt.Errorf("run %s: no reset row", run.RunID)
	}

	f := &Fixture{
		Description: description,
		Seed:        run.Seed,
		ConfigYAML:  run.ConfigYAML,
		Source:      &FixtureSource{RunID: run.RunID, Name: run.Name},
	}
	for i, row := range rows {
		if row.Step != i {
			return nil, fmt.Errorf("run %s: step %d missing", run.RunID, i)
		}
		decision := row.Decision
		if i == 0 {
			decision = DecisionReset
		} else {
			var a vars.Values
			if err := json.Unmarshal([]byte(row.ActionsJSON), &a); err != nil {
				return nil, fmt.Errorf("run %s step %d actions: %w", run.RunID, row.Step, err)
			}
			f.Actions = append(f.Actions, a)
		}
		f.ExpectedResults = append(f.ExpectedResults, ExpectedStep{
			Step:           row.Step,
			Decision:       decision,
			Reward:         row.Reward,
			ConstraintsMet: row.ConstraintsMet(),
		})
	}
	return f, nil
}

// #endregion fixture-export
