package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/nonwoven-sim/internal/store"
	"github.com/danielpatrickdp/nonwoven-sim/internal/telemetry"
	"github.com/danielpatrickdp/nonwoven-sim/internal/vars"
)

// #region inspect
func runInspect(_ *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if inspectRun != "" {
		return runDetailMode(os.Stdout, st, inspectRun, jsonOut)
	}
	return runListMode(os.Stdout, st, inspectLast, jsonOut)
}

// #endregion inspect

// #region list-mode

type listRow struct {
	RunID     string `json:"run_id"`
	Name      string `json:"name,omitempty"`
	Seed      uint64 `json:"seed"`
	Steps     int    `json:"steps"`
	CreatedAt string `json:"created_at"`
	Closed    bool   `json:"closed"`
}

func runListMode(w io.Writer, st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		rows[i] = listRow{
			RunID:     r.RunID,
			Name:      r.Name,
			Seed:      r.Seed,
			Steps:     r.Steps,
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
			Closed:    !r.ClosedAt.IsZero(),
		}
	}
	if jsonOut {
		return printJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "no runs found")
		return nil
	}

	fmt.Fprintf(w, "%-12s  %-16s  %8s  %6s  %-6s  %s\n", "Run", "Name", "Seed", "Steps", "Closed", "Created")
	fmt.Fprintf(w, "%-12s+-%-16s+-%8s+-%6s+-%-6s+-%s\n",
		"------------", "----------------", "--------", "------", "------", "--------------------")
	for _, r := range rows {
		fmt.Fprintf(w, "%-12s  %-16s  %8d  %6d  %-6t  %s\n",
			shortID(r.RunID), r.Name, r.Seed, r.Steps, r.Closed, r.CreatedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type stepRow struct {
	Step       int         `json:"step"`
	Decision   string      `json:"decision"`
	Reward     float64     `json:"reward"`
	Met        bool        `json:"constraints_met"`
	Violations []string    `json:"violations,omitempty"`
	Setpoints  vars.Values `json:"setpoints,omitempty"`
	Outputs    vars.Values `json:"outputs,omitempty"`
}

func runDetailMode(w io.Writer, st *store.Store, runID string, jsonOut bool) error {
	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	rows, err := st.ListSteps(run.RunID)
	if err != nil {
		return err
	}

	out := make([]stepRow, len(rows))
	for i, row := range rows {
		sr := stepRow{Step: row.Step, Decision: row.Decision, Reward: row.Reward, Met: row.ConstraintsMet()}
		if sr.Decision == "" {
			sr.Decision = "reset"
		}
		if rec, err := telemetry.DecodeRecord(row); err == nil {
			sr.Violations = vars.Violations(rec.SetpointFlags, rec.DependentFlags, rec.OutputFlags)
			sr.Setpoints = rec.Setpoints
			sr.Outputs = rec.Outputs
		}
		out[i] = sr
	}
	if jsonOut {
		return printJSON(w, map[string]any{"run_id": run.RunID, "name": run.Name, "seed": run.Seed, "steps": out})
	}

	fmt.Fprintf(w, "Run %s (%s) seed=%d steps=%d\n\n", run.RunID, run.Name, run.Seed, len(out))
	fmt.Fprintf(w, "%5s  %-8s  %12s  %-4s  %s\n", "Step", "Decision", "Reward", "Met", "Setpoints / violations")
	fmt.Fprintf(w, "%5s+-%-8s+-%12s+-%-4s+-%s\n", "-----", "--------", "------------", "----", "----------------------")
	for _, r := range out {
		detail := formatValues(r.Setpoints)
		if len(r.Violations) > 0 {
			detail += "  ! " + strings.Join(r.Violations, ",")
		}
		fmt.Fprintf(w, "%5d  %-8s  %12.3f  %-4t  %s\n", r.Step, r.Decision, r.Reward, r.Met, detail)
	}
	return nil
}

// #endregion detail-mode

// #region helpers

func formatValues(v vars.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4g", k, v[k])
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
