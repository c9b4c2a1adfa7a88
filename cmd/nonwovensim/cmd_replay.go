package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/environment"
	"github.com/danielpatrickdp/nonwoven-sim/internal/replay"
)

// #region replay
func runReplay(_ *cobra.Command, args []string) error {
	f, name, dir, err := replayFixture(args)
	if err != nil {
		return err
	}
	logger := newLogger(config.TrackingSetup{LogLevel: logLevel})

	results, env, err := replay.RunFixture(context.Background(), f, dir, environment.WithLogger(logger))
	if env != nil {
		defer env.Close()
	}
	if err != nil {
		return err
	}
	mismatches := replay.Compare(f.ExpectedResults, results, f.Tolerance)
	summary := replay.Summarize(results, env.Setpoints())

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"summary": summary, "mismatches": mismatches}); err != nil {
			return err
		}
	} else {
		fmt.Printf("%s: %d steps, %d commits, %d rejects, %d penalised\n",
			name, summary.TotalSteps, summary.Commits, summary.Rejects, summary.Penalized)
		for _, m := range mismatches {
			fmt.Println("  " + m.String())
		}
	}
	if len(f.ExpectedResults) > 0 && len(mismatches) > 0 {
		return fmt.Errorf("%d mismatches", len(mismatches))
	}
	return nil
}

// replayFixture loads the fixture named by args, or rebuilds one from the
// run given with --run.
func replayFixture(args []string) (*replay.Fixture, string, string, error) {
	if replayRun != "" {
		st, err := openStore()
		if err != nil {
			return nil, "", "", err
		}
		defer st.Close()
		run, err := st.GetRun(replayRun)
		if err != nil {
			return nil, "", "", err
		}
		rows, err := st.ListSteps(run.RunID)
		if err != nil {
			return nil, "", "", err
		}
		f, err := replay.FixtureFromRun(run, rows, "")
		return f, "run " + run.RunID, fixtureDir, err
	}
	if len(args) == 0 {
		return nil, "", "", fmt.Errorf("replay needs a fixture path or --run")
	}
	f, err := replay.LoadFixture(args[0])
	if err != nil {
		return nil, "", "", err
	}
	dir := fixtureDir
	if dir == "" {
		dir = filepath.Dir(args[0])
	}
	return f, args[0], dir, nil
}

// #endregion replay

// #region export
func runExport(_ *cobra.Command, _ []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.LatestRun()
	if exportRun != "" {
		run, err = st.GetRun(exportRun)
	}
	if err != nil {
		return err
	}
	rows, err := st.ListSteps(run.RunID)
	if err != nil {
		return err
	}
	f, err := replay.FixtureFromRun(run, rows, fmt.Sprintf("exported from run %s", run.RunID))
	if err != nil {
		return err
	}
	if err := f.Save(exportOut); err != nil {
		return err
	}
	fmt.Printf("wrote %s: run %s, %d actions\n", exportOut, run.RunID, len(f.Actions))
	return nil
}

// #endregion export
