package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	dbPath     string
	logLevel   string
	jsonOut    bool

	rootCmd = &cobra.Command{
		Use:           "nonwovensim",
		Short:         "Simulate a nonwoven production line as a step-driven environment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Drive the line with a built-in policy and record the session",
		RunE:  runSession, // Defined in cmd_run.go
	}

	replayCmd = &cobra.Command{
		Use:   "replay [fixture.json]",
		Short: "Replay a fixture or a stored run and compare every step with its record",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplay, // Defined in cmd_replay.go
	}

	exportCmd = &cobra.Command{
		Use:   "export-fixture",
		Short: "Export a recorded run as a replay fixture",
		RunE:  runExport, // Defined in cmd_replay.go
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect",
		Short: "List recorded runs, or the steps of one run",
		RunE:  runInspect, // Defined in cmd_inspect.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the surrogate models of a directory over gRPC",
		RunE:  runServe, // Defined in cmd_serve.go
	}
)

// Flags of individual commands.
var (
	steps       int
	policyName  string
	seed        uint64
	runName     string
	metricsAddr string
	fixtureOut  string
	fixtureDir  string
	replayRun   string
	exportRun   string
	exportOut   string
	inspectRun  string
	inspectLast int
	serveAddr   string
	modelsDir   string
	serveWatch  bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", envOr("NONWOVEN_CONFIG", "configs/baseline.yaml"), "configuration file")
	pf.StringVar(&dbPath, "db", "", "SQLite run database (overrides tracking_setup.sqlite_path)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides tracking_setup.log_level)")
	pf.BoolVar(&jsonOut, "json", false, "print JSON instead of tables")

	runCmd.Flags().IntVarP(&steps, "steps", "n", 100, "number of steps after reset")
	runCmd.Flags().StringVarP(&policyName, "policy", "p", "hold", "policy to drive the line with")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "override environment_setup.seed")
	runCmd.Flags().StringVar(&runName, "name", "", "run name (defaults to environment_setup.run_name)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringVar(&fixtureOut, "fixture-out", "", "write the session as a replay fixture")

	replayCmd.Flags().StringVar(&replayRun, "run", "", "replay a stored run from --db instead of a fixture file")
	replayCmd.Flags().StringVar(&fixtureDir, "dir", "", "resolve relative model paths against this directory (defaults to the fixture's)")

	exportCmd.Flags().StringVar(&exportRun, "run", "", "run id (defaults to the latest run)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "fixture.json", "output path")

	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "show the steps of this run")
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "number of runs to list")

	serveCmd.Flags().StringVar(&serveAddr, "addr", envOr("NONWOVEN_SURROGATE_ADDR", ":50051"), "listen address")
	serveCmd.Flags().StringVar(&modelsDir, "models", "", "model directory (defaults to output_setup.path_to_models)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "reload the model directory when its files change")

	rootCmd.AddCommand(runCmd, replayCmd, exportCmd, inspectCmd, serveCmd)
}
