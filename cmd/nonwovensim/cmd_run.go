package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/nonwoven-sim/internal/config"
	"github.com/danielpatrickdp/nonwoven-sim/internal/driver"
	"github.com/danielpatrickdp/nonwoven-sim/internal/environment"
	"github.com/danielpatrickdp/nonwoven-sim/internal/store"
	"github.com/danielpatrickdp/nonwoven-sim/internal/telemetry"
)

// #region run
func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Environment.Seed = seed
	}
	logger := newLogger(cfg.Tracking)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sk, err := openSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer sk.close(logger)

	policy, err := driver.New(policyName, cfg.Environment.Seed)
	if err != nil {
		return err
	}
	env, err := environment.New(cfg,
		environment.WithLogger(logger),
		environment.WithTracker(sk.tracker),
		environment.WithRunID(sk.runID),
	)
	if err != nil {
		return err
	}
	defer env.Close()

	start := time.Now()
	ep, err := driver.Run(ctx, env, policy, steps, logger)
	summary := ep.Summary(env.Setpoints())
	logger.Info("session finished",
		"run", sk.runID,
		"steps", len(ep.Actions),
		"commits", summary.Commits,
		"rejects", summary.Rejects,
		"penalized", summary.Penalized,
		"total_reward", summary.TotalReward,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if fixtureOut != "" {
		data, merr := cfg.Marshal()
		if merr != nil {
			return merr
		}
		desc := fmt.Sprintf("%s policy, run %s", policy.Name(), sk.runID)
		if err := ep.Fixture(desc, env.Seed(), string(data)).Save(fixtureOut); err != nil {
			return err
		}
		logger.Info("fixture written", "path", fixtureOut)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"run_id": sk.runID, "summary": summary})
	}
	fmt.Printf("run %s: %d steps, %d commits, %d rejects, %d penalised, total reward %.3f (mean %.3f)\n",
		sk.runID, len(ep.Actions), summary.Commits, summary.Rejects, summary.Penalized,
		summary.TotalReward, summary.MeanReward)
	return nil
}

// #endregion run

// #region sinks
type sinks struct {
	runID   string
	tracker telemetry.Tracker
	store   *store.Store
	metrics *http.Server
}

// openSinks builds the trackers named by tracking_setup and the flags. The
// structured log tracker is always on at debug level.
func openSinks(cfg *config.Config, logger *slog.Logger) (*sinks, error) {
	s := &sinks{runID: uuid.NewString()}
	multi := telemetry.Multi{telemetry.NewSlogTracker(logger, slog.LevelDebug)}

	name := runName
	if name == "" {
		name = cfg.Environment.RunName
	}
	if path := cfg.Tracking.SQLitePath; path != "" {
		st, err := store.NewStore(path)
		if err != nil {
			return nil, err
		}
		data, err := cfg.Marshal()
		if err != nil {
			st.Close()
			return nil, err
		}
		run, err := st.CreateRun(name, cfg.Environment.Seed, string(data))
		if err != nil {
			st.Close()
			return nil, err
		}
		s.store, s.runID = st, run.RunID
		multi = append(multi, telemetry.NewSQLiteTracker(st, run.RunID))
	}

	if cfg.Tracking.Prometheus || metricsAddr != "" {
		reg := prometheus.NewRegistry()
		pt, err := telemetry.NewPrometheusTracker(reg)
		if err != nil {
			s.close(logger)
			return nil, err
		}
		multi = append(multi, pt)
		if metricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			s.metrics = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server", "err", err)
				}
			}()
			logger.Info("serving metrics", "addr", metricsAddr)
		}
	}

	if in := cfg.Tracking.Influx; in != nil {
		multi = append(multi, telemetry.DialInflux(in.URL, in.Token, in.Org, in.Bucket, in.Measurement))
	}

	s.tracker = multi
	return s, nil
}

func (s *sinks) close(logger *slog.Logger) {
	if s.tracker != nil {
		if err := s.tracker.Close(); err != nil {
			logger.Error("close trackers", "err", err)
		}
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metrics.Shutdown(ctx); err != nil {
			logger.Error("metrics shutdown", "err", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Error("close store", "err", err)
		}
	}
}

// #endregion sinks
