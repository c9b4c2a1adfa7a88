package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/nonwoven-sim/internal/calc"
	"github.com/danielpatrickdp/nonwoven-sim/internal/surrogate"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 250 * time.Millisecond

// #region serve
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Tracking).With("component", "serve")

	dir := modelsDir
	if dir == "" {
		dir = cfg.Output.PathToModels
	}
	calcs := calc.NewRegistry(cfg.Action.PathToDependentVariableCalculations)
	loader := surrogate.NewLoader(dir, calcs)
	models, err := loader.LoadAll()
	if err != nil {
		loader.Close()
		return err
	}
	if len(models) == 0 {
		loader.Close()
		return fmt.Errorf("no models in %s", dir)
	}

	lis, err := net.Listen("tcp", serveAddr)
	if err != nil {
		loader.Close()
		return fmt.Errorf("listen %s: %w", serveAddr, err)
	}
	g := grpc.NewServer()
	srv := surrogate.NewServer(models)
	srv.Register(g)

	var mu sync.Mutex
	current := loader
	defer func() {
		mu.Lock()
		current.Close()
		mu.Unlock()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if serveWatch {
		reload := func() {
			mu.Lock()
			defer mu.Unlock()
			next := surrogate.NewLoader(dir, calcs)
			fresh, err := next.LoadAll()
			if err == nil && len(fresh) == 0 {
				err = fmt.Errorf("no models in %s", dir)
			}
			if err != nil {
				next.Close()
				logger.Error("reload models, keeping previous set", "err", err)
				return
			}
			srv.SetModels(fresh)
			current.Close()
			current = next
			logger.Info("models reloaded", "models", modelIDs(fresh))
		}
		if err := watchModels(ctx, dir, reload, logger); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		g.GracefulStop()
	}()

	logger.Info("serving surrogates", "addr", lis.Addr().String(), "models", modelIDs(models), "watch", serveWatch)
	return g.Serve(lis)
}

func modelIDs(models map[string]surrogate.Model) []string {
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// #endregion serve

// #region watch
// watchModels calls reload after model or data files in dir change. Events
// arriving within reloadDelay of each other trigger a single reload. The
// watcher stops when ctx is done.
func watchModels(ctx context.Context, dir string, reload func(), logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !modelFileEvent(ev) {
					continue
				}
				logger.Debug("model file changed", "path", ev.Name, "op", ev.Op.String())
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDelay, reload)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("watch error", "err", err)
			}
		}
	}()
	return nil
}

func modelFileEvent(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	switch filepath.Ext(ev.Name) {
	case ".yaml", ".yml", ".csv":
		return true
	}
	return false
}

// #endregion watch
