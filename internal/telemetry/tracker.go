package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// #region tracker
// Tracker is an experiment-tracking sink.
type Tracker interface {
	Log(ctx context.Context, rec Record) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Log(context.Context, Record) error { return nil }
func (Nop) Close() error                      { return nil }

// #endregion tracker

// #region multi
// Multi fans each record out to several trackers.
type Multi []Tracker

// Log writes rec to every tracker and joins their errors.
func (m Multi) Log(ctx context.Context, rec Record) error {
	var errs []error
	for _, t := range m {
		if err := t.Log(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every tracker.
func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// #endregion multi

// #region slog
// SlogTracker writes one structured log line per step.
type SlogTracker struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogTracker logs records at level through logger.
func NewSlogTracker(logger *slog.Logger, level slog.Level) *SlogTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogTracker{logger: logger.With("component", "tracker"), level: level}
}

// Log emits the performance metrics as attributes and each other group as a
// nested attribute group.
func (s *SlogTracker) Log(ctx context.Context, rec Record) error {
	groups := rec.Groups()
	attrs := []slog.Attr{
		slog.String("run", rec.RunID),
		slog.Int("step", rec.Step),
	}
	if rec.Decision != "" {
		attrs = append(attrs, slog.String("decision", rec.Decision))
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	for _, g := range names {
		leaves := groups[g]
		keys := make([]string, 0, len(leaves))
		for k := range leaves {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		inner := make([]any, 0, len(keys))
		for _, k := range keys {
			inner = append(inner, slog.Float64(k, leaves[k]))
		}
		attrs = append(attrs, slog.Group(g, inner...))
	}
	s.logger.LogAttrs(ctx, s.level, "step", attrs...)
	return nil
}

// Close is a no-op.
func (s *SlogTracker) Close() error { return nil }

// #endregion slog

// #region memory
// MemoryTracker keeps every record in memory.
type MemoryTracker struct {
	mu      sync.Mutex
	records []Record
}

// Log appends rec.
func (m *MemoryTracker) Log(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the logged records.
func (m *MemoryTracker) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Last returns the most recent record.
func (m *MemoryTracker) Last() (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) == 0 {
		return Record{}, false
	}
	return m.records[len(m.records)-1], true
}

// Close is a no-op; records stay readable.
func (m *MemoryTracker) Close() error { return nil }

// #endregion memory
