package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danielpatrickdp/nonwoven-sim/internal/store"
)

// SQLiteTracker persists each record as a row of a stored run.
type SQLiteTracker struct {
	store *store.Store
	runID string
}

// NewSQLiteTracker writes to the steps of runID.
func NewSQLiteTracker(s *store.Store, runID string) *SQLiteTracker {
	return &SQLiteTracker{store: s, runID: runID}
}

// RunID is the run being written.
func (t *SQLiteTracker) RunID() string { return t.runID }

// Log stores rec with its constraint summary and full JSON body.
func (t *SQLiteTracker) Log(_ context.Context, rec Record) error {
	rec.RunID = t.runID
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var actions string
	if len(rec.Actions) > 0 {
		data, err := json.Marshal(rec.Actions)
		if err != nil {
			return fmt.Errorf("marshal actions: %w", err)
		}
		actions = string(data)
	}
	return t.store.AppendStep(store.StepRow{
		RunID:        t.runID,
		Step:         rec.Step,
		Reward:       rec.Reward,
		SetpointsMet: rec.SetpointsMet(),
		DependentMet: rec.DependentMet(),
		OutputsMet:   rec.OutputsMet(),
		Decision:     rec.Decision,
		ActionsJSON:  actions,
		RecordJSON:   string(body),
		CreatedAt:    rec.Time,
	})
}

// Close marks the run closed. The store itself stays open.
func (t *SQLiteTracker) Close() error {
	return t.store.CloseRun(t.runID)
}

// DecodeRecord parses a stored record body.
func DecodeRecord(row store.StepRow) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(row.RecordJSON), &rec); err != nil {
		return Record{}, fmt.Errorf("decode step %d: %w", row.Step, err)
	}
	return rec, nil
}
