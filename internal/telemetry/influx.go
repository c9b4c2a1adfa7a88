package telemetry

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// pointWriter is the part of the blocking write API the tracker uses.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxTracker writes one point per step to InfluxDB.
type InfluxTracker struct {
	writer      pointWriter
	client      influxdb2.Client
	measurement string
}

// NewInfluxTracker writes to org/bucket through client. The tracker owns
// client and closes it.
func NewInfluxTracker(client influxdb2.Client, org, bucket, measurement string) *InfluxTracker {
	if measurement == "" {
		measurement = "nonwoven_step"
	}
	return &InfluxTracker{
		writer:      client.WriteAPIBlocking(org, bucket),
		client:      client,
		measurement: measurement,
	}
}

// DialInflux connects to an InfluxDB v2 server.
func DialInflux(url, token, org, bucket, measurement string) *InfluxTracker {
	return NewInfluxTracker(influxdb2.NewClient(url, token), org, bucket, measurement)
}

// Point converts rec into a line-protocol point. Fields are "Group/Name"
// plus the step index.
func (t *InfluxTracker) Point(rec Record) *write.Point {
	fields := map[string]any{"step": rec.Step}
	for k, v := range rec.Flatten() {
		fields[k] = v
	}
	tags := map[string]string{}
	if rec.RunID != "" {
		tags["run"] = rec.RunID
	}
	if rec.Decision != "" {
		tags["decision"] = rec.Decision
	}
	return influxdb2.NewPoint(t.measurement, tags, fields, rec.Time)
}

// Log writes rec synchronously.
func (t *InfluxTracker) Log(ctx context.Context, rec Record) error {
	if err := t.writer.WritePoint(ctx, t.Point(rec)); err != nil {
		return fmt.Errorf("influx write step %d: %w", rec.Step, err)
	}
	return nil
}

// Close releases the client.
func (t *InfluxTracker) Close() error {
	if t.client != nil {
		t.client.Close()
	}
	return nil
}
