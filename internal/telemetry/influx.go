// Package telemetry forwards executed commands to InfluxDB.
package telemetry

import (
	"context"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/infrastructure/influxdb"
)

// PointWriter is the write side of *influxdb.Client.
type PointWriter interface {
	WriteCommand(tags influxdb.CommandTags, duration time.Duration, at time.Time)
	WriteSamples(module, command string, values []int64, start time.Time, step time.Duration)
}

// Influx is a dispatch.Observer that writes a command point for every
// executed command and the samples of successful integer-sequence results.
type Influx struct {
	w    PointWriter
	step time.Duration
}

// NewInflux creates the observer. step is the spacing between sample
// timestamps, normally the configured inter-sample delay.
func NewInflux(w PointWriter, step time.Duration) *Influx {
	return &Influx{w: w, step: step}
}

// CommandExecuted implements dispatch.Observer.
func (i *Influx) CommandExecuted(_ context.Context, rec dispatch.Record) {
	i.w.WriteCommand(influxdb.CommandTags{
		Module:  rec.Module,
		Command: rec.Command,
		Source:  rec.Source,
		Status:  rec.Status(),
	}, rec.Duration, rec.Started)

	if !rec.Outcome.OK() {
		return
	}
	if samples, ok := rec.Outcome.Result.Ints(); ok && len(samples) > 0 {
		i.w.WriteSamples(rec.Module, rec.Command, samples, rec.Started, i.step)
	}
}
