package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCommand = "command"
	MeasurementSamples = "samples"
)

// CommandTags identifies one executed command.
type CommandTags struct {
	Module  string
	Command string
	Source  string
	Status  string // ok or error
}

// CommandPoint builds a command point: tags device, module, command,
// source and status, field duration_ms.
func CommandPoint(deviceID string, tags CommandTags, duration time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"device":  deviceID,
			"module":  tags.Module,
			"command": tags.Command,
			"source":  tags.Source,
			"status":  tags.Status,
		},
		map[string]interface{}{
			"duration_ms": float64(duration) / float64(time.Millisecond),
		},
		at,
	)
}

// SamplePoints builds one samples point per value. Sample i is stamped
// at start + i*step so consecutive samples never overwrite each other;
// step is raised to one microsecond when smaller.
func SamplePoints(deviceID, module, command string, values []int64, start time.Time, step time.Duration) []*write.Point {
	if step < time.Microsecond {
		step = time.Microsecond
	}
	points := make([]*write.Point, 0, len(values))
	for i, v := range values {
		points = append(points, write.NewPoint(
			MeasurementSamples,
			map[string]string{
				"device":  deviceID,
				"module":  module,
				"command": command,
			},
			map[string]interface{}{"value": v},
			start.Add(time.Duration(i)*step),
		))
	}
	return points
}

// WriteCommand queues a command point.
func (c *Client) WriteCommand(tags CommandTags, duration time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(CommandPoint(c.deviceID, tags, duration, at))
}

// WriteSamples queues one point per sample of an integer-sequence result.
func (c *Client) WriteSamples(module, command string, values []int64, start time.Time, step time.Duration) {
	if !c.IsConnected() {
		return
	}
	for _, p := range SamplePoints(c.deviceID, module, command, values, start, step) {
		c.writeAPI.WritePoint(p)
	}
}
