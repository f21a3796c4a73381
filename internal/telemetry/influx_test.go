package telemetry

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/infrastructure/influxdb"
	"github.com/nerrad567/periphctl/internal/module"
)

type fakeWriter struct {
	commands []influxdb.CommandTags
	samples  [][]int64
	steps    []time.Duration
}

func (f *fakeWriter) WriteCommand(tags influxdb.CommandTags, _ time.Duration, _ time.Time) {
	f.commands = append(f.commands, tags)
}

func (f *fakeWriter) WriteSamples(_, _ string, values []int64, _ time.Time, step time.Duration) {
	f.samples = append(f.samples, values)
	f.steps = append(f.steps, step)
}

func TestInfluxObserver(t *testing.T) {
	tests := []struct {
		name        string
		outcome     dispatch.Outcome
		wantStatus  string
		wantSamples [][]int64
	}{
		{"ints result", dispatch.Success(module.Ints([]int64{1, 0, 1})), "ok", [][]int64{{1, 0, 1}}},
		{"empty result", dispatch.Success(module.Empty()), "ok", nil},
		{"int result", dispatch.Success(module.Int(42)), "ok", nil},
		{"bytes result", dispatch.Success(module.Bytes([]byte{1, 2})), "ok", nil},
		{"failure", dispatch.Failure(dispatch.MsgModuleNotFound), "error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			obs := NewInflux(w, time.Millisecond)
			obs.CommandExecuted(context.Background(), dispatch.Record{
				Source:  "http",
				Module:  "gpio",
				Command: "digitalRead",
				Outcome: tt.outcome,
			})

			want := influxdb.CommandTags{Module: "gpio", Command: "digitalRead", Source: "http", Status: tt.wantStatus}
			if len(w.commands) != 1 || w.commands[0] != want {
				t.Errorf("commands = %+v, want [%+v]", w.commands, want)
			}
			if !reflect.DeepEqual(w.samples, tt.wantSamples) {
				t.Errorf("samples = %v, want %v", w.samples, tt.wantSamples)
			}
			for _, s := range w.steps {
				if s != time.Millisecond {
					t.Errorf("step = %v, want 1ms", s)
				}
			}
		})
	}
}
