package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/module"
)

type staticStats dispatch.Stats

func (s staticStats) Stats() dispatch.Stats { return dispatch.Stats(s) }

func TestCommandExecuted(t *testing.T) {
	m := New(nil)
	ctx := context.Background()

	m.CommandExecuted(ctx, dispatch.Record{Module: "gpio", Command: "digitalRead", Outcome: dispatch.Success(module.Empty()), Duration: time.Millisecond})
	m.CommandExecuted(ctx, dispatch.Record{Module: "gpio", Command: "digitalRead", Outcome: dispatch.Success(module.Empty()), Duration: time.Millisecond})
	m.CommandExecuted(ctx, dispatch.Record{Module: "gpio", Command: "digitalRead", Outcome: dispatch.Failure(dispatch.MsgTimeout)})

	tests := []struct {
		status string
		want   float64
	}{
		{"ok", 2},
		{"error", 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.commands.WithLabelValues("gpio", "digitalRead", tt.status))
		if got != tt.want {
			t.Errorf("commands_total{status=%q} = %v, want %v", tt.status, got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.duration, "periphctl_command_duration_seconds"); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestHandlerExposesBatchCounters(t *testing.T) {
	m := New(staticStats{Batches: 7, Rejected: 2})
	m.CommandExecuted(context.Background(), dispatch.Record{Module: "spi", Command: "transfer", Outcome: dispatch.Success(module.Empty())})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}

	for _, want := range []string{
		"periphctl_batches_total 7",
		"periphctl_batches_rejected_total 2",
		`periphctl_commands_total{command="transfer",module="spi",status="ok"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
