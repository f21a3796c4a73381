package history

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/infrastructure/database"
	"github.com/nerrad567/periphctl/internal/module"
	"github.com/nerrad567/periphctl/migrations"
)

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepository_CreateAndList(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	seed := []Entry{
		{Module: "gpio", Command: "digitalWrite", OK: true, Outcome: json.RawMessage(`{"data":null}`)},
		{Module: "i2c", Command: "readFromDevice", OK: true, Outcome: json.RawMessage(`{"data":"AQID"}`)},
		{Module: "gpio", Command: "digitalRead", OK: false, Outcome: json.RawMessage(`{"error":"Invalid parameter: numSamples"}`)},
	}
	for i := range seed {
		seed[i].RequestID = "req-1"
		seed[i].Source = "http"
		seed[i].Index = i
		seed[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if seed[i].ID == "" {
			t.Error("Create() should assign an ID")
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != DefaultLimit {
		t.Fatalf("List() = total %d, %d entries, limit %d", all.Total, len(all.Entries), all.Limit)
	}
	if all.Entries[0].Command != "digitalRead" || all.Entries[2].Command != "digitalWrite" {
		t.Errorf("order = %s, %s, %s; want newest first",
			all.Entries[0].Command, all.Entries[1].Command, all.Entries[2].Command)
	}
	if !all.Entries[0].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Errorf("CreatedAt = %s", all.Entries[0].CreatedAt)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by module", Filter{Module: "gpio"}, 2},
		{"by module and command", Filter{Module: "gpio", Command: "digitalWrite"}, 1},
		{"only errors", Filter{OnlyErr: true}, 1},
		{"by source", Filter{Source: "mqtt"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.want || len(res.Entries) != tt.want {
				t.Errorf("total = %d, entries = %d, want %d", res.Total, len(res.Entries), tt.want)
			}
		})
	}
}

func TestRepository_ListClampsPaging(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	for i := 0; i < 5; i++ {
		if err := repo.Create(ctx, &Entry{Module: "m", Command: fmt.Sprint(i), Outcome: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != MaxLimit || res.Offset != 0 || len(res.Entries) != 5 {
		t.Errorf("limit = %d, offset = %d, entries = %d", res.Limit, res.Offset, len(res.Entries))
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 1 {
		t.Errorf("page total = %d, entries = %d", page.Total, len(page.Entries))
	}
}

func TestRepository_Prune(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	now := time.Now()
	for _, age := range []time.Duration{48 * time.Hour, 2 * time.Hour, time.Minute} {
		if err := repo.Create(ctx, &Entry{Module: "m", Command: "c", Outcome: json.RawMessage(`{}`), CreatedAt: now.Add(-age)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Prune() = %d, %v; want 1", n, err)
	}
	res, _ := repo.List(ctx, Filter{})
	if res.Total != 2 {
		t.Errorf("remaining = %d, want 2", res.Total)
	}
}

func TestRecorder_WritesObservedCommands(t *testing.T) {
	repo := openRepo(t)
	rec := NewRecorder(repo, WithBuffer(8))

	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	rec.CommandExecuted(ctx, dispatch.Record{
		RequestID: "req-9",
		Source:    "mqtt",
		Index:     0,
		Module:    "gpio",
		Command:   "digitalWrite",
		Params:    module.P("values", "1,0"),
		Outcome:   dispatch.Success(module.Empty()),
		Started:   time.Now(),
		Duration:  1500 * time.Microsecond,
	})
	rec.CommandExecuted(ctx, dispatch.Record{
		RequestID: "req-9",
		Source:    "mqtt",
		Index:     1,
		Module:    "bogus",
		Command:   "x",
		Outcome:   dispatch.Failure(dispatch.MsgModuleNotFound),
		Started:   time.Now(),
	})

	// Cancelling drains the queue before the goroutine exits.
	cancel()
	rec.Wait()

	res, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Fatalf("total = %d, want 2", res.Total)
	}

	var write Entry
	for _, e := range res.Entries {
		if e.Module == "gpio" {
			write = e
		}
	}
	if !write.OK || write.DurationUS != 1500 || write.Source != "mqtt" {
		t.Errorf("gpio entry = %+v", write)
	}
	if string(write.Params) != `{"values":"1,0"}` {
		t.Errorf("params = %s", write.Params)
	}
	if string(write.Outcome) != `{"data":null}` {
		t.Errorf("outcome = %s", write.Outcome)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(openRepo(t), WithBuffer(1))
	// Not started: the queue never drains.
	for i := 0; i < 3; i++ {
		rec.CommandExecuted(context.Background(), dispatch.Record{Module: "m", Command: "c"})
	}
	if got := rec.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}
