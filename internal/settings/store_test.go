package settings

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/periphctl/internal/infrastructure/database"
	"github.com/nerrad567/periphctl/migrations"
)

func openDB(t *testing.T) *database.DB {
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
	return db
}

func TestStore_SeedOnFirstLoad(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seed := Settings{WiFiSSID: "lab", WiFiPassword: "pw", APIKey: "seed-key-123"}

	s := NewStore(db.DB)
	if err := s.Load(ctx, seed); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, _ := s.Get(); got != seed {
		t.Errorf("Get() = %+v, want %+v", got, seed)
	}

	// A second store over the same database sees the persisted row, not its seed.
	other := NewStore(db.DB)
	if err := other.Load(ctx, Settings{APIKey: "ignored-seed"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	key, err := other.APIKey(ctx)
	if err != nil || key != "seed-key-123" {
		t.Errorf("APIKey() = %q, %v", key, err)
	}
	if other.UpdatedAt().IsZero() {
		t.Error("UpdatedAt() should be set after Load")
	}
}

func TestStore_EmptyStoredKeyAdoptsSeed(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// First boot without a key leaves the device locked.
	first := NewStore(db.DB)
	if err := first.Load(ctx, Settings{WiFiSSID: "lab"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if key, _ := first.APIKey(ctx); key != "" {
		t.Fatalf("APIKey() = %q, want empty", key)
	}

	// Restart with a configured key: the stored empty key takes it and the
	// rest of the stored document is kept.
	second := NewStore(db.DB)
	if err := second.Load(ctx, Settings{WiFiSSID: "ignored", APIKey: "k"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	got, _ := second.Get()
	if got.APIKey != "k" || got.WiFiSSID != "lab" {
		t.Errorf("Get() = %+v, want api_key k and wifi_ssid lab", got)
	}

	// The adopted key is persisted; a later seed no longer overrides it.
	third := NewStore(db.DB)
	if err := third.Load(ctx, Settings{APIKey: "other"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if key, _ := third.APIKey(ctx); key != "k" {
		t.Errorf("APIKey() after restart = %q, want k", key)
	}
}

func TestStore_UpdatePersists(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s := NewStore(db.DB)
	if err := s.Load(ctx, Settings{}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	next := Settings{WiFiSSID: "home", APIKey: "rotated-key"}
	if err := s.Update(ctx, next); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded := NewStore(db.DB)
	if err := reloaded.Load(ctx, Settings{}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got, _ := reloaded.Get(); got != next {
		t.Errorf("reloaded = %+v, want %+v", got, next)
	}
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := NewStore(openDB(t).DB)
	if err := s.Load(ctx, Settings{APIKey: "original-key"}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []Settings{
		{APIKey: strings.Repeat("k", MaxFieldLength+1)},
		{APIKey: "long-enough", WiFiSSID: strings.Repeat("x", MaxFieldLength+1)},
		{APIKey: "long-enough", WiFiPassword: "\xff\xfe"},
	}
	for _, bad := range tests {
		if err := s.Update(ctx, bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("Update(%+v) error = %v, want ErrInvalid", bad, err)
		}
	}
	if key, _ := s.APIKey(ctx); key != "original-key" {
		t.Errorf("api key changed to %q after rejected updates", key)
	}
}

func TestStore_NotLoaded(t *testing.T) {
	s := NewStore(openDB(t).DB)
	if _, err := s.Get(); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Get() error = %v, want ErrNotLoaded", err)
	}
	if _, err := s.APIKey(context.Background()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("APIKey() error = %v, want ErrNotLoaded", err)
	}
	if err := s.Update(context.Background(), Settings{}); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Update() error = %v, want ErrNotLoaded", err)
	}
}

func TestStore_InvalidSeed(t *testing.T) {
	s := NewStore(openDB(t).DB)
	if err := s.Load(context.Background(), Settings{APIKey: "\xff"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestSettings_Redacted(t *testing.T) {
	s := Settings{WiFiSSID: "lab", WiFiPassword: "secret", APIKey: "key-12345"}
	r := s.Redacted()
	if r.WiFiSSID != "lab" || r.WiFiPassword == "secret" || r.APIKey == "key-12345" {
		t.Errorf("Redacted() = %+v", r)
	}
	if (Settings{}).Redacted() != (Settings{}) {
		t.Error("Redacted() of empty settings should stay empty")
	}
}
