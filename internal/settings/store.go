// Package settings persists the controller's device settings: the Wi-Fi
// station credentials and the shared api_key that authorises command
// batches.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	documentKey = "device"

	MaxFieldLength = 128
)

var (
	// ErrInvalid reports a settings document that failed validation.
	ErrInvalid = errors.New("settings: invalid")

	// ErrNotLoaded is returned before Load has succeeded.
	ErrNotLoaded = errors.New("settings: not loaded")
)

// Settings is the persisted device document.
type Settings struct {
	WiFiSSID     string `json:"wifi_ssid"`
	WiFiPassword string `json:"wifi_password"`
	APIKey       string `json:"api_key"`
}

// Validate checks field lengths and encoding. The api_key is compared by
// exact equality, so any non-empty value is accepted. An empty api_key
// leaves the controller locked: every batch is rejected until a key is set.
func (s Settings) Validate() error {
	var errs []error
	for name, v := range map[string]string{"wifi_ssid": s.WiFiSSID, "wifi_password": s.WiFiPassword, "api_key": s.APIKey} {
		if len(v) > MaxFieldLength {
			errs = append(errs, fmt.Errorf("%w: %s longer than %d bytes", ErrInvalid, name, MaxFieldLength))
		}
		if !utf8.ValidString(v) {
			errs = append(errs, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalid, name))
		}
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to show: secrets become "********" when set.
func (s Settings) Redacted() Settings {
	if s.WiFiPassword != "" {
		s.WiFiPassword = "********"
	}
	if s.APIKey != "" {
		s.APIKey = "********"
	}
	return s
}

// Store caches the settings document in memory and rewrites the SQLite row
// on every change. Reads never touch the database.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	current Settings
	loaded  bool
	updated time.Time
}

// NewStore creates a store over db. Call Load before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load reads the persisted document. On first boot no row exists and seed is
// written as the initial document. Afterwards the stored document wins,
// except that a stored empty api_key adopts the seed's key: a controller
// first booted without a key could otherwise never be unlocked, because
// changing settings needs the current key.
func (s *Store) Load(ctx context.Context, seed Settings) error {
	var (
		doc     string
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT document, updated_at FROM settings WHERE key = ?", documentKey,
	).Scan(&doc, &updated)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := seed.Validate(); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		return s.write(ctx, seed)
	case err != nil:
		return fmt.Errorf("reading settings: %w", err)
	}

	var loaded Settings
	if err := json.Unmarshal([]byte(doc), &loaded); err != nil {
		return fmt.Errorf("decoding settings: %w", err)
	}
	if loaded.APIKey == "" && seed.APIKey != "" {
		loaded.APIKey = seed.APIKey
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("seed settings: %w", err)
		}
		return s.write(ctx, loaded)
	}
	at, _ := time.Parse(time.RFC3339Nano, updated) //nolint:errcheck // written by write

	s.mu.Lock()
	s.current, s.loaded, s.updated = loaded, true, at
	s.mu.Unlock()
	return nil
}

// Get returns the current settings.
func (s *Store) Get() (Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return Settings{}, ErrNotLoaded
	}
	return s.current, nil
}

// UpdatedAt returns when the document was last written.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

// APIKey returns the shared secret batches are checked against. It
// satisfies dispatch.SecretSource.
func (s *Store) APIKey(context.Context) (string, error) {
	cur, err := s.Get()
	if err != nil {
		return "", err
	}
	return cur.APIKey, nil
}

// Update validates next and persists it, replacing the whole document.
func (s *Store) Update(ctx context.Context, next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		return ErrNotLoaded
	}
	return s.write(ctx, next)
}

func (s *Store) write(ctx context.Context, next Settings) error {
	doc, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	now := time.Now().UTC()

	// Holding the lock across the write keeps the row and the cache in the
	// same order when updates race.
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		documentKey, string(doc), now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	s.current, s.loaded, s.updated = next, true, now
	return nil
}
