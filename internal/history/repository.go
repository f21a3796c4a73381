// Package history stores every command the dispatcher executes in the
// command_log table and serves it back newest first.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout sorts lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one logged command.
type Entry struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"request_id"`
	Source     string          `json:"source"`
	Index      int             `json:"index"`
	Module     string          `json:"module"`
	Command    string          `json:"command"`
	Params     json.RawMessage `json:"params,omitempty"`
	Outcome    json.RawMessage `json:"outcome"`
	OK         bool            `json:"ok"`
	DurationUS int64           `json:"duration_us"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Module  string // optional
	Command string // optional
	Source  string // optional
	OnlyErr bool   // only failed commands
	Limit   int    // default 50, max 200
	Offset  int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository reads and writes the command log.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, f Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository is the Repository over the command_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "cmd-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	var params any
	if len(e.Params) > 0 {
		params = string(e.Params)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, request_id, source, position, module, command, params, outcome, ok, duration_us, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Source, e.Index, e.Module, e.Command,
		params, string(e.Outcome), boolInt(e.OK), e.DurationUS,
		e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// List returns entries matching f, newest first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	if f.Module != "" {
		conditions = append(conditions, "module = ?")
		args = append(args, f.Module)
	}
	if f.Command != "" {
		conditions = append(conditions, "command = ?")
		args = append(args, f.Command)
	}
	if f.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, f.Source)
	}
	if f.OnlyErr {
		conditions = append(conditions, "ok = 0")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM command_log " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := `SELECT id, request_id, source, position, module, command, params, outcome, ok, duration_us, created_at
		FROM command_log ` + where + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?` //nolint:gosec // as above
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			params    sql.NullString
			outcome   string
			ok        int
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Source, &e.Index, &e.Module, &e.Command,
			&params, &outcome, &ok, &e.DurationUS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}
		if params.Valid {
			e.Params = json.RawMessage(params.String)
		}
		e.Outcome = json.RawMessage(outcome)
		e.OK = ok == 1
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Prune deletes entries older than before and returns how many were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM command_log WHERE created_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("pruning command log: %w", err)
	}
	return res.RowsAffected()
}
