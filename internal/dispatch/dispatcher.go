package dispatch

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/periphctl/internal/module"
)

// SecretSource supplies the expected api_key for each batch.
type SecretSource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticSecret is a fixed api_key.
type StaticSecret string

// APIKey implements SecretSource.
func (s StaticSecret) APIKey(context.Context) (string, error) { return string(s), nil }

// Meta describes where a batch came from.
type Meta struct {
	RequestID string
	Source    string // http, mqtt, ...
}

// Record describes one executed command. Observers receive one Record per
// command, in batch order.
type Record struct {
	RequestID string
	Source    string
	Index     int
	Module    string
	Command   string
	Params    module.Params
	Outcome   Outcome
	Started   time.Time
	Duration  time.Duration
}

// Observer is notified after every executed command.
type Observer interface {
	CommandExecuted(ctx context.Context, rec Record)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, rec Record)

// CommandExecuted implements Observer.
func (f ObserverFunc) CommandExecuted(ctx context.Context, rec Record) { f(ctx, rec) }

// Stats are cumulative dispatcher counters.
type Stats struct {
	Batches      uint64 `json:"batches"`
	Rejected     uint64 `json:"rejected"`
	Commands     uint64 `json:"commands"`
	FailedResult uint64 `json:"failed_commands"`
}

// Dispatcher authenticates command batches and runs them in order through
// an Executor. Batches are serialised: one batch completes before the next
// starts, so command order holds across transports.
type Dispatcher struct {
	exec   *Executor
	secret SecretSource
	logger module.Logger

	mu        sync.Mutex
	observers []Observer

	batches  atomic.Uint64
	rejected atomic.Uint64
	commands atomic.Uint64
	failed   atomic.Uint64
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(exec *Executor, secret SecretSource, logger module.Logger) *Dispatcher {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Dispatcher{exec: exec, secret: secret, logger: logger}
}

// AddObserver registers o. Call during boot, before the first batch.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Executor returns the underlying executor.
func (d *Dispatcher) Executor() *Executor { return d.exec }

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Batches:      d.batches.Load(),
		Rejected:     d.rejected.Load(),
		Commands:     d.commands.Load(),
		FailedResult: d.failed.Load(),
	}
}

// Handle parses a raw request body and dispatches it.
func (d *Dispatcher) Handle(ctx context.Context, meta Meta, body []byte) Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		d.rejected.Add(1)
		d.logger.Debug("rejecting malformed batch", "source", meta.Source, "error", err)
		return Response{Error: MsgParseFailed}
	}
	return d.Dispatch(ctx, meta, req)
}

// Dispatch authenticates req and executes its commands in order. A rejected
// batch executes nothing. Otherwise results has exactly one entry per
// command, aligned by index.
func (d *Dispatcher) Dispatch(ctx context.Context, meta Meta, req Request) Response {
	if !d.authorized(ctx, req.APIKey) {
		d.rejected.Add(1)
		d.logger.Warn("rejecting batch with invalid api key", "source", meta.Source)
		return Response{Error: MsgInvalidAPIKey}
	}
	if meta.RequestID == "" {
		meta.RequestID = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.batches.Add(1)
	results := make([]Outcome, len(req.Commands))
	for i, cmd := range req.Commands {
		started := time.Now()
		out := d.exec.Execute(ctx, cmd.Module, cmd.Command, cmd.Params)
		results[i] = out

		d.commands.Add(1)
		if !out.OK() {
			d.failed.Add(1)
		}

		rec := Record{
			RequestID: meta.RequestID,
			Source:    meta.Source,
			Index:     i,
			Module:    cmd.Module,
			Command:   cmd.Command,
			Params:    cmd.Params,
			Outcome:   out,
			Started:   started,
			Duration:  time.Since(started),
		}
		for _, o := range d.observers {
			o.CommandExecuted(ctx, rec)
		}
	}

	d.logger.Debug("batch executed", "request_id", meta.RequestID, "source", meta.Source, "commands", len(req.Commands))
	return Response{Results: results}
}

// authorized compares key against the configured secret in constant time.
// An empty configured secret rejects every batch.
func (d *Dispatcher) authorized(ctx context.Context, key string) bool {
	want, err := d.secret.APIKey(ctx)
	if err != nil {
		d.logger.Error("loading api key", "error", err)
		return false
	}
	if want == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(want)) == 1
}
