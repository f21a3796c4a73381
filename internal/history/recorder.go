package history

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/periphctl/internal/dispatch"
	"github.com/nerrad567/periphctl/internal/module"
)

// DefaultBuffer is the number of entries queued before new ones are dropped.
const DefaultBuffer = 256

// pruneInterval is how often entries past the retention window are removed.
const pruneInterval = time.Hour

// Recorder is a dispatch.Observer that writes each executed command to the
// repository from a background goroutine, so slow storage never stalls a
// batch. When the queue is full, entries are dropped and counted.
type Recorder struct {
	repo      Repository
	logger    module.Logger
	retention time.Duration

	queue   chan Entry
	dropped atomic.Uint64

	startOnce sync.Once
	wg        sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithBuffer sets the queue length.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithRetention prunes entries older than d every hour. Zero keeps everything.
func WithRetention(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.retention = d }
}

// WithLogger sets the recorder logger.
func WithLogger(l module.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder creates a recorder writing to repo. Call Start to begin writing.
func NewRecorder(repo Repository, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: nopLogger{},
		queue:  make(chan Entry, DefaultBuffer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CommandExecuted implements dispatch.Observer.
func (r *Recorder) CommandExecuted(_ context.Context, rec dispatch.Record) {
	e := Entry{
		RequestID:  rec.RequestID,
		Source:     rec.Source,
		Index:      rec.Index,
		Module:     rec.Module,
		Command:    rec.Command,
		OK:         rec.Outcome.OK(),
		DurationUS: rec.Duration.Microseconds(),
		CreatedAt:  rec.Started,
	}
	if len(rec.Params) > 0 {
		if b, err := json.Marshal(rec.Params); err == nil {
			e.Params = b
		}
	}
	if b, err := json.Marshal(rec.Outcome); err == nil {
		e.Outcome = b
	} else {
		e.Outcome = json.RawMessage(`{"error":"unencodable outcome"}`)
	}

	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("command log queue full; dropping entries")
		}
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Start launches the writer goroutine. It drains the queue and returns once
// ctx is cancelled; Wait blocks until then.
func (r *Recorder) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run(ctx)
	})
}

// Wait blocks until the writer goroutine has flushed and exited.
func (r *Recorder) Wait() { r.wg.Wait() }

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	// Writes outlive cancellation of ctx so a queued entry is never lost to
	// a shutdown racing the select below.
	wctx := context.WithoutCancel(ctx)

	var prune <-chan time.Time
	if r.retention > 0 {
		t := time.NewTicker(pruneInterval)
		defer t.Stop()
		prune = t.C
		r.prune(wctx)
	}

	for {
		select {
		case e := <-r.queue:
			r.write(wctx, e)
		case <-prune:
			r.prune(wctx)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

// drain writes whatever is still queued, bounded by a short deadline.
func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.queue:
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e Entry) {
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Error("writing command log entry", "module", e.Module, "command", e.Command, "error", err)
	}
}

func (r *Recorder) prune(ctx context.Context) {
	n, err := r.repo.Prune(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Warn("pruning command log", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned command log", "removed", n)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
