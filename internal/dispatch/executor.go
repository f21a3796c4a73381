package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/periphctl/internal/module"
)

// DefaultCommandTimeout bounds a single command when no option overrides it.
const DefaultCommandTimeout = 5 * time.Second

// Executor resolves a module by name, runs one command on it and maps the
// result or error to an Outcome. It never fails: every error becomes an
// error outcome.
type Executor struct {
	registry      *module.Registry
	timeout       time.Duration
	silentUnknown bool
	logger        module.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCommandTimeout sets the per-command deadline. Zero disables it.
func WithCommandTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithSilentUnknownCommands makes unknown command names yield {"data": null}
// instead of an error outcome.
func WithSilentUnknownCommands(silent bool) ExecutorOption {
	return func(e *Executor) { e.silentUnknown = silent }
}

// WithLogger sets the executor logger.
func WithLogger(l module.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *module.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: reg,
		timeout:  DefaultCommandTimeout,
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry commands are resolved against.
func (e *Executor) Registry() *module.Registry { return e.registry }

// Execute runs command on the first module registered as moduleName.
func (e *Executor) Execute(ctx context.Context, moduleName, command string, params module.Params) (out Outcome) {
	m, ok := e.registry.Lookup(moduleName)
	if !ok {
		return Failure(MsgModuleNotFound)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("command panicked", "module", moduleName, "command", command, "panic", fmt.Sprint(r))
			out = Failure(MsgInternal)
		}
	}()

	res, err := m.Execute(ctx, command, params)
	if err != nil {
		return e.failure(moduleName, command, err)
	}
	return Success(res)
}

func (e *Executor) failure(moduleName, command string, err error) Outcome {
	var (
		pe *module.ParamError
		he *module.HardwareError
	)
	switch {
	case errors.Is(err, module.ErrUnknownCommand):
		if e.silentUnknown {
			return Success(module.Empty())
		}
		return Failure(MsgUnknownCommand)
	case errors.Is(err, context.DeadlineExceeded):
		e.logger.Warn("command timed out", "module", moduleName, "command", command)
		return Failure(MsgTimeout)
	case errors.Is(err, context.Canceled):
		return Failure(MsgCancelled)
	case errors.As(err, &pe):
		return Failure(fmt.Sprintf(MsgInvalidParamFmt, pe.Name))
	case errors.Is(err, module.ErrNotInitialized):
		return Failure(MsgNotInitialized)
	case errors.As(err, &he):
		e.logger.Warn("hardware error", "module", moduleName, "command", command, "error", he)
		return Failure(fmt.Sprintf(MsgHardwareFmt, he.Error()))
	default:
		e.logger.Error("command failed", "module", moduleName, "command", command, "error", err)
		return Failure(MsgInternal)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
