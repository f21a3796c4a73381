package module

import (
	"errors"
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Binding pairs a registered name with its module.
type Binding struct {
	Name   string
	Module Module
}

// Registry is the ordered table of (name, module) bindings built at boot.
//
// Insertion order is registration order. Duplicate names are accepted and
// resolved first-registered-wins on Lookup. After Seal the table is
// read-only and lookups take only a read lock.
type Registry struct {
	mu       sync.RWMutex
	bindings []Binding
	sealed   bool
	logger   Logger
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{logger: noopLogger{}}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register appends a binding. It fails once the registry is sealed.
func (r *Registry) Register(name string, m Module) error {
	if m == nil {
		return fmt.Errorf("registering %q: nil module", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("registering %q: %w", name, ErrRegistrySealed)
	}
	for _, b := range r.bindings {
		if b.Name == name {
			r.logger.Warn("duplicate module name registered; first registration wins", "module", name)
			break
		}
	}
	r.bindings = append(r.bindings, Binding{Name: name, Module: m})
	return nil
}

// Seal freezes the registry. Subsequent Register calls fail.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the first module registered under name.
func (r *Registry) Lookup(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bindings {
		if b.Name == name {
			return b.Module, true
		}
	}
	return nil, false
}

// Bindings returns a copy of the table in registration order.
func (r *Registry) Bindings() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Binding(nil), r.bindings...)
}

// Len returns the number of bindings, duplicates included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// DeinitAll releases every initialized module in reverse registration order.
// A module registered under several names is released once. All failures are
// joined into the returned error.
func (r *Registry) DeinitAll() error {
	bindings := r.Bindings()
	seen := make(map[Module]struct{}, len(bindings))

	var errs []error
	for i := len(bindings) - 1; i >= 0; i-- {
		b := bindings[i]
		if _, done := seen[b.Module]; done {
			continue
		}
		seen[b.Module] = struct{}{}

		if b.Module.State() != Initialized {
			continue
		}
		if err := b.Module.Deinit(); err != nil {
			r.logger.Error("module deinit failed", "module", b.Name, "error", err)
			errs = append(errs, fmt.Errorf("deinit %s: %w", b.Name, err))
			continue
		}
		r.logger.Info("module deinitialized", "module", b.Name)
	}
	return errors.Join(errs...)
}
