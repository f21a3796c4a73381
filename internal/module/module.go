package module

import (
	"context"
	"sync"
)

// Module is the uniform capability interface for one peripheral instance.
type Module interface {
	// Init applies defaults for absent parameters and performs hardware setup.
	// It may only be called once.
	Init(ctx context.Context, params Params) error

	// Deinit releases the peripheral. Modules without release semantics
	// still transition to Deinitialized.
	Deinit() error

	// Execute runs one command. Unknown command names return ErrUnknownCommand.
	Execute(ctx context.Context, command string, params Params) (Result, error)

	// SupportedFunctions enumerates the commands this module accepts.
	// The returned slice is freshly allocated on every call.
	SupportedFunctions() []Descriptor

	// State reports the lifecycle state.
	State() State
}

// Descriptor is static metadata describing one command.
type Descriptor struct {
	Name   string      `json:"name"`
	Params []ParamInfo `json:"params"`
}

// ParamInfo names one parameter and its semantic type.
type ParamInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Semantic parameter types used in descriptors.
const (
	TypeInt    = "int"
	TypeUint8  = "uint8"
	TypeUint32 = "uint32"
	TypeBool   = "bool"
	TypeString = "string"
	TypeBytes  = "bytes"
	TypeInts   = "int[]"
)

// CloneDescriptors deep-copies a descriptor table so callers cannot mutate
// a module's static enumeration.
func CloneDescriptors(in []Descriptor) []Descriptor {
	out := make([]Descriptor, len(in))
	for i, d := range in {
		out[i] = Descriptor{Name: d.Name, Params: append([]ParamInfo{}, d.Params...)}
	}
	return out
}

// State is a module lifecycle state.
type State int

// Lifecycle states. Each transition happens at most once.
const (
	Uninitialized State = iota
	Initialized
	Deinitialized
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Deinitialized:
		return "deinitialized"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name for JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Lifecycle is the state machine shared by every peripheral module.
//
// Embed it and route Init, Deinit and Execute through Start, Stop and Do.
// The embedded mutex also serialises command execution on the module.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// State reports the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start runs setup and moves to Initialized when it succeeds.
// A failed setup leaves the module Uninitialized.
func (l *Lifecycle) Start(setup func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	if err := setup(); err != nil {
		return err
	}
	l.state = Initialized
	return nil
}

// Stop runs release and moves to Deinitialized. The transition happens even
// when release fails, so a failed release is never retried.
func (l *Lifecycle) Stop(release func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Initialized {
		return ErrNotInitialized
	}
	l.state = Deinitialized
	return release()
}

// Do runs fn while holding the module lock, rejecting the call unless the
// module is Initialized.
func (l *Lifecycle) Do(fn func() (Result, error)) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Initialized {
		return Empty(), ErrNotInitialized
	}
	return fn()
}
