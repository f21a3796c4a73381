package module

import (
	"errors"
	"fmt"
)

// Domain errors for the module package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, module.ErrInvalidParameter) {
//	    // reject the command, the batch continues
//	}
var (
	// ErrNotInitialized is returned when a command or Deinit reaches a module
	// that is not in the Initialized state.
	ErrNotInitialized = errors.New("module: not initialized")

	// ErrAlreadyInitialized is returned when Init is called twice.
	ErrAlreadyInitialized = errors.New("module: already initialized")

	// ErrUnknownCommand is returned when a module does not implement a command.
	ErrUnknownCommand = errors.New("module: unknown command")

	// ErrInvalidParameter is returned when parameter text cannot be parsed.
	ErrInvalidParameter = errors.New("module: invalid parameter")

	// ErrHardware is returned when the underlying peripheral transaction fails.
	ErrHardware = errors.New("module: hardware error")

	// ErrModuleNotFound is returned when a registry lookup misses.
	ErrModuleNotFound = errors.New("module: not found")

	// ErrRegistrySealed is returned when registering after boot has completed.
	ErrRegistrySealed = errors.New("module: registry sealed")
)

// ParamError describes a parameter whose text could not be parsed.
type ParamError struct {
	Name  string
	Value string
	Err   error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: parameter %q value %q: %v", ErrInvalidParameter, e.Name, e.Value, e.Err)
}

// Is reports ErrInvalidParameter so callers need not know the concrete type.
func (e *ParamError) Is(target error) bool { return target == ErrInvalidParameter }

func (e *ParamError) Unwrap() error { return e.Err }

// HardwareError wraps a failed peripheral operation.
//
// Op names the operation as seen by the caller (e.g. "i2c tx", "spi connect").
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is reports ErrHardware.
func (e *HardwareError) Is(target error) bool { return target == ErrHardware }

func (e *HardwareError) Unwrap() error { return e.Err }

// Hardware wraps err as a HardwareError, or returns nil when err is nil.
func Hardware(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareError{Op: op, Err: err}
}

// UnknownCommand returns ErrUnknownCommand annotated with the command name.
func UnknownCommand(command string) error {
	return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}
