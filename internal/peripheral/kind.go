package peripheral

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/periphctl/internal/hal"
	"github.com/nerrad567/periphctl/internal/module"
)

// Kind identifies one of the peripheral module types. The set is closed.
type Kind string

// Peripheral kinds.
const (
	KindGPIO   Kind = "gpio"
	KindAnalog Kind = "analog"
	KindI2C    Kind = "i2c"
	KindSPI    Kind = "spi"
	KindI2S    Kind = "i2s"
)

// Kinds returns every kind in the default registration order.
func Kinds() []Kind {
	return []Kind{KindAnalog, KindGPIO, KindI2C, KindI2S, KindSPI}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindGPIO, KindAnalog, KindI2C, KindSPI, KindI2S:
		return k, nil
	default:
		return "", fmt.Errorf("unknown peripheral type %q", s)
	}
}

// Default sampling and transfer limits.
const (
	// DefaultSampleInterval is the pause between consecutive samples or
	// writes in a multi-value command.
	DefaultSampleInterval = time.Millisecond

	// MaxSamples bounds numSamples and the length of a values list.
	MaxSamples = 4096

	// MaxTransfer bounds a single bus transfer in bytes.
	MaxTransfer = 4096
)

// Deps carries what every module needs from its environment.
type Deps struct {
	HAL            hal.Provider
	Bytes          module.ByteCodec
	Logger         module.Logger
	SampleInterval time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Bytes == "" {
		d.Bytes = module.CSV
	}
	if d.Logger == nil {
		d.Logger = nopLogger{}
	}
	if d.SampleInterval < 0 {
		d.SampleInterval = 0
	}
	return d
}

// New constructs an uninitialized module of the given kind.
func New(kind Kind, deps Deps) (module.Module, error) {
	if deps.HAL == nil {
		return nil, fmt.Errorf("creating %s module: no hardware provider", kind)
	}
	deps = deps.withDefaults()

	switch kind {
	case KindGPIO:
		return newGPIO(deps), nil
	case KindAnalog:
		return newAnalog(deps), nil
	case KindI2C:
		return newI2C(deps), nil
	case KindSPI:
		return newSPI(deps), nil
	case KindI2S:
		return newI2S(deps), nil
	default:
		return nil, fmt.Errorf("unknown peripheral type %q", kind)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// pause waits d between consecutive hardware operations.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// intIn parses name and rejects values outside [lo, hi].
func intIn(p module.Params, name string, def, lo, hi int) (int, error) {
	v, err := p.Int(name, def)
	if err != nil {
		return def, err
	}
	if v < lo || v > hi {
		return def, outOfRange(name, v, lo, hi)
	}
	return v, nil
}

func outOfRange(name string, v, lo, hi int) error {
	return &module.ParamError{
		Name:  name,
		Value: strconv.Itoa(v),
		Err:   fmt.Errorf("out of range [%d, %d]", lo, hi),
	}
}

// address parses a 7-bit bus address.
func address(p module.Params) (uint16, error) {
	if !p.Has("address") {
		return 0, &module.ParamError{Name: "address", Err: errors.New("required")}
	}
	a, err := p.Uint("address", 0, 16)
	if err != nil {
		return 0, err
	}
	if a > 0x7F {
		return 0, outOfRange("address", int(a), 0, 0x7F)
	}
	return uint16(a), nil
}
