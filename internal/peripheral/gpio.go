package peripheral

import (
	"context"
	"errors"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/nerrad567/periphctl/internal/module"
)

// Pin modes accepted by setPinMode and the mode init parameter.
const (
	ModeInput         = 0
	ModeOutput        = 1
	ModeInputPullUp   = 2
	ModeInputPullDown = 3
)

const defaultEdgeTimeout = time.Second

var errNotInput = errors.New("pin is configured as output")

var gpioFunctions = []module.Descriptor{
	{Name: "setPinMode", Params: []module.ParamInfo{{Name: "mode", Type: module.TypeInt}}},
	{Name: "digitalRead", Params: []module.ParamInfo{{Name: "numSamples", Type: module.TypeInt}}},
	{Name: "digitalWrite", Params: []module.ParamInfo{{Name: "values", Type: module.TypeInts}}},
	{Name: "waitForEdge", Params: []module.ParamInfo{
		{Name: "edge", Type: module.TypeInt},
		{Name: "timeoutMs", Type: module.TypeInt},
	}},
}

// GPIO drives one digital pin.
type GPIO struct {
	module.Lifecycle
	deps Deps

	num  int
	mode int
	pin  gpio.PinIO
}

func newGPIO(deps Deps) *GPIO {
	return &GPIO{deps: deps}
}

// Init implements module.Module. Parameters: pin (0), mode (0 = input).
func (g *GPIO) Init(_ context.Context, params module.Params) error {
	num, err := intIn(params, "pin", 0, 0, 1023)
	if err != nil {
		return err
	}
	mode, err := intIn(params, "mode", ModeInput, ModeInput, ModeInputPullDown)
	if err != nil {
		return err
	}

	return g.Start(func() error {
		p, err := g.deps.HAL.Pin(num)
		if err != nil {
			return module.Hardware("gpio open", err)
		}
		if err := applyMode(p, mode); err != nil {
			return err
		}
		g.num, g.mode, g.pin = num, mode, p
		g.deps.Logger.Debug("gpio initialized", "pin", num, "mode", mode)
		return nil
	})
}

// Deinit implements module.Module. The pin is returned to a floating input.
func (g *GPIO) Deinit() error {
	return g.Stop(func() error {
		return module.Hardware("gpio release", g.pin.In(gpio.Float, gpio.NoEdge))
	})
}

// SupportedFunctions implements module.Module.
func (g *GPIO) SupportedFunctions() []module.Descriptor {
	return module.CloneDescriptors(gpioFunctions)
}

// Execute implements module.Module.
func (g *GPIO) Execute(ctx context.Context, command string, params module.Params) (module.Result, error) {
	return g.Do(func() (module.Result, error) {
		switch command {
		case "setPinMode":
			return g.setPinMode(params)
		case "digitalRead":
			return g.digitalRead(ctx, params)
		case "digitalWrite":
			return g.digitalWrite(ctx, params)
		case "waitForEdge":
			return g.waitForEdge(ctx, params)
		default:
			return module.Empty(), module.UnknownCommand(command)
		}
	})
}

func (g *GPIO) setPinMode(params module.Params) (module.Result, error) {
	mode, err := intIn(params, "mode", g.mode, ModeInput, ModeInputPullDown)
	if err != nil {
		return module.Empty(), err
	}
	if err := applyMode(g.pin, mode); err != nil {
		return module.Empty(), err
	}
	g.mode = mode
	return module.Empty(), nil
}

func (g *GPIO) digitalRead(ctx context.Context, params module.Params) (module.Result, error) {
	n, err := intIn(params, "numSamples", 1, 0, MaxSamples)
	if err != nil {
		return module.Empty(), err
	}

	samples := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := pause(ctx, g.deps.SampleInterval); err != nil {
				return module.Empty(), err
			}
		}
		if g.pin.Read() == gpio.High {
			samples = append(samples, 1)
		} else {
			samples = append(samples, 0)
		}
	}
	return module.Ints(samples), nil
}

func (g *GPIO) digitalWrite(ctx context.Context, params module.Params) (module.Result, error) {
	values, err := params.Ints("values")
	if err != nil {
		return module.Empty(), err
	}
	if len(values) > MaxSamples {
		return module.Empty(), outOfRange("values", len(values), 0, MaxSamples)
	}

	for i, v := range values {
		if i > 0 {
			if err := pause(ctx, g.deps.SampleInterval); err != nil {
				return module.Empty(), err
			}
		}
		if err := g.pin.Out(gpio.Level(v != 0)); err != nil {
			return module.Empty(), module.Hardware("gpio write", err)
		}
	}
	return module.Empty(), nil
}

// waitForEdge arms edge detection and blocks until an edge arrives, the
// timeout passes or ctx is done. It returns 1 for an edge and 0 otherwise.
func (g *GPIO) waitForEdge(ctx context.Context, params module.Params) (module.Result, error) {
	edge, err := intIn(params, "edge", int(gpio.BothEdges), int(gpio.RisingEdge), int(gpio.BothEdges))
	if err != nil {
		return module.Empty(), err
	}
	ms, err := intIn(params, "timeoutMs", int(defaultEdgeTimeout/time.Millisecond), 0, 3600_000)
	if err != nil {
		return module.Empty(), err
	}
	if g.mode == ModeOutput {
		return module.Empty(), &module.ParamError{Name: "edge", Value: "output pin", Err: errNotInput}
	}

	timeout := time.Duration(ms) * time.Millisecond
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	pull := modePull(g.mode)
	if err := g.pin.In(pull, gpio.Edge(edge)); err != nil {
		return module.Empty(), module.Hardware("gpio arm edge", err)
	}
	got := timeout > 0 && g.pin.WaitForEdge(timeout)
	if err := g.pin.In(pull, gpio.NoEdge); err != nil {
		return module.Empty(), module.Hardware("gpio disarm edge", err)
	}

	if got {
		return module.Int(1), nil
	}
	if err := ctx.Err(); err != nil {
		return module.Empty(), err
	}
	return module.Int(0), nil
}

func modePull(mode int) gpio.Pull {
	switch mode {
	case ModeInputPullUp:
		return gpio.PullUp
	case ModeInputPullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func applyMode(p gpio.PinIO, mode int) error {
	var err error
	if mode == ModeOutput {
		err = p.Out(gpio.Low)
	} else {
		err = p.In(modePull(mode), gpio.NoEdge)
	}
	return module.Hardware("gpio set mode", err)
}
