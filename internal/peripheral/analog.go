package peripheral

import (
	"context"
	"errors"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"github.com/nerrad567/periphctl/internal/module"
)

// Analog defaults.
const (
	DefaultResolution   = 12
	DefaultPWMFrequency = 5000
	maxResolution       = 16
	maxPWMFrequency     = 40_000_000
)

var errNoADC = errors.New("pin has no analog input")

var analogFunctions = []module.Descriptor{
	{Name: "readAnalog", Params: []module.ParamInfo{{Name: "numSamples", Type: module.TypeInt}}},
	{Name: "writeAnalog", Params: []module.ParamInfo{{Name: "values", Type: module.TypeInts}}},
	{Name: "setResolution", Params: []module.ParamInfo{{Name: "resolution", Type: module.TypeInt}}},
	{Name: "setFrequency", Params: []module.ParamInfo{{Name: "frequency", Type: module.TypeInt}}},
}

// Analog samples an ADC channel and drives PWM output on the same pin
// number. Samples and duty values are expressed at the configured resolution.
type Analog struct {
	module.Lifecycle
	deps Deps

	num        int
	resolution int
	frequency  int
	adc        analog.PinADC
	out        gpio.PinIO
}

func newAnalog(deps Deps) *Analog {
	return &Analog{deps: deps}
}

// Init implements module.Module. Parameters: pin (0), resolution (12 bits),
// frequency (5000 Hz).
func (a *Analog) Init(_ context.Context, params module.Params) error {
	num, err := intIn(params, "pin", 0, 0, 1023)
	if err != nil {
		return err
	}
	res, err := intIn(params, "resolution", DefaultResolution, 1, maxResolution)
	if err != nil {
		return err
	}
	freq, err := intIn(params, "frequency", DefaultPWMFrequency, 1, maxPWMFrequency)
	if err != nil {
		return err
	}

	return a.Start(func() error {
		adc, adcErr := a.deps.HAL.ADC(num)
		out, outErr := a.deps.HAL.Pin(num)
		if adcErr != nil && outErr != nil {
			return module.Hardware("analog open", errors.Join(adcErr, outErr))
		}
		if adcErr != nil {
			a.deps.Logger.Warn("analog input unavailable", "pin", num, "error", adcErr)
		}
		if outErr != nil {
			a.deps.Logger.Warn("analog output unavailable", "pin", num, "error", outErr)
		}
		a.num, a.resolution, a.frequency = num, res, freq
		a.adc, a.out = adc, out
		return nil
	})
}

// Deinit implements module.Module. Any PWM output is stopped.
func (a *Analog) Deinit() error {
	return a.Stop(func() error {
		if a.out == nil {
			return nil
		}
		return module.Hardware("analog release", a.out.Out(gpio.Low))
	})
}

// SupportedFunctions implements module.Module.
func (a *Analog) SupportedFunctions() []module.Descriptor {
	return module.CloneDescriptors(analogFunctions)
}

// Execute implements module.Module.
func (a *Analog) Execute(ctx context.Context, command string, params module.Params) (module.Result, error) {
	return a.Do(func() (module.Result, error) {
		switch command {
		case "readAnalog":
			return a.readAnalog(ctx, params)
		case "writeAnalog":
			return a.writeAnalog(ctx, params)
		case "setResolution":
			res, err := intIn(params, "resolution", a.resolution, 1, maxResolution)
			if err != nil {
				return module.Empty(), err
			}
			a.resolution = res
			return module.Empty(), nil
		case "setFrequency":
			freq, err := intIn(params, "frequency", a.frequency, 1, maxPWMFrequency)
			if err != nil {
				return module.Empty(), err
			}
			a.frequency = freq
			return module.Empty(), nil
		default:
			return module.Empty(), module.UnknownCommand(command)
		}
	})
}

func (a *Analog) readAnalog(ctx context.Context, params module.Params) (module.Result, error) {
	n, err := intIn(params, "numSamples", 1, 0, MaxSamples)
	if err != nil {
		return module.Empty(), err
	}
	if a.adc == nil {
		return module.Empty(), module.Hardware("analog read", errNoADC)
	}

	_, hi := a.adc.Range()
	samples := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := pause(ctx, a.deps.SampleInterval); err != nil {
				return module.Empty(), err
			}
		}
		s, err := a.adc.Read()
		if err != nil {
			return module.Empty(), module.Hardware("analog read", err)
		}
		samples = append(samples, rescale(int64(s.Raw), int64(hi.Raw), a.maxValue()))
	}
	return module.Ints(samples), nil
}

func (a *Analog) writeAnalog(ctx context.Context, params module.Params) (module.Result, error) {
	values, err := params.Ints("values")
	if err != nil {
		return module.Empty(), err
	}
	if len(values) > MaxSamples {
		return module.Empty(), outOfRange("values", len(values), 0, MaxSamples)
	}
	if a.out == nil {
		return module.Empty(), module.Hardware("analog write", errors.New("pin has no output"))
	}

	f := physic.Frequency(a.frequency) * physic.Hertz
	for i, v := range values {
		if i > 0 {
			if err := pause(ctx, a.deps.SampleInterval); err != nil {
				return module.Empty(), err
			}
		}
		if err := a.out.PWM(a.duty(v), f); err != nil {
			return module.Empty(), module.Hardware("analog write", err)
		}
	}
	return module.Empty(), nil
}

func (a *Analog) maxValue() int64 {
	return int64(1)<<a.resolution - 1
}

// duty maps a value at the configured resolution to a PWM duty cycle,
// clamping out-of-range values.
func (a *Analog) duty(v int64) gpio.Duty {
	maxV := a.maxValue()
	v = max(0, min(v, maxV))
	return gpio.Duty(v * int64(gpio.DutyMax) / maxV)
}

// rescale converts a raw sample in [0, fromMax] to [0, toMax].
func rescale(raw, fromMax, toMax int64) int64 {
	if fromMax <= 0 || fromMax == toMax {
		return raw
	}
	return (raw*toMax + fromMax/2) / fromMax
}
