package hal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
)

// iioADC reads one channel of a Linux IIO ADC through sysfs
// (in_voltage<N>_raw, optionally scaled by in_voltage_scale in millivolts).
type iioADC struct {
	pin.BasicPin
	channel int
	rawPath string
	scale   float64
	bits    int
}

func newIIOADC(dir string, channel, bits int) (*iioADC, error) {
	raw := filepath.Join(dir, fmt.Sprintf("in_voltage%d_raw", channel))
	if _, err := os.Stat(raw); err != nil {
		return nil, fmt.Errorf("%w: adc channel %d: %v", ErrNoSuchPin, channel, err)
	}

	scale := 0.0
	if b, err := os.ReadFile(filepath.Join(dir, "in_voltage_scale")); err == nil {
		scale, _ = strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	}
	if bits <= 0 {
		bits = 12
	}
	return &iioADC{
		BasicPin: pin.BasicPin{N: fmt.Sprintf("ADC%d", channel)},
		channel:  channel,
		rawPath:  raw,
		scale:    scale,
		bits:     bits,
	}, nil
}

// Number returns the ADC channel.
func (a *iioADC) Number() int { return a.channel }

// Range implements analog.PinADC.
func (a *iioADC) Range() (analog.Sample, analog.Sample) {
	maxRaw := int32(1)<<a.bits - 1
	return analog.Sample{}, analog.Sample{Raw: maxRaw, V: a.volts(maxRaw)}
}

// Read implements analog.PinADC.
func (a *iioADC) Read() (analog.Sample, error) {
	b, err := os.ReadFile(a.rawPath)
	if err != nil {
		return analog.Sample{}, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return analog.Sample{}, fmt.Errorf("parsing %s: %w", a.rawPath, err)
	}
	raw := int32(v)
	return analog.Sample{Raw: raw, V: a.volts(raw)}, nil
}

func (a *iioADC) volts(raw int32) physic.ElectricPotential {
	return physic.ElectricPotential(float64(raw) * a.scale * float64(physic.MilliVolt))
}

var _ analog.PinADC = (*iioADC)(nil)
