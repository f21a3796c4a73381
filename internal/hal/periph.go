package hal

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Periph is the Provider for real hardware, backed by periph.io host drivers.
// GPIOs are addressed by SoC number (GPIO<n>); buses by their periph
// registry names ("" selects the first registered).
type Periph struct {
	opts    Options
	loaded  []string
	skipped []string
}

// OpenPeriph initialises the periph host drivers.
func OpenPeriph(opts Options) (*Periph, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("initialising periph host: %w", err)
	}

	p := &Periph{opts: opts}
	for _, d := range state.Loaded {
		p.loaded = append(p.loaded, d.String())
	}
	for _, f := range state.Failed {
		p.skipped = append(p.skipped, f.String())
	}
	return p, nil
}

// Name implements Provider.
func (p *Periph) Name() string { return BackendPeriph }

// Drivers returns the host drivers that loaded and those that failed.
func (p *Periph) Drivers() (loaded, failed []string) {
	return append([]string(nil), p.loaded...), append([]string(nil), p.skipped...)
}

// Pin implements Provider.
func (p *Periph) Pin(n int) (gpio.PinIO, error) {
	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if pin == nil {
		return nil, fmt.Errorf("%w: GPIO%d", ErrNoSuchPin, n)
	}
	return pin, nil
}

// I2C implements Provider.
func (p *Periph) I2C(name string) (i2c.BusCloser, error) {
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: i2c %q: %v", ErrNoSuchBus, name, err)
	}
	return bus, nil
}

// SPI implements Provider.
func (p *Periph) SPI(name string) (spi.PortCloser, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: spi %q: %v", ErrNoSuchBus, name, err)
	}
	return port, nil
}

// ADC implements Provider.
func (p *Periph) ADC(channel int) (analog.PinADC, error) {
	if p.opts.IIODevice == "" {
		return nil, fmt.Errorf("%w: adc %d: no iio device configured", ErrNoSuchPin, channel)
	}
	return newIIOADC(p.opts.IIODevice, channel, p.opts.ADCBits)
}

// I2S implements Provider. Linux hosts expose I2S through ALSA rather than a
// raw DMA interface, so the port is a loopback over the configured ring.
func (p *Periph) I2S(port int, cfg I2SConfig) (I2SPort, error) {
	if port < 0 {
		return nil, errors.New("i2s port must be non-negative")
	}
	return newLoopbackI2S(cfg)
}

// Close implements Provider. periph host drivers hold no per-process state
// that needs releasing.
func (p *Periph) Close() error { return nil }

var _ Provider = (*Periph)(nil)
