package hal

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/spi"
)

// Domain errors for the hal package.
var (
	// ErrNoSuchPin is returned when a GPIO or ADC number does not resolve.
	ErrNoSuchPin = errors.New("hal: no such pin")

	// ErrNoSuchBus is returned when an I2C bus or SPI port cannot be opened.
	ErrNoSuchBus = errors.New("hal: no such bus")

	// ErrClosed is returned by blocking I2S calls after the port is closed.
	ErrClosed = errors.New("hal: closed")

	// ErrUnknownBackend is returned by Open for an unrecognised backend name.
	ErrUnknownBackend = errors.New("hal: unknown backend")
)

// Backend names accepted by Open.
const (
	BackendPeriph = "periph"
	BackendSim    = "sim"
)

// Provider opens peripherals on one board.
//
// Implementations must be safe for concurrent use; the peripherals they
// return are owned by a single module and need not be.
type Provider interface {
	// Name identifies the backend in logs and status output.
	Name() string

	// Pin resolves a GPIO by its SoC number.
	Pin(n int) (gpio.PinIO, error)

	// I2C opens a bus by name. The empty name selects the first bus.
	I2C(name string) (i2c.BusCloser, error)

	// SPI opens a port by name. The empty name selects the first port.
	SPI(name string) (spi.PortCloser, error)

	// ADC resolves an analog input channel.
	ADC(channel int) (analog.PinADC, error)

	// I2S opens an audio port with the given configuration.
	I2S(port int, cfg I2SConfig) (I2SPort, error)

	// Close releases backend resources.
	Close() error
}

// I2SConfig is the fixed configuration of an I2S port.
type I2SConfig struct {
	SampleRate          int
	BitsPerSample       int
	ChannelFormat       int
	CommunicationFormat int
	DMABufferCount      int
	DMABufferLength     int
	BCKPin              int
	WSPin               int
	DataOutPin          int
	DataInPin           int
}

// Channels returns the number of interleaved channels for ChannelFormat.
// Formats 0 (right/left) and 1 (all right) and 2 (all left) are stereo-framed;
// formats 3 and 4 (only right, only left) carry a single channel.
func (c I2SConfig) Channels() int {
	if c.ChannelFormat >= 3 {
		return 1
	}
	return 2
}

// BufferBytes returns the total DMA buffer size in bytes.
func (c I2SConfig) BufferBytes() int {
	bytesPerSample := (c.BitsPerSample + 7) / 8
	return c.DMABufferCount * c.DMABufferLength * bytesPerSample * c.Channels()
}

// Validate reports configuration values the driver cannot honour.
func (c I2SConfig) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sampleRate must be positive, got %d", c.SampleRate))
	}
	switch c.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("bitsPerSample must be 8, 16, 24 or 32, got %d", c.BitsPerSample))
	}
	if c.ChannelFormat < 0 || c.ChannelFormat > 4 {
		errs = append(errs, fmt.Errorf("channelFormat out of range: %d", c.ChannelFormat))
	}
	if c.DMABufferCount < 2 || c.DMABufferCount > 128 {
		errs = append(errs, fmt.Errorf("dmaBufferCount must be 2..128, got %d", c.DMABufferCount))
	}
	if c.DMABufferLength < 8 || c.DMABufferLength > 1024 {
		errs = append(errs, fmt.Errorf("dmaBufferLength must be 8..1024, got %d", c.DMABufferLength))
	}
	return errors.Join(errs...)
}

// I2SPort is a configured audio port.
type I2SPort interface {
	// Read blocks until len(p) bytes have been received or ctx is done.
	Read(ctx context.Context, p []byte) (int, error)

	// Write blocks until all of p has been queued or ctx is done.
	Write(ctx context.Context, p []byte) (int, error)

	// Config returns the active configuration.
	Config() I2SConfig

	Close() error
}

// Open returns the provider for a backend name.
func Open(backend string, opts Options) (Provider, error) {
	switch backend {
	case BackendPeriph:
		return OpenPeriph(opts)
	case BackendSim, "":
		return NewSim(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Options tunes the periph backend.
type Options struct {
	// IIODevice is the sysfs directory of the ADC, e.g.
	// /sys/bus/iio/devices/iio:device0. Empty disables analog input.
	IIODevice string

	// ADCBits is the resolution of raw IIO samples.
	ADCBits int
}
