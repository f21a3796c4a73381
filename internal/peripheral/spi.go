package peripheral

import (
	"context"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/nerrad567/periphctl/internal/module"
)

// SPI defaults and bit orders. Bit order values follow the Arduino
// convention: 0 is LSBFIRST, 1 is MSBFIRST.
const (
	DefaultSPIClock = 1_000_000
	maxSPIClock     = 80_000_000

	LSBFirst = 0
	MSBFirst = 1
)

var spiFunctions = []module.Descriptor{
	{Name: "transfer", Params: []module.ParamInfo{{Name: "data", Type: module.TypeBytes}}},
	{Name: "setSettings", Params: []module.ParamInfo{
		{Name: "clock", Type: module.TypeUint32},
		{Name: "bitOrder", Type: module.TypeUint8},
		{Name: "dataMode", Type: module.TypeUint8},
	}},
}

// spiSettings are the transaction settings applied to every transfer.
type spiSettings struct {
	clock    int
	bitOrder int
	dataMode int
}

func (s spiSettings) mode(manualCS bool) spi.Mode {
	m := spi.Mode(s.dataMode)
	if s.bitOrder == LSBFirst {
		m |= spi.LSBFirst
	}
	if manualCS {
		m |= spi.NoCS
	}
	return m
}

func parseSPISettings(params module.Params, def spiSettings) (spiSettings, error) {
	var (
		s   spiSettings
		err error
	)
	if s.clock, err = intIn(params, "clock", def.clock, 1, maxSPIClock); err != nil {
		return def, err
	}
	if s.bitOrder, err = intIn(params, "bitOrder", def.bitOrder, LSBFirst, MSBFirst); err != nil {
		return def, err
	}
	if s.dataMode, err = intIn(params, "dataMode", def.dataMode, 0, 3); err != nil {
		return def, err
	}
	return s, nil
}

// SPI is a full-duplex bus controller. With ssPin set the module drives
// slave select itself around each transfer; otherwise the kernel chip select
// is used.
type SPI struct {
	module.Lifecycle
	deps Deps

	portName string
	settings spiSettings
	port     spi.PortCloser
	conn     spi.Conn
	ss       gpio.PinIO
}

func newSPI(deps Deps) *SPI {
	return &SPI{deps: deps}
}

// Init implements module.Module. Parameters: port ("" = first port),
// sckPin, misoPin, mosiPin (board wiring, validated only), ssPin (-1 = kernel
// chip select), clock (1 MHz), bitOrder (1 = MSB first), dataMode (0).
func (s *SPI) Init(_ context.Context, params module.Params) error {
	name := params.String("port", "")
	for _, pin := range []string{"sckPin", "misoPin", "mosiPin"} {
		if _, err := intIn(params, pin, -1, -1, 1023); err != nil {
			return err
		}
	}
	ssPin, err := intIn(params, "ssPin", -1, -1, 1023)
	if err != nil {
		return err
	}
	settings, err := parseSPISettings(params, spiSettings{clock: DefaultSPIClock, bitOrder: MSBFirst})
	if err != nil {
		return err
	}

	return s.Start(func() error {
		if ssPin >= 0 {
			ss, err := s.deps.HAL.Pin(ssPin)
			if err != nil {
				return module.Hardware("spi open ss", err)
			}
			if err := ss.Out(gpio.High); err != nil {
				return module.Hardware("spi release ss", err)
			}
			s.ss = ss
		}
		s.portName = name
		port, conn, err := s.connect(settings)
		if err != nil {
			return err
		}
		s.port, s.conn, s.settings = port, conn, settings
		s.deps.Logger.Debug("spi initialized", "port", port.String(), "clock", settings.clock, "mode", settings.mode(s.ss != nil).String())
		return nil
	})
}

// connect opens the port and applies settings. A port accepts a single
// Connect, so changing settings means opening it again.
func (s *SPI) connect(settings spiSettings) (spi.PortCloser, spi.Conn, error) {
	port, err := s.deps.HAL.SPI(s.portName)
	if err != nil {
		return nil, nil, module.Hardware("spi open", err)
	}
	conn, err := port.Connect(physic.Frequency(settings.clock)*physic.Hertz, settings.mode(s.ss != nil), 8)
	if err != nil {
		_ = port.Close()
		return nil, nil, module.Hardware("spi connect", err)
	}
	return port, conn, nil
}

// Deinit implements module.Module.
func (s *SPI) Deinit() error {
	return s.Stop(func() error {
		return module.Hardware("spi close", s.port.Close())
	})
}

// SupportedFunctions implements module.Module.
func (s *SPI) SupportedFunctions() []module.Descriptor {
	return module.CloneDescriptors(spiFunctions)
}

// Execute implements module.Module.
func (s *SPI) Execute(_ context.Context, command string, params module.Params) (module.Result, error) {
	return s.Do(func() (module.Result, error) {
		switch command {
		case "transfer":
			return s.transfer(params)
		case "setSettings":
			return s.setSettings(params)
		default:
			return module.Empty(), module.UnknownCommand(command)
		}
	})
}

func (s *SPI) transfer(params module.Params) (module.Result, error) {
	w, err := params.Bytes("data", s.deps.Bytes)
	if err != nil {
		return module.Empty(), err
	}
	if len(w) > MaxTransfer {
		return module.Empty(), outOfRange("data", len(w), 0, MaxTransfer)
	}
	r := make([]byte, len(w))
	if len(w) == 0 {
		return module.Bytes(r), nil
	}

	if s.ss != nil {
		if err := s.ss.Out(gpio.Low); err != nil {
			return module.Empty(), module.Hardware("spi select", err)
		}
	}
	txErr := s.conn.Tx(w, r)
	if s.ss != nil {
		if err := s.ss.Out(gpio.High); err != nil && txErr == nil {
			txErr = err
		}
	}
	if txErr != nil {
		return module.Empty(), module.Hardware("spi transfer", txErr)
	}
	return module.Bytes(r), nil
}

// setSettings replaces the transaction settings. Absent parameters keep
// their current value.
func (s *SPI) setSettings(params module.Params) (module.Result, error) {
	settings, err := parseSPISettings(params, s.settings)
	if err != nil {
		return module.Empty(), err
	}
	if settings == s.settings {
		return module.Empty(), nil
	}

	port, conn, err := s.connect(settings)
	if err != nil {
		return module.Empty(), err
	}
	closeErr := s.port.Close()
	s.port, s.conn, s.settings = port, conn, settings
	if closeErr != nil {
		s.deps.Logger.Warn("closing previous spi port", "error", closeErr)
	}
	return module.Empty(), nil
}
