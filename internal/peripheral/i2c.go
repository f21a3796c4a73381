package peripheral

import (
	"context"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/nerrad567/periphctl/internal/module"
)

// I2C defaults.
const (
	DefaultI2CFrequency = 100_000
	maxI2CFrequency     = 5_000_000

	// Scan covers the non-reserved 7-bit address range.
	scanFirst = 0x08
	scanLast  = 0x77
)

var i2cFunctions = []module.Descriptor{
	{Name: "readFromDevice", Params: []module.ParamInfo{
		{Name: "address", Type: module.TypeUint8},
		{Name: "numBytes", Type: module.TypeInt},
	}},
	{Name: "writeToDevice", Params: []module.ParamInfo{
		{Name: "address", Type: module.TypeUint8},
		{Name: "data", Type: module.TypeBytes},
	}},
	{Name: "setClock", Params: []module.ParamInfo{{Name: "frequency", Type: module.TypeUint32}}},
	{Name: "writeRead", Params: []module.ParamInfo{
		{Name: "address", Type: module.TypeUint8},
		{Name: "data", Type: module.TypeBytes},
		{Name: "numBytes", Type: module.TypeInt},
	}},
	{Name: "scan", Params: []module.ParamInfo{}},
}

// I2C is a bus controller. Every command is one complete transaction.
type I2C struct {
	module.Lifecycle
	deps Deps

	name      string
	frequency int
	bus       i2c.BusCloser
}

func newI2C(deps Deps) *I2C {
	return &I2C{deps: deps}
}

// Init implements module.Module. Parameters: bus ("" = first bus),
// sdaPin and sclPin (board wiring, validated only), frequency (100 kHz).
func (c *I2C) Init(_ context.Context, params module.Params) error {
	name := params.String("bus", "")
	for _, pin := range []string{"sdaPin", "sclPin"} {
		if _, err := intIn(params, pin, -1, -1, 1023); err != nil {
			return err
		}
	}
	freq, err := intIn(params, "frequency", DefaultI2CFrequency, 1, maxI2CFrequency)
	if err != nil {
		return err
	}

	return c.Start(func() error {
		bus, err := c.deps.HAL.I2C(name)
		if err != nil {
			return module.Hardware("i2c open", err)
		}
		if err := bus.SetSpeed(physic.Frequency(freq) * physic.Hertz); err != nil {
			_ = bus.Close()
			return module.Hardware("i2c set clock", err)
		}
		c.name, c.frequency, c.bus = name, freq, bus
		c.deps.Logger.Debug("i2c initialized", "bus", bus.String(), "frequency", freq)
		return nil
	})
}

// Deinit implements module.Module.
func (c *I2C) Deinit() error {
	return c.Stop(func() error {
		return module.Hardware("i2c close", c.bus.Close())
	})
}

// SupportedFunctions implements module.Module.
func (c *I2C) SupportedFunctions() []module.Descriptor {
	return module.CloneDescriptors(i2cFunctions)
}

// Execute implements module.Module.
func (c *I2C) Execute(ctx context.Context, command string, params module.Params) (module.Result, error) {
	return c.Do(func() (module.Result, error) {
		switch command {
		case "readFromDevice":
			return c.writeRead(params, false)
		case "writeToDevice":
			return c.writeToDevice(params)
		case "setClock":
			return c.setClock(params)
		case "writeRead":
			return c.writeRead(params, true)
		case "scan":
			return c.scan(ctx)
		default:
			return module.Empty(), module.UnknownCommand(command)
		}
	})
}

// writeRead performs a read, optionally preceded by a register write with a
// repeated start.
func (c *I2C) writeRead(params module.Params, withWrite bool) (module.Result, error) {
	addr, err := address(params)
	if err != nil {
		return module.Empty(), err
	}
	n, err := intIn(params, "numBytes", 0, 0, MaxTransfer)
	if err != nil {
		return module.Empty(), err
	}
	var w []byte
	if withWrite {
		if w, err = params.Bytes("data", c.deps.Bytes); err != nil {
			return module.Empty(), err
		}
	}

	r := make([]byte, n)
	if len(w) == 0 && n == 0 {
		return module.Bytes(r), nil
	}
	if err := c.bus.Tx(addr, w, r); err != nil {
		return module.Empty(), module.Hardware("i2c read", err)
	}
	return module.Bytes(r), nil
}

func (c *I2C) writeToDevice(params module.Params) (module.Result, error) {
	addr, err := address(params)
	if err != nil {
		return module.Empty(), err
	}
	data, err := params.Bytes("data", c.deps.Bytes)
	if err != nil {
		return module.Empty(), err
	}
	if len(data) > MaxTransfer {
		return module.Empty(), outOfRange("data", len(data), 0, MaxTransfer)
	}
	if err := c.bus.Tx(addr, data, nil); err != nil {
		return module.Empty(), module.Hardware("i2c write", err)
	}
	return module.Empty(), nil
}

func (c *I2C) setClock(params module.Params) (module.Result, error) {
	freq, err := intIn(params, "frequency", c.frequency, 1, maxI2CFrequency)
	if err != nil {
		return module.Empty(), err
	}
	if err := c.bus.SetSpeed(physic.Frequency(freq) * physic.Hertz); err != nil {
		return module.Empty(), module.Hardware("i2c set clock", err)
	}
	c.frequency = freq
	return module.Empty(), nil
}

// scan probes each address with a one-byte read and lists those that
// acknowledge.
func (c *I2C) scan(ctx context.Context) (module.Result, error) {
	found := []int64{}
	probe := make([]byte, 1)
	for addr := uint16(scanFirst); addr <= scanLast; addr++ {
		if err := ctx.Err(); err != nil {
			return module.Empty(), err
		}
		if err := c.bus.Tx(addr, nil, probe); err == nil {
			found = append(found, int64(addr))
		}
	}
	return module.Ints(found), nil
}
