package peripheral

import (
	"context"

	"github.com/nerrad567/periphctl/internal/hal"
	"github.com/nerrad567/periphctl/internal/module"
)

var i2sFunctions = []module.Descriptor{
	{Name: "readData", Params: []module.ParamInfo{{Name: "numBytes", Type: module.TypeInt}}},
	{Name: "writeData", Params: []module.ParamInfo{{Name: "data", Type: module.TypeBytes}}},
}

// I2S streams audio through a DMA ring. Configuration is fixed at Init.
type I2S struct {
	module.Lifecycle
	deps Deps

	num  int
	port hal.I2SPort
}

func newI2S(deps Deps) *I2S {
	return &I2S{deps: deps}
}

// DefaultI2SConfig returns the configuration used for absent parameters.
func DefaultI2SConfig() hal.I2SConfig {
	return hal.I2SConfig{
		SampleRate:      44100,
		BitsPerSample:   16,
		DMABufferCount:  8,
		DMABufferLength: 64,
		BCKPin:          -1,
		WSPin:           -1,
		DataOutPin:      -1,
		DataInPin:       -1,
	}
}

// Init implements module.Module. Parameters: port (also accepted as
// i2sPort), sampleRate, bitsPerSample, channelFormat, communicationFormat,
// dmaBufferCount, dmaBufferLength, bckPin, wsPin, dataOutPin, dataInPin.
func (s *I2S) Init(_ context.Context, params module.Params) error {
	portKey := "port"
	if !params.Has(portKey) && params.Has("i2sPort") {
		portKey = "i2sPort"
	}
	num, err := intIn(params, portKey, 0, 0, 7)
	if err != nil {
		return err
	}

	cfg := DefaultI2SConfig()
	fields := []struct {
		name   string
		dst    *int
		lo, hi int
	}{
		{"sampleRate", &cfg.SampleRate, 1, 768_000},
		{"bitsPerSample", &cfg.BitsPerSample, 8, 32},
		{"channelFormat", &cfg.ChannelFormat, 0, 4},
		{"communicationFormat", &cfg.CommunicationFormat, 0, 255},
		{"dmaBufferCount", &cfg.DMABufferCount, 2, 128},
		{"dmaBufferLength", &cfg.DMABufferLength, 8, 1024},
		{"bckPin", &cfg.BCKPin, -1, 1023},
		{"wsPin", &cfg.WSPin, -1, 1023},
		{"dataOutPin", &cfg.DataOutPin, -1, 1023},
		{"dataInPin", &cfg.DataInPin, -1, 1023},
	}
	for _, f := range fields {
		v, err := intIn(params, f.name, *f.dst, f.lo, f.hi)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	if err := cfg.Validate(); err != nil {
		return &module.ParamError{Name: "bitsPerSample", Err: err}
	}

	return s.Start(func() error {
		port, err := s.deps.HAL.I2S(num, cfg)
		if err != nil {
			return module.Hardware("i2s install", err)
		}
		s.num, s.port = num, port
		s.deps.Logger.Debug("i2s initialized", "port", num, "sample_rate", cfg.SampleRate, "buffer_bytes", cfg.BufferBytes())
		return nil
	})
}

// Deinit implements module.Module.
func (s *I2S) Deinit() error {
	return s.Stop(func() error {
		return module.Hardware("i2s uninstall", s.port.Close())
	})
}

// SupportedFunctions implements module.Module.
func (s *I2S) SupportedFunctions() []module.Descriptor {
	return module.CloneDescriptors(i2sFunctions)
}

// Execute implements module.Module. Both commands block until the DMA ring
// can satisfy them or ctx is done.
func (s *I2S) Execute(ctx context.Context, command string, params module.Params) (module.Result, error) {
	return s.Do(func() (module.Result, error) {
		switch command {
		case "readData":
			n, err := intIn(params, "numBytes", 0, 0, MaxTransfer)
			if err != nil {
				return module.Empty(), err
			}
			buf := make([]byte, n)
			if _, err := s.port.Read(ctx, buf); err != nil {
				return module.Empty(), i2sErr(ctx, "i2s read", err)
			}
			return module.Bytes(buf), nil
		case "writeData":
			data, err := params.Bytes("data", s.deps.Bytes)
			if err != nil {
				return module.Empty(), err
			}
			if len(data) > MaxTransfer {
				return module.Empty(), outOfRange("data", len(data), 0, MaxTransfer)
			}
			if _, err := s.port.Write(ctx, data); err != nil {
				return module.Empty(), i2sErr(ctx, "i2s write", err)
			}
			return module.Empty(), nil
		default:
			return module.Empty(), module.UnknownCommand(command)
		}
	})
}

// i2sErr keeps context errors unwrapped so they surface as timeouts.
func i2sErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return module.Hardware(op, err)
}
