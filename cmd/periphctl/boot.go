package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/periphctl/internal/hal"
	"github.com/nerrad567/periphctl/internal/infrastructure/config"
	"github.com/nerrad567/periphctl/internal/infrastructure/logging"
	"github.com/nerrad567/periphctl/internal/module"
	"github.com/nerrad567/periphctl/internal/peripheral"
)

// openHardware selects the HAL backend named in cfg.
func openHardware(cfg config.HardwareConfig) (hal.Provider, error) {
	hw, err := hal.Open(cfg.Backend, hal.Options{IIODevice: cfg.IIODevice})
	if err != nil {
		return nil, fmt.Errorf("opening %s hardware backend: %w", cfg.Backend, err)
	}
	return hw, nil
}

// bootModules constructs, registers and initialises the configured modules
// in order, then seals the registry.
//
// A module whose Init fails stays registered in the Uninitialized state:
// commands addressed to it report "Module not initialized" rather than
// "Module not found", and the failure is logged.
func bootModules(ctx context.Context, cfg *config.Config, hw hal.Provider, log *logging.Logger) (*module.Registry, error) {
	codec, err := module.ParseByteCodec(cfg.Hardware.ByteEncoding)
	if err != nil {
		return nil, fmt.Errorf("hardware.byte_encoding: %w", err)
	}

	reg := module.NewRegistry()
	reg.SetLogger(log.With("component", "registry"))

	for _, mc := range cfg.BootModules() {
		kind, err := peripheral.ParseKind(mc.Type)
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", mc.Name, err)
		}

		mlog := log.With("module", mc.Name, "type", string(kind))
		m, err := peripheral.New(kind, peripheral.Deps{
			HAL:            hw,
			Bytes:          codec,
			Logger:         mlog,
			SampleInterval: cfg.Hardware.SampleInterval(),
		})
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", mc.Name, err)
		}
		if err := reg.Register(mc.Name, m); err != nil {
			return nil, err
		}

		if err := m.Init(ctx, initParams(mc.Init)); err != nil {
			mlog.Error("module init failed", "error", err)
			continue
		}
		mlog.Info("module initialised", "state", m.State().String())
	}

	reg.Seal()
	return reg, nil
}

func initParams(in config.InitParams) module.Params {
	out := make(module.Params, 0, len(in))
	for _, p := range in {
		out = append(out, module.Param{Name: p.Key, Value: p.Value})
	}
	return out
}
