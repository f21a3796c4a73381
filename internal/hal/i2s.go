package hal

import "context"

// loopbackI2S is an I2S port whose transmit path feeds its receive path
// through a DMA-sized ring. Hosts without an I2S controller use it so the
// read/write contract stays observable.
type loopbackI2S struct {
	cfg  I2SConfig
	ring *Ring
}

func newLoopbackI2S(cfg I2SConfig) (*loopbackI2S, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &loopbackI2S{cfg: cfg, ring: NewRing(cfg.BufferBytes())}, nil
}

func (p *loopbackI2S) Read(ctx context.Context, b []byte) (int, error) {
	return p.ring.ReadFull(ctx, b)
}

func (p *loopbackI2S) Write(ctx context.Context, b []byte) (int, error) {
	return p.ring.WriteAll(ctx, b)
}

func (p *loopbackI2S) Config() I2SConfig { return p.cfg }

func (p *loopbackI2S) Close() error {
	p.ring.Close()
	return nil
}
