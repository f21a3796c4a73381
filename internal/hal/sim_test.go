package hal

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

func defaultI2S() I2SConfig {
	return I2SConfig{
		SampleRate:      44100,
		BitsPerSample:   16,
		DMABufferCount:  8,
		DMABufferLength: 64,
	}
}

func TestOpen_Backends(t *testing.T) {
	p, err := Open(BackendSim, Options{})
	if err != nil {
		t.Fatalf("Open(sim) error: %v", err)
	}
	if p.Name() != BackendSim {
		t.Errorf("Name() = %q", p.Name())
	}

	if _, err := Open("fpga", Options{}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open(fpga) error = %v, want ErrUnknownBackend", err)
	}
}

func TestSimPin_RecordsWrites(t *testing.T) {
	sim := NewSim()
	p, err := sim.Pin(4)
	if err != nil {
		t.Fatalf("Pin(4) error: %v", err)
	}

	for _, l := range []gpio.Level{gpio.High, gpio.Low, gpio.High} {
		if err := p.Out(l); err != nil {
			t.Fatalf("Out error: %v", err)
		}
	}

	got := sim.SimPin(4).Writes()
	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	if len(got) != len(want) {
		t.Fatalf("Writes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
	if p.Read() != gpio.High {
		t.Error("Read() after Out(High) should be High")
	}
	if p.Name() != "GPIO4" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestSimPin_EdgesQueuedBeforeIn(t *testing.T) {
	sim := NewSim()
	sp := sim.SimPin(17)
	sp.Edge(gpio.High)

	if err := sp.In(gpio.Float, gpio.RisingEdge); err != nil {
		t.Fatalf("In error: %v", err)
	}
	if !sp.WaitForEdge(time.Second) {
		t.Fatal("queued edge was dropped")
	}
	if sp.Read() != gpio.High {
		t.Error("edge should update the level")
	}
	if sp.WaitForEdge(10 * time.Millisecond) {
		t.Error("no further edges expected")
	}
	if sp.EdgeMode() != gpio.RisingEdge {
		t.Errorf("EdgeMode() = %v", sp.EdgeMode())
	}
}

func TestSimPin_Pull(t *testing.T) {
	sp := NewSim().SimPin(2)
	_ = sp.In(gpio.PullUp, gpio.NoEdge)
	if sp.Read() != gpio.High {
		t.Error("pull-up input should read High")
	}
	sp.Drive(gpio.Low)
	if sp.Read() != gpio.Low {
		t.Error("driven input should read Low")
	}
	if len(sp.Writes()) != 0 {
		t.Error("Drive must not be recorded as an output write")
	}
}

func TestSimI2C_Registers(t *testing.T) {
	sim := NewSim()
	dev := &Registers{}
	dev.Mem[0x10] = 0xAB
	sim.I2CBus("").Attach(0x48, dev)

	bus, err := sim.I2C("")
	if err != nil {
		t.Fatalf("I2C error: %v", err)
	}
	defer bus.Close()

	r := make([]byte, 1)
	if err := bus.Tx(0x48, []byte{0x10}, r); err != nil {
		t.Fatalf("Tx error: %v", err)
	}
	if r[0] != 0xAB {
		t.Errorf("read 0x%02x, want 0xab", r[0])
	}

	if err := bus.Tx(0x48, []byte{0x20, 1, 2}, nil); err != nil {
		t.Fatalf("write Tx error: %v", err)
	}
	if dev.Mem[0x20] != 1 || dev.Mem[0x21] != 2 {
		t.Errorf("registers not written: %v", dev.Mem[0x20:0x22])
	}

	if err := bus.Tx(0x50, nil, make([]byte, 1)); err == nil {
		t.Error("Tx to absent device should fail")
	}
	if n := len(sim.I2CBus("").Transactions()); n != 2 {
		t.Errorf("recorded %d transactions, want 2", n)
	}

	if err := bus.SetSpeed(400 * physic.KiloHertz); err != nil {
		t.Fatalf("SetSpeed error: %v", err)
	}
	if sim.I2CBus("").Speed() != 400*physic.KiloHertz {
		t.Errorf("Speed() = %s", sim.I2CBus("").Speed())
	}
}

func TestSimI2C_Playback(t *testing.T) {
	sim := NewSim()
	pb := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x76, W: []byte{0xD0}, R: []byte{0x60}}},
		DontPanic: true,
	}
	sim.I2CBus("1").Attach(0x76, &i2c.Dev{Bus: pb, Addr: 0x76})

	bus, _ := sim.I2C("1")
	r := make([]byte, 1)
	if err := bus.Tx(0x76, []byte{0xD0}, r); err != nil {
		t.Fatalf("Tx error: %v", err)
	}
	if r[0] != 0x60 {
		t.Errorf("chip id = 0x%02x, want 0x60", r[0])
	}
	if err := pb.Close(); err != nil {
		t.Errorf("playback not drained: %v", err)
	}
}

func TestSimSPI_LoopbackAndSingleConnect(t *testing.T) {
	sim := NewSim()
	port, err := sim.SPI("")
	if err != nil {
		t.Fatalf("SPI error: %v", err)
	}

	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if _, err := port.Connect(physic.MegaHertz, spi.Mode0, 8); err == nil {
		t.Error("second Connect on one open should fail")
	}

	w := []byte{0xDE, 0xAD}
	r := make([]byte, len(w))
	if err := c.Tx(w, r); err != nil {
		t.Fatalf("Tx error: %v", err)
	}
	if !bytes.Equal(r, w) {
		t.Errorf("loopback read %v, want %v", r, w)
	}

	sim.SPIBus("").Respond(func(w []byte) []byte {
		out := make([]byte, len(w))
		for i := range w {
			out[i] = ^w[i]
		}
		return out
	})
	if err := c.Tx([]byte{0x0F}, r[:1]); err != nil {
		t.Fatalf("Tx error: %v", err)
	}
	if r[0] != 0xF0 {
		t.Errorf("responder read 0x%02x, want 0xf0", r[0])
	}

	connects := sim.SPIBus("").Connects()
	if len(connects) != 1 || connects[0].Freq != physic.MegaHertz {
		t.Errorf("Connects() = %+v", connects)
	}
	if n := len(sim.SPIBus("").Transfers()); n != 2 {
		t.Errorf("Transfers() = %d, want 2", n)
	}
}

func TestSimADC_Queue(t *testing.T) {
	sim := NewSim()
	sim.ADCChannel(0).Set(100, 4095)

	adc, err := sim.ADC(0)
	if err != nil {
		t.Fatalf("ADC error: %v", err)
	}
	want := []int32{100, 4095, 4095}
	for i, w := range want {
		s, err := adc.Read()
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		if s.Raw != w {
			t.Errorf("sample %d = %d, want %d", i, s.Raw, w)
		}
	}
	_, hi := adc.Range()
	if hi.Raw != 4095 {
		t.Errorf("Range max = %d, want 4095", hi.Raw)
	}
}

func TestSimI2S_Loopback(t *testing.T) {
	sim := NewSim()
	port, err := sim.I2S(0, defaultI2S())
	if err != nil {
		t.Fatalf("I2S error: %v", err)
	}
	defer port.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := port.Write(ctx, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n := sim.InjectI2S(0, []byte{4}); n != 1 {
		t.Fatalf("InjectI2S = %d", n)
	}

	got := make([]byte, 4)
	if _, err := port.Read(ctx, got); err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("Read = %v", got)
	}
}

func TestI2SConfig(t *testing.T) {
	cfg := defaultI2S()
	if got := cfg.BufferBytes(); got != 8*64*2*2 {
		t.Errorf("BufferBytes() = %d", got)
	}
	cfg.ChannelFormat = 3
	if cfg.Channels() != 1 {
		t.Errorf("Channels() = %d, want 1", cfg.Channels())
	}

	bad := I2SConfig{SampleRate: 0, BitsPerSample: 12, DMABufferCount: 1, DMABufferLength: 4}
	if err := bad.Validate(); err == nil {
		t.Error("Validate should reject bad config")
	}
	if _, err := NewSim().I2S(0, bad); err == nil {
		t.Error("I2S should reject bad config")
	}
}
