package hal

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
)

// Sim is an in-memory board. Every peripheral records what was done to it so
// development setups and tests can observe the effect of a command.
type Sim struct {
	mu   sync.Mutex
	pins map[int]*SimPin
	i2c  map[string]*SimI2C
	spi  map[string]*SimSPI
	adc  map[int]*SimADC
	i2s  map[int]*loopbackI2S
}

// NewSim returns an empty simulated board. Peripherals spring into existence
// on first use.
func NewSim() *Sim {
	return &Sim{
		pins: make(map[int]*SimPin),
		i2c:  make(map[string]*SimI2C),
		spi:  make(map[string]*SimSPI),
		adc:  make(map[int]*SimADC),
		i2s:  make(map[int]*loopbackI2S),
	}
}

// Name implements Provider.
func (s *Sim) Name() string { return BackendSim }

// Pin implements Provider.
func (s *Sim) Pin(n int) (gpio.PinIO, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: GPIO%d", ErrNoSuchPin, n)
	}
	return s.SimPin(n), nil
}

// SimPin returns the simulated GPIO n, creating it if needed.
func (s *Sim) SimPin(n int) *SimPin {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pins[n]
	if !ok {
		p = &SimPin{Pin: &gpiotest.Pin{
			N:         fmt.Sprintf("GPIO%d", n),
			Num:       n,
			EdgesChan: make(chan gpio.Level, 16),
		}}
		s.pins[n] = p
	}
	return p
}

// I2C implements Provider. The returned closer leaves the shared bus intact.
func (s *Sim) I2C(name string) (i2c.BusCloser, error) {
	return &simI2CHandle{SimI2C: s.I2CBus(name)}, nil
}

// I2CBus returns the simulated bus registered under name, creating it if
// needed.
func (s *Sim) I2CBus(name string) *SimI2C {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.i2c[name]
	if !ok {
		b = &SimI2C{name: name, devices: make(map[uint16]conn.Conn)}
		s.i2c[name] = b
	}
	return b
}

// SPI implements Provider.
func (s *Sim) SPI(name string) (spi.PortCloser, error) {
	return &simSPIHandle{bus: s.SPIBus(name)}, nil
}

// SPIBus returns the simulated SPI bus registered under name, creating it if
// needed.
func (s *Sim) SPIBus(name string) *SimSPI {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.spi[name]
	if !ok {
		b = &SimSPI{name: name}
		s.spi[name] = b
	}
	return b
}

// ADC implements Provider.
func (s *Sim) ADC(channel int) (analog.PinADC, error) {
	if channel < 0 {
		return nil, fmt.Errorf("%w: adc %d", ErrNoSuchPin, channel)
	}
	return s.ADCChannel(channel), nil
}

// ADCChannel returns the simulated analog input, creating it if needed.
func (s *Sim) ADCChannel(channel int) *SimADC {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adc[channel]
	if !ok {
		a = &SimADC{BasicPin: pin.BasicPin{N: fmt.Sprintf("ADC%d", channel)}, channel: channel, bits: 12}
		s.adc[channel] = a
	}
	return a
}

// I2S implements Provider.
func (s *Sim) I2S(port int, cfg I2SConfig) (I2SPort, error) {
	if port < 0 {
		return nil, fmt.Errorf("%w: i2s %d", ErrNoSuchBus, port)
	}
	p, err := newLoopbackI2S(cfg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.i2s[port] = p
	s.mu.Unlock()
	return p, nil
}

// InjectI2S feeds received audio into the most recently opened port and
// returns how many bytes fit in its DMA ring.
func (s *Sim) InjectI2S(port int, data []byte) int {
	s.mu.Lock()
	p := s.i2s[port]
	s.mu.Unlock()
	if p == nil {
		return 0
	}
	return p.ring.TryWrite(data)
}

// Close implements Provider.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.i2s {
		p.ring.Close()
	}
	return nil
}

var _ Provider = (*Sim)(nil)

// SimPin is a GPIO that records every level and duty cycle written to it.
// Edges are fed through Edge and consumed by WaitForEdge.
type SimPin struct {
	*gpiotest.Pin

	mu     sync.Mutex
	writes []gpio.Level
	duties []gpio.Duty
	edge   gpio.Edge
}

// In configures the pin as input. Pending edges are kept so a test may queue
// them before the command that waits for them.
func (p *SimPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.Pin.Lock()
	p.Pin.P = pull
	switch pull {
	case gpio.PullDown:
		p.Pin.L = gpio.Low
	case gpio.PullUp:
		p.Pin.L = gpio.High
	}
	p.Pin.Unlock()

	p.mu.Lock()
	p.edge = edge
	p.mu.Unlock()
	return nil
}

// Out drives the pin and records the level.
func (p *SimPin) Out(l gpio.Level) error {
	p.mu.Lock()
	p.writes = append(p.writes, l)
	p.mu.Unlock()
	return p.Pin.Out(l)
}

// PWM records the duty cycle.
func (p *SimPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	p.mu.Lock()
	p.duties = append(p.duties, duty)
	p.mu.Unlock()
	return p.Pin.PWM(duty, f)
}

// Drive sets the level seen by Read, as an external signal would.
func (p *SimPin) Drive(l gpio.Level) {
	_ = p.Pin.Out(l)
}

// Edge queues an external transition to level l.
func (p *SimPin) Edge(l gpio.Level) {
	select {
	case p.Pin.EdgesChan <- l:
	default:
	}
}

// Writes returns the levels written with Out, oldest first.
func (p *SimPin) Writes() []gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gpio.Level(nil), p.writes...)
}

// Duties returns the duty cycles written with PWM, oldest first.
func (p *SimPin) Duties() []gpio.Duty {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]gpio.Duty(nil), p.duties...)
}

// EdgeMode returns the edge detection mode last passed to In.
func (p *SimPin) EdgeMode() gpio.Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edge
}

// SimI2C is a simulated I2C bus. Devices are attached by 7-bit address;
// transactions to an empty address fail as a NACK would.
type SimI2C struct {
	name string

	mu      sync.Mutex
	devices map[uint16]conn.Conn
	speed   physic.Frequency
	txs     []I2CTx
}

// I2CTx is one recorded bus transaction.
type I2CTx struct {
	Addr uint16
	W    []byte
	R    []byte
}

// Attach connects a device at addr. Any conn.Conn works, including
// i2ctest playbacks wrapped in an i2c.Dev.
func (b *SimI2C) Attach(addr uint16, dev conn.Conn) {
	b.mu.Lock()
	b.devices[addr] = dev
	b.mu.Unlock()
}

// Speed returns the last clock set on the bus.
func (b *SimI2C) Speed() physic.Frequency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speed
}

// Transactions returns the recorded transactions, oldest first.
func (b *SimI2C) Transactions() []I2CTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]I2CTx(nil), b.txs...)
}

func (b *SimI2C) String() string { return "sim-i2c" + b.name }

// Tx implements i2c.Bus.
func (b *SimI2C) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	dev, ok := b.devices[addr]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("i2c: no ack from address 0x%02x", addr)
	}
	if err := dev.Tx(w, r); err != nil {
		return err
	}

	b.mu.Lock()
	b.txs = append(b.txs, I2CTx{Addr: addr, W: append([]byte(nil), w...), R: append([]byte(nil), r...)})
	b.mu.Unlock()
	return nil
}

// SetSpeed implements i2c.Bus.
func (b *SimI2C) SetSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("i2c: invalid speed %s", f)
	}
	b.mu.Lock()
	b.speed = f
	b.mu.Unlock()
	return nil
}

type simI2CHandle struct {
	*SimI2C
}

func (h *simI2CHandle) Close() error { return nil }

// Registers is a simple I2C register-file device: the first written byte
// selects the register pointer, further bytes are stored from there, and
// reads return consecutive registers from the pointer.
type Registers struct {
	mu   sync.Mutex
	Mem  [256]byte
	Fail error
	ptr  byte
}

func (d *Registers) String() string { return "registers" }

// Duplex implements conn.Conn.
func (d *Registers) Duplex() conn.Duplex { return conn.Half }

// Tx implements conn.Conn.
func (d *Registers) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return d.Fail
	}
	if len(w) > 0 {
		d.ptr = w[0]
		for _, v := range w[1:] {
			d.Mem[d.ptr] = v
			d.ptr++
		}
	}
	for i := range r {
		r[i] = d.Mem[d.ptr]
		d.ptr++
	}
	return nil
}

// SimSPI is a simulated SPI bus. By default it loops MOSI back to MISO;
// Respond replaces the loopback with a device model.
type SimSPI struct {
	name string

	mu       sync.Mutex
	respond  func(w []byte) []byte
	connects []SPISettings
	txs      [][]byte
	limit    physic.Frequency
}

// SPISettings is one recorded Connect call.
type SPISettings struct {
	Freq physic.Frequency
	Mode spi.Mode
	Bits int
}

// Respond installs a device model producing MISO bytes for each transfer.
func (b *SimSPI) Respond(fn func(w []byte) []byte) {
	b.mu.Lock()
	b.respond = fn
	b.mu.Unlock()
}

// Connects returns every Connect call made on the bus, oldest first.
func (b *SimSPI) Connects() []SPISettings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SPISettings(nil), b.connects...)
}

// Transfers returns the MOSI payload of every transfer, oldest first.
func (b *SimSPI) Transfers() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.txs))
	for i, tx := range b.txs {
		out[i] = append([]byte(nil), tx...)
	}
	return out
}

func (b *SimSPI) tx(w, r []byte) error {
	b.mu.Lock()
	b.txs = append(b.txs, append([]byte(nil), w...))
	respond := b.respond
	b.mu.Unlock()

	if respond == nil {
		copy(r, w)
		return nil
	}
	copy(r, respond(w))
	return nil
}

// simSPIHandle is one opened port. Like the Linux spidev driver it accepts a
// single Connect per open.
type simSPIHandle struct {
	bus       *SimSPI
	mu        sync.Mutex
	connected bool
	closed    bool
}

func (h *simSPIHandle) String() string { return "sim-spi" + h.bus.name }

func (h *simSPIHandle) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.connected {
		return nil, fmt.Errorf("spi: Connect cannot be called twice")
	}
	if bits != 8 {
		return nil, fmt.Errorf("spi: unsupported bits per word %d", bits)
	}
	h.connected = true

	h.bus.mu.Lock()
	h.bus.connects = append(h.bus.connects, SPISettings{Freq: f, Mode: mode, Bits: bits})
	h.bus.mu.Unlock()
	return &simSPIConn{bus: h.bus}, nil
}

func (h *simSPIHandle) LimitSpeed(f physic.Frequency) error {
	h.bus.mu.Lock()
	h.bus.limit = f
	h.bus.mu.Unlock()
	return nil
}

func (h *simSPIHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

type simSPIConn struct {
	bus *SimSPI
}

func (c *simSPIConn) String() string      { return "sim-spi" + c.bus.name }
func (c *simSPIConn) Duplex() conn.Duplex { return conn.Full }

func (c *simSPIConn) Tx(w, r []byte) error {
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("spi: full duplex transfer needs equal buffers, got %d/%d", len(w), len(r))
	}
	return c.bus.tx(w, r)
}

func (c *simSPIConn) TxPackets(packets []spi.Packet) error {
	for _, p := range packets {
		if err := c.Tx(p.W, p.R); err != nil {
			return err
		}
	}
	return nil
}

// SimADC is an analog input returning queued samples, then repeating the
// last one.
type SimADC struct {
	pin.BasicPin
	channel int
	bits    int

	mu    sync.Mutex
	queue []int32
	last  int32
}

// Set queues raw samples for subsequent reads.
func (a *SimADC) Set(raw ...int32) {
	a.mu.Lock()
	a.queue = append(a.queue, raw...)
	a.mu.Unlock()
}

// Number returns the channel.
func (a *SimADC) Number() int { return a.channel }

// Range implements analog.PinADC.
func (a *SimADC) Range() (analog.Sample, analog.Sample) {
	return analog.Sample{}, analog.Sample{Raw: int32(1)<<a.bits - 1, V: 3300 * physic.MilliVolt}
}

// Read implements analog.PinADC.
func (a *SimADC) Read() (analog.Sample, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) > 0 {
		a.last = a.queue[0]
		a.queue = a.queue[1:]
	}
	maxRaw := int64(1)<<a.bits - 1
	v := physic.ElectricPotential(int64(a.last) * int64(3300*physic.MilliVolt) / maxRaw)
	return analog.Sample{Raw: a.last, V: v}, nil
}
