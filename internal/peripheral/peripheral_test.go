package peripheral

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/nerrad567/periphctl/internal/hal"
	"github.com/nerrad567/periphctl/internal/module"
)

// newTestModule builds and initialises a module on a fresh simulated board.
func newTestModule(t *testing.T, kind Kind, init module.Params) (module.Module, *hal.Sim) {
	t.Helper()
	sim := hal.NewSim()
	m := newTestModuleOn(t, sim, kind, init)
	return m, sim
}

func newTestModuleOn(t *testing.T, sim *hal.Sim, kind Kind, init module.Params) module.Module {
	t.Helper()
	m, err := New(kind, Deps{HAL: sim, Bytes: module.CSV})
	if err != nil {
		t.Fatalf("New(%s) error: %v", kind, err)
	}
	if err := m.Init(context.Background(), init); err != nil {
		t.Fatalf("Init(%s) error: %v", kind, err)
	}
	t.Cleanup(func() {
		if m.State() == module.Initialized {
			_ = m.Deinit()
		}
	})
	return m
}

func exec(t *testing.T, m module.Module, command string, params module.Params) module.Result {
	t.Helper()
	res, err := m.Execute(context.Background(), command, params)
	if err != nil {
		t.Fatalf("%s error: %v", command, err)
	}
	return res
}

func TestNew(t *testing.T) {
	if _, err := New(KindGPIO, Deps{}); err == nil {
		t.Error("New without HAL should fail")
	}
	if _, err := New("uart", Deps{HAL: hal.NewSim()}); err == nil {
		t.Error("New(uart) should fail")
	}
	for _, k := range Kinds() {
		if _, err := ParseKind(string(k)); err != nil {
			t.Errorf("ParseKind(%s) error: %v", k, err)
		}
	}
	if _, err := ParseKind("GPIO"); err == nil {
		t.Error("ParseKind is case sensitive")
	}
}

func TestSupportedFunctions_Stable(t *testing.T) {
	for _, k := range Kinds() {
		m, err := New(k, Deps{HAL: hal.NewSim()})
		if err != nil {
			t.Fatalf("New(%s) error: %v", k, err)
		}
		a := m.SupportedFunctions()
		if len(a) == 0 {
			t.Errorf("%s: no functions", k)
			continue
		}
		a[0].Name = "mutated"
		b := m.SupportedFunctions()
		if b[0].Name == "mutated" {
			t.Errorf("%s: SupportedFunctions shares state with callers", k)
		}
		if !reflect.DeepEqual(b, m.SupportedFunctions()) {
			t.Errorf("%s: SupportedFunctions not stable", k)
		}
	}
}

func TestModules_RejectBeforeInit(t *testing.T) {
	for _, k := range Kinds() {
		m, _ := New(k, Deps{HAL: hal.NewSim()})
		if _, err := m.Execute(context.Background(), "anything", nil); !errors.Is(err, module.ErrNotInitialized) {
			t.Errorf("%s: Execute before Init error = %v, want ErrNotInitialized", k, err)
		}
	}
}

func TestModules_UnknownCommand(t *testing.T) {
	for _, k := range Kinds() {
		m, _ := newTestModule(t, k, nil)
		if _, err := m.Execute(context.Background(), "selfDestruct", nil); !errors.Is(err, module.ErrUnknownCommand) {
			t.Errorf("%s: error = %v, want ErrUnknownCommand", k, err)
		}
	}
}

// --- GPIO ---

func TestGPIO_DigitalWriteSequence(t *testing.T) {
	m, sim := newTestModule(t, KindGPIO, module.P("pin", "5", "mode", "1"))
	pin := sim.SimPin(5)
	before := len(pin.Writes())

	res := exec(t, m, "digitalWrite", module.P("values", "1,0,1"))
	if res.Kind() != module.KindEmpty {
		t.Errorf("result kind = %v, want empty", res.Kind())
	}

	got := pin.Writes()[before:]
	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestGPIO_DigitalRead(t *testing.T) {
	m, sim := newTestModule(t, KindGPIO, module.P("pin", "3"))
	sim.SimPin(3).Drive(gpio.High)

	res := exec(t, m, "digitalRead", module.P("numSamples", "3"))
	got, ok := res.Ints()
	if !ok {
		t.Fatalf("result kind = %v, want ints", res.Kind())
	}
	if !reflect.DeepEqual(got, []int64{1, 1, 1}) {
		t.Errorf("samples = %v", got)
	}

	res = exec(t, m, "digitalRead", nil)
	if got, _ := res.Ints(); len(got) != 1 {
		t.Errorf("default numSamples gave %d samples, want 1", len(got))
	}

	res = exec(t, m, "digitalRead", module.P("numSamples", "0"))
	if got, ok := res.Ints(); !ok || len(got) != 0 {
		t.Errorf("numSamples=0 gave %v", got)
	}
}

func TestGPIO_SetPinMode(t *testing.T) {
	m, sim := newTestModule(t, KindGPIO, module.P("pin", "6"))

	exec(t, m, "setPinMode", module.P("mode", "2"))
	if sim.SimPin(6).Pull() != gpio.PullUp {
		t.Errorf("pull = %v, want PullUp", sim.SimPin(6).Pull())
	}
	if got, _ := exec(t, m, "digitalRead", nil).Ints(); got[0] != 1 {
		t.Error("pull-up input should read 1")
	}

	_, err := m.Execute(context.Background(), "setPinMode", module.P("mode", "9"))
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("mode 9 error = %v, want ErrInvalidParameter", err)
	}
}

func TestGPIO_InvalidValues(t *testing.T) {
	m, _ := newTestModule(t, KindGPIO, module.P("mode", "1"))
	_, err := m.Execute(context.Background(), "digitalWrite", module.P("values", "1,on"))
	var pe *module.ParamError
	if !errors.As(err, &pe) || pe.Name != "values" {
		t.Errorf("error = %v, want ParamError for values", err)
	}
}

func TestGPIO_WaitForEdge(t *testing.T) {
	m, sim := newTestModule(t, KindGPIO, module.P("pin", "17"))
	sim.SimPin(17).Edge(gpio.High)

	res := exec(t, m, "waitForEdge", module.P("edge", "1", "timeoutMs", "1000"))
	if v, _ := res.Int(); v != 1 {
		t.Errorf("waitForEdge = %d, want 1", v)
	}

	res = exec(t, m, "waitForEdge", module.P("timeoutMs", "10"))
	if v, ok := res.Int(); !ok || v != 0 {
		t.Errorf("waitForEdge without edge = %d, want 0", v)
	}
	if sim.SimPin(17).EdgeMode() != gpio.NoEdge {
		t.Error("edge detection should be disarmed after waiting")
	}
}

func TestGPIO_WaitForEdgeOnOutput(t *testing.T) {
	m, _ := newTestModule(t, KindGPIO, module.P("mode", "1"))
	_, err := m.Execute(context.Background(), "waitForEdge", nil)
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("error = %v, want ErrInvalidParameter", err)
	}
}

func TestGPIO_InitRejectsBadMode(t *testing.T) {
	m, _ := New(KindGPIO, Deps{HAL: hal.NewSim()})
	if err := m.Init(context.Background(), module.P("mode", "x")); !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("Init error = %v, want ErrInvalidParameter", err)
	}
	if m.State() != module.Uninitialized {
		t.Errorf("state = %v, want uninitialized", m.State())
	}
}

// --- Analog ---

func TestAnalog_ReadAnalog(t *testing.T) {
	sim := hal.NewSim()
	sim.ADCChannel(2).Set(0, 2048, 4095)
	m := newTestModuleOn(t, sim, KindAnalog, module.P("pin", "2"))

	got, _ := exec(t, m, "readAnalog", module.P("numSamples", "3")).Ints()
	if !reflect.DeepEqual(got, []int64{0, 2048, 4095}) {
		t.Errorf("samples = %v", got)
	}

	exec(t, m, "setResolution", module.P("resolution", "10"))
	got, _ = exec(t, m, "readAnalog", nil).Ints()
	if !reflect.DeepEqual(got, []int64{1023}) {
		t.Errorf("10-bit sample = %v, want [1023]", got)
	}
}

func TestAnalog_WriteAnalog(t *testing.T) {
	m, sim := newTestModule(t, KindAnalog, module.P("pin", "4", "resolution", "8"))

	exec(t, m, "writeAnalog", module.P("values", "0,255,300,-1"))
	duties := sim.SimPin(4).Duties()
	want := []gpio.Duty{0, gpio.DutyMax, gpio.DutyMax, 0}
	if !reflect.DeepEqual(duties, want) {
		t.Errorf("duties = %v, want %v", duties, want)
	}
	if f := sim.SimPin(4).F; f != 5000*physic.Hertz {
		t.Errorf("frequency = %s, want 5kHz", f)
	}

	exec(t, m, "setFrequency", module.P("frequency", "1000"))
	exec(t, m, "writeAnalog", module.P("values", "128"))
	if f := sim.SimPin(4).F; f != 1000*physic.Hertz {
		t.Errorf("frequency = %s, want 1kHz", f)
	}
}

func TestAnalog_InvalidResolution(t *testing.T) {
	m, _ := newTestModule(t, KindAnalog, nil)
	_, err := m.Execute(context.Background(), "setResolution", module.P("resolution", "0"))
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("error = %v, want ErrInvalidParameter", err)
	}
}

// --- I2C ---

func TestI2C_ReadFromDevice(t *testing.T) {
	sim := hal.NewSim()
	dev := &hal.Registers{}
	copy(dev.Mem[:], []byte{1, 2, 3, 4})
	sim.I2CBus("").Attach(8, dev)
	m := newTestModuleOn(t, sim, KindI2C, nil)

	res := exec(t, m, "readFromDevice", module.P("address", "8", "numBytes", "4"))
	got, ok := res.Bytes()
	if !ok {
		t.Fatalf("result kind = %v, want bytes", res.Kind())
	}
	if !reflect.DeepEqual(got, []byte{1, 2, 3, 4}) {
		t.Errorf("read %v, want [1 2 3 4]", got)
	}
	if sim.I2CBus("").Speed() != 100*physic.KiloHertz {
		t.Errorf("bus speed = %s, want 100kHz", sim.I2CBus("").Speed())
	}
}

func TestI2C_WriteAndWriteRead(t *testing.T) {
	sim := hal.NewSim()
	dev := &hal.Registers{}
	sim.I2CBus("").Attach(0x3C, dev)
	m := newTestModuleOn(t, sim, KindI2C, nil)

	exec(t, m, "writeToDevice", module.P("address", "60", "data", "16,170,187"))
	if dev.Mem[16] != 170 || dev.Mem[17] != 187 {
		t.Errorf("registers = %v", dev.Mem[16:18])
	}

	got, _ := exec(t, m, "writeRead", module.P("address", "60", "data", "17", "numBytes", "1")).Bytes()
	if !reflect.DeepEqual(got, []byte{187}) {
		t.Errorf("writeRead = %v, want [187]", got)
	}
}

func TestI2C_Errors(t *testing.T) {
	m, _ := newTestModule(t, KindI2C, nil)
	ctx := context.Background()

	_, err := m.Execute(ctx, "readFromDevice", module.P("address", "9", "numBytes", "1"))
	if !errors.Is(err, module.ErrHardware) {
		t.Errorf("absent device error = %v, want ErrHardware", err)
	}

	_, err = m.Execute(ctx, "readFromDevice", module.P("address", "200", "numBytes", "1"))
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("address 200 error = %v, want ErrInvalidParameter", err)
	}

	_, err = m.Execute(ctx, "writeToDevice", module.P("address", "9", "data", "1,x"))
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("bad data error = %v, want ErrInvalidParameter", err)
	}
}

func TestI2C_SetClockAndScan(t *testing.T) {
	sim := hal.NewSim()
	sim.I2CBus("").Attach(0x20, &hal.Registers{})
	sim.I2CBus("").Attach(0x68, &hal.Registers{})
	m := newTestModuleOn(t, sim, KindI2C, nil)

	exec(t, m, "setClock", module.P("frequency", "400000"))
	if sim.I2CBus("").Speed() != 400*physic.KiloHertz {
		t.Errorf("bus speed = %s", sim.I2CBus("").Speed())
	}

	got, _ := exec(t, m, "scan", nil).Ints()
	if !reflect.DeepEqual(got, []int64{0x20, 0x68}) {
		t.Errorf("scan = %v", got)
	}
}

// --- SPI ---

func TestSPI_TransferLoopback(t *testing.T) {
	m, sim := newTestModule(t, KindSPI, nil)

	got, _ := exec(t, m, "transfer", module.P("data", "1,2,3")).Bytes()
	if !reflect.DeepEqual(got, []byte{1, 2, 3}) {
		t.Errorf("transfer = %v", got)
	}

	connects := sim.SPIBus("").Connects()
	if len(connects) != 1 {
		t.Fatalf("connects = %d, want 1", len(connects))
	}
	if connects[0].Freq != physic.MegaHertz || connects[0].Mode != spi.Mode0 {
		t.Errorf("connect settings = %+v", connects[0])
	}
}

func TestSPI_ManualSlaveSelect(t *testing.T) {
	m, sim := newTestModule(t, KindSPI, module.P("ssPin", "8"))
	ss := sim.SimPin(8)

	exec(t, m, "transfer", module.P("data", "255"))
	want := []gpio.Level{gpio.High, gpio.Low, gpio.High}
	if got := ss.Writes(); !reflect.DeepEqual(got, want) {
		t.Errorf("ss writes = %v, want %v", got, want)
	}
	if mode := sim.SPIBus("").Connects()[0].Mode; mode&spi.NoCS == 0 {
		t.Errorf("mode %s should disable kernel chip select", mode)
	}
}

func TestSPI_SetSettingsReconnects(t *testing.T) {
	m, sim := newTestModule(t, KindSPI, nil)

	exec(t, m, "setSettings", module.P("clock", "500000", "bitOrder", "0", "dataMode", "3"))
	connects := sim.SPIBus("").Connects()
	if len(connects) != 2 {
		t.Fatalf("connects = %d, want 2", len(connects))
	}
	last := connects[1]
	if last.Freq != 500*physic.KiloHertz {
		t.Errorf("clock = %s", last.Freq)
	}
	if last.Mode != spi.Mode3|spi.LSBFirst {
		t.Errorf("mode = %s, want Mode3|LSBFirst", last.Mode)
	}

	exec(t, m, "setSettings", module.P("clock", "500000"))
	if n := len(sim.SPIBus("").Connects()); n != 2 {
		t.Errorf("unchanged settings reconnected (%d connects)", n)
	}

	if got, _ := exec(t, m, "transfer", module.P("data", "9")).Bytes(); !reflect.DeepEqual(got, []byte{9}) {
		t.Errorf("transfer after reconnect = %v", got)
	}

	_, err := m.Execute(context.Background(), "setSettings", module.P("dataMode", "4"))
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("dataMode 4 error = %v, want ErrInvalidParameter", err)
	}
}

// --- I2S ---

func TestI2S_WriteThenRead(t *testing.T) {
	m, _ := newTestModule(t, KindI2S, module.P("i2sPort", "1"))

	exec(t, m, "writeData", module.P("data", "10,20,30,40"))
	got, _ := exec(t, m, "readData", module.P("numBytes", "4")).Bytes()
	if !reflect.DeepEqual(got, []byte{10, 20, 30, 40}) {
		t.Errorf("readData = %v", got)
	}
}

func TestI2S_ReadBlocksUntilContextDone(t *testing.T) {
	m, _ := newTestModule(t, KindI2S, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Execute(ctx, "readData", module.P("numBytes", "8"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestI2S_ReadInjected(t *testing.T) {
	m, sim := newTestModule(t, KindI2S, module.P("port", "0"))
	sim.InjectI2S(0, []byte{7, 8})

	got, _ := exec(t, m, "readData", module.P("numBytes", "2")).Bytes()
	if !reflect.DeepEqual(got, []byte{7, 8}) {
		t.Errorf("readData = %v", got)
	}
}

func TestI2S_InitValidation(t *testing.T) {
	m, _ := New(KindI2S, Deps{HAL: hal.NewSim()})
	err := m.Init(context.Background(), module.P("bitsPerSample", "12"))
	if !errors.Is(err, module.ErrInvalidParameter) {
		t.Errorf("Init error = %v, want ErrInvalidParameter", err)
	}
}
