package core

import "sonar/protocol"

// fakeCaptureTimer records what the echo timer asks of the hardware
type fakeCaptureTimer struct {
	configs  []TimerConfig
	edges    []CaptureEdge
	resets   int
	captures []uint16 // Values returned by CaptureValue, in order
}

func (f *fakeCaptureTimer) Configure(cfg TimerConfig) {
	f.configs = append(f.configs, cfg)
}

func (f *fakeCaptureTimer) SetCaptureEdge(edge CaptureEdge) {
	f.edges = append(f.edges, edge)
}

func (f *fakeCaptureTimer) CaptureValue() uint16 {
	if len(f.captures) == 0 {
		return 0
	}
	v := f.captures[0]
	f.captures = f.captures[1:]
	return v
}

func (f *fakeCaptureTimer) ResetCounter() {
	f.resets++
}

// fakeTrigger records trigger pin levels
type fakeTrigger struct {
	levels []bool
}

func (f *fakeTrigger) Set(high bool) {
	f.levels = append(f.levels, high)
}

// fakeGPIO is an in-memory GPIODriver
type fakeGPIO struct {
	outputs map[GPIOPin]bool
	pins    map[GPIOPin]bool
	writes  int

	failWrites bool
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{
		outputs: make(map[GPIOPin]bool),
		pins:    make(map[GPIOPin]bool),
	}
}

func (f *fakeGPIO) ConfigureOutput(pin GPIOPin) error {
	f.outputs[pin] = true
	return nil
}

func (f *fakeGPIO) ConfigureInput(pin GPIOPin) error {
	f.outputs[pin] = false
	return nil
}

func (f *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	if f.failWrites {
		return ErrInvalidPin
	}
	f.pins[pin] = value
	f.writes++
	return nil
}

func (f *fakeGPIO) ReadPin(pin GPIOPin) bool {
	return f.pins[pin]
}

// sentMessage is one response captured by fakeSender
type sentMessage struct {
	cmdID uint16
	data  []byte
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	data := make([]byte, len(out.Result()))
	copy(data, out.Result())
	f.sent = append(f.sent, sentMessage{cmdID: cmdID, data: data})
}

// delayRecorder collects busy wait durations
type delayRecorder struct {
	waits []uint32
}

func (d *delayRecorder) wait(us uint32) {
	d.waits = append(d.waits, us)
}

func newTestEcho(t interface{ Fatalf(string, ...interface{}) }, cfg EchoConfig) (*EchoTimer, *fakeCaptureTimer, *fakeTrigger, *delayRecorder) {
	timer := &fakeCaptureTimer{}
	trigger := &fakeTrigger{}
	delay := &delayRecorder{}
	if cfg.CPUFrequency == 0 {
		cfg.CPUFrequency = 16000000
	}
	cfg.Delay = delay.wait

	e, err := NewEchoTimer(cfg, timer, trigger)
	if err != nil {
		t.Fatalf("NewEchoTimer failed: %v", err)
	}
	return e, timer, trigger, delay
}
