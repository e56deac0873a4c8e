// Ultrasonic echo timing
// Turns the compare-match and input-capture interrupts of one hardware timer
// into a trigger pulse per cycle and a distance per echo pulse.
package core

import (
	"errors"
	"sync/atomic"
)

// CaptureEdge is the echo edge the input-capture unit is currently armed for.
type CaptureEdge uint8

const (
	AwaitingRisingEdge CaptureEdge = iota
	AwaitingFallingEdge
)

func (e CaptureEdge) String() string {
	switch e {
	case AwaitingRisingEdge:
		return "rising"
	case AwaitingFallingEdge:
		return "falling"
	default:
		return "invalid"
	}
}

const (
	// EchoMicrosPerMM converts echo pulse width (round trip) to one-way millimeters
	EchoMicrosPerMM = 58

	DefaultEchoCycleMicros    = 70000 // Longer than the worst-case echo round trip
	DefaultTriggerPulseMicros = 10
)

var (
	ErrEchoHardware = errors.New("echo timer needs a capture timer, trigger pin and busy wait")
)

// EchoConfig holds the parameters fixed when the echo timer is built.
type EchoConfig struct {
	CPUFrequency       uint32
	CycleMicros        uint32 // Trigger cadence, 0 selects DefaultEchoCycleMicros
	TriggerPulseMicros uint32 // 0 selects DefaultTriggerPulseMicros

	// MaxSkippedTriggers enables the overlap guard. Zero emits a trigger on every
	// compare match regardless of an in-flight echo. N > 0 skips emission while a
	// cycle is pending and gives the cycle up after N consecutive skips.
	MaxSkippedTriggers uint8

	Delay BusyWait
}

// EchoTimer owns the measurement state of one ultrasonic sensor.
//
// Field ownership:
//
//	CompareMatch: pending (set), skipped
//	Capture:      edge, rising, falling, distance, cycles, pending (clear)
//
// distance, pending and cycles are read from task context through atomics;
// Snapshot reads them together inside a critical section.
type EchoTimer struct {
	timer   CaptureTimer
	trigger TriggerPin
	delay   BusyWait
	clock   ClockSettings

	pulseMicros uint32
	maxSkipped  uint8

	edge     CaptureEdge
	rising   uint16
	falling  uint16
	distance uint32 // atomic, holds a uint16 millimeter value
	pending  uint32 // atomic bool
	cycles   uint32 // atomic, completed rising->falling cycles
	skipped  uint8
}

// EchoSnapshot is a consistent view of the measurement state.
type EchoSnapshot struct {
	Distance uint16
	Pending  bool
	Cycles   uint32
	Edge     CaptureEdge
}

// NewEchoTimer derives the tick geometry for cfg.CPUFrequency and binds the
// hardware. The timer is not programmed until Start.
func NewEchoTimer(cfg EchoConfig, timer CaptureTimer, trigger TriggerPin) (*EchoTimer, error) {
	if timer == nil || trigger == nil || cfg.Delay == nil {
		return nil, ErrEchoHardware
	}
	if cfg.CycleMicros == 0 {
		cfg.CycleMicros = DefaultEchoCycleMicros
	}
	if cfg.TriggerPulseMicros == 0 {
		cfg.TriggerPulseMicros = DefaultTriggerPulseMicros
	}

	clock, err := NewClockSettings(cfg.CPUFrequency, cfg.CycleMicros)
	if err != nil {
		return nil, err
	}

	return &EchoTimer{
		timer:       timer,
		trigger:     trigger,
		delay:       cfg.Delay,
		clock:       clock,
		pulseMicros: cfg.TriggerPulseMicros,
		maxSkipped:  cfg.MaxSkippedTriggers,
		edge:        AwaitingRisingEdge,
	}, nil
}

// Start drives the trigger low and programs the capture timer, armed for a
// rising edge, with global interrupts enabled. Interrupts may fire as soon
// as this returns.
func (e *EchoTimer) Start() {
	e.trigger.Set(false)
	e.timer.Configure(TimerConfig{
		Prescaler:     e.clock.Prescaler,
		CompareTicks:  e.clock.CompareTicks,
		NoiseCanceler: true,
		Edge:          AwaitingRisingEdge,

		EnableInterrupts: true,
	})
}

// Clock returns the tick geometry in use
func (e *EchoTimer) Clock() ClockSettings {
	return e.clock
}

// SetMaxSkippedTriggers changes the overlap guard limit
func (e *EchoTimer) SetMaxSkippedTriggers(n uint8) {
	state := disableInterrupts()
	e.maxSkipped = n
	e.skipped = 0
	restoreInterrupts(state)
}

// CompareMatch runs on every compare-match interrupt: it emits the trigger
// pulse and marks a cycle pending. The pulse is a busy wait since 10 us is
// shorter than any context switch, so nothing else belongs in here.
func (e *EchoTimer) CompareMatch() {
	if e.maxSkipped > 0 && atomic.LoadUint32(&e.pending) != 0 {
		if e.skipped < e.maxSkipped {
			e.skipped++
			RecordTiming(EvtEchoSkip, 0, GetTime(), uint32(e.skipped), 0)
			return
		}
		e.abandonCycle()
	}
	e.skipped = 0

	e.trigger.Set(true)
	e.delay(e.pulseMicros)
	e.trigger.Set(false)
	atomic.StoreUint32(&e.pending, 1)

	RecordTiming(EvtEchoTrigger, 0, GetTime(), 0, 0)
}

// abandonCycle drops a cycle whose falling edge never came and re-arms the
// capture unit for a rising edge.
func (e *EchoTimer) abandonCycle() {
	state := disableInterrupts()
	e.edge = AwaitingRisingEdge
	e.timer.SetCaptureEdge(AwaitingRisingEdge)
	atomic.StoreUint32(&e.pending, 0)
	restoreInterrupts(state)

	RecordTiming(EvtEchoAbandon, 0, GetTime(), uint32(e.rising), 0)
}

// Capture runs on every input-capture interrupt with the latched counter value.
// The armed edge decides which half of the echo pulse this is; polarity flips
// exactly once per call.
func (e *EchoTimer) Capture(tick uint16) {
	if e.edge == AwaitingRisingEdge {
		e.edge = AwaitingFallingEdge
		e.timer.SetCaptureEdge(AwaitingFallingEdge)
		e.rising = tick
		RecordTiming(EvtEchoRising, 0, GetTime(), uint32(tick), 0)
		return
	}

	e.edge = AwaitingRisingEdge
	e.timer.SetCaptureEdge(AwaitingRisingEdge)
	e.falling = tick

	d := EchoDistance(e.rising, e.falling, e.clock.MicrosPerTick)
	atomic.StoreUint32(&e.distance, uint32(d))
	atomic.AddUint32(&e.cycles, 1)
	atomic.StoreUint32(&e.pending, 0)

	// Bound the next cycle's ticks to one measurement window
	e.timer.ResetCounter()

	RecordTiming(EvtEchoFalling, 0, GetTime(), uint32(tick), uint32(d))
}

// Distance returns the last computed distance in millimeters. It holds the
// previous value until the next rising->falling cycle completes.
func (e *EchoTimer) Distance() uint16 {
	return uint16(atomic.LoadUint32(&e.distance))
}

// Pending reports whether a trigger was sent and its echo has not completed
func (e *EchoTimer) Pending() bool {
	return atomic.LoadUint32(&e.pending) != 0
}

// Cycles returns the number of completed echo measurements
func (e *EchoTimer) Cycles() uint32 {
	return atomic.LoadUint32(&e.cycles)
}

// Edge returns the edge the capture unit is armed for
func (e *EchoTimer) Edge() CaptureEdge {
	state := disableInterrupts()
	edge := e.edge
	restoreInterrupts(state)
	return edge
}

// Snapshot reads the measurement state with interrupts masked.
func (e *EchoTimer) Snapshot() EchoSnapshot {
	state := disableInterrupts()
	s := EchoSnapshot{
		Distance: uint16(atomic.LoadUint32(&e.distance)),
		Pending:  atomic.LoadUint32(&e.pending) != 0,
		Cycles:   atomic.LoadUint32(&e.cycles),
		Edge:     e.edge,
	}
	restoreInterrupts(state)
	return s
}

// EchoDistance converts a rising/falling capture pair to millimeters.
// The subtraction wraps at 16 bits, so a counter overflow between the two
// captures still yields the elapsed tick count.
func EchoDistance(rising, falling uint16, usPerTick uint8) uint16 {
	elapsed := falling - rising
	return uint16(uint32(elapsed) * uint32(usPerTick) / EchoMicrosPerMM)
}
