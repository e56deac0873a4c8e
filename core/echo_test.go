package core

import "testing"

func TestEchoDistance(t *testing.T) {
	testCases := []struct {
		name      string
		rising    uint16
		falling   uint16
		usPerTick uint8
		expected  uint16
	}{
		{"80mm at 16MHz", 0, 1160, 4, 80},
		{"160mm at 16MHz", 0, 2320, 4, 160},
		{"counter wrapped", 500, 200, 4, 4499},
		{"same tick", 100, 100, 4, 0},
		{"truncates", 0, 15, 4, 1}, // 60us / 58
		{"full range 8us ticks", 0, 65535, 8, 9039},
		{"wrap across zero", 65000, 1000, 4, 105},
	}

	for _, tc := range testCases {
		got := EchoDistance(tc.rising, tc.falling, tc.usPerTick)
		if got != tc.expected {
			t.Errorf("%s: EchoDistance(%d, %d, %d) = %d, expected %d",
				tc.name, tc.rising, tc.falling, tc.usPerTick, got, tc.expected)
		}
	}
}

func TestEchoDistanceIsUnsigned(t *testing.T) {
	// A signed 16-bit difference would be -300 here
	rising, falling := uint16(500), uint16(200)
	elapsed := uint32(falling - rising)
	if elapsed != 65236 {
		t.Fatalf("Expected 16-bit wraparound difference 65236, got %d", elapsed)
	}
	if got := EchoDistance(500, 200, 4); got != uint16(elapsed*4/58) {
		t.Errorf("Expected %d, got %d", elapsed*4/58, got)
	}
}

func TestEchoStartConfiguresTimer(t *testing.T) {
	e, timer, trigger, _ := newTestEcho(t, EchoConfig{})
	e.Start()

	if len(timer.configs) != 1 {
		t.Fatalf("Expected one Configure call, got %d", len(timer.configs))
	}
	cfg := timer.configs[0]
	if cfg.Prescaler != 64 {
		t.Errorf("Expected prescaler 64, got %d", cfg.Prescaler)
	}
	if cfg.CompareTicks != 17500 {
		t.Errorf("Expected compare threshold 17500, got %d", cfg.CompareTicks)
	}
	if !cfg.NoiseCanceler {
		t.Error("Expected noise canceler enabled")
	}
	if cfg.Edge != AwaitingRisingEdge {
		t.Errorf("Expected initial edge rising, got %v", cfg.Edge)
	}
	if !cfg.EnableInterrupts {
		t.Error("Expected global interrupts enabled")
	}
	if len(trigger.levels) != 1 || trigger.levels[0] {
		t.Errorf("Expected trigger driven low once, got %v", trigger.levels)
	}
	if e.Clock().MicrosPerTick != 4 {
		t.Errorf("Expected 4us per tick, got %d", e.Clock().MicrosPerTick)
	}
}

func TestEchoCompareMatchEmitsTrigger(t *testing.T) {
	e, _, trigger, delay := newTestEcho(t, EchoConfig{})

	if e.Pending() {
		t.Fatal("Expected no pending cycle before first trigger")
	}

	e.CompareMatch()

	if len(trigger.levels) != 2 || !trigger.levels[0] || trigger.levels[1] {
		t.Errorf("Expected trigger high then low, got %v", trigger.levels)
	}
	if len(delay.waits) != 1 || delay.waits[0] != 10 {
		t.Errorf("Expected one 10us busy wait, got %v", delay.waits)
	}
	if !e.Pending() {
		t.Error("Expected pending cycle after trigger")
	}
}

func TestEchoPolarityStateMachine(t *testing.T) {
	e, timer, _, _ := newTestEcho(t, EchoConfig{})

	if e.Edge() != AwaitingRisingEdge {
		t.Fatalf("Expected to start armed for rising edge, got %v", e.Edge())
	}

	e.Capture(100)
	if e.Edge() != AwaitingFallingEdge {
		t.Errorf("Expected falling edge armed after rising capture, got %v", e.Edge())
	}
	if e.Distance() != 0 || e.Cycles() != 0 {
		t.Errorf("Rising capture must not touch distance: distance=%d cycles=%d", e.Distance(), e.Cycles())
	}
	if timer.resets != 0 {
		t.Errorf("Rising capture must not reset the counter")
	}

	e.Capture(1260)
	if e.Edge() != AwaitingRisingEdge {
		t.Errorf("Expected rising edge armed after falling capture, got %v", e.Edge())
	}
	if e.Distance() != 80 {
		t.Errorf("Expected distance 80, got %d", e.Distance())
	}
	if e.Cycles() != 1 {
		t.Errorf("Expected distance updated exactly once, cycles=%d", e.Cycles())
	}

	expectedEdges := []CaptureEdge{AwaitingFallingEdge, AwaitingRisingEdge}
	if len(timer.edges) != len(expectedEdges) {
		t.Fatalf("Expected %d polarity writes, got %v", len(expectedEdges), timer.edges)
	}
	for i, edge := range expectedEdges {
		if timer.edges[i] != edge {
			t.Errorf("Polarity write %d: expected %v, got %v", i, edge, timer.edges[i])
		}
	}
}

func TestEchoDistanceReadsAreStable(t *testing.T) {
	e, _, _, _ := newTestEcho(t, EchoConfig{})
	e.Capture(0)
	e.Capture(2320)

	first := e.Distance()
	for i := 0; i < 5; i++ {
		if got := e.Distance(); got != first {
			t.Fatalf("Read %d returned %d, expected %d", i, got, first)
		}
	}

	// A rising edge alone leaves the previous value in place
	e.Capture(10)
	if got := e.Distance(); got != first {
		t.Errorf("Distance changed mid-cycle: %d -> %d", first, got)
	}
}

func TestEchoCounterResetOncePerCycle(t *testing.T) {
	e, timer, _, _ := newTestEcho(t, EchoConfig{})

	for cycle := 1; cycle <= 3; cycle++ {
		e.Capture(0)
		e.Capture(1160)
		if timer.resets != cycle {
			t.Errorf("After %d cycles expected %d counter resets, got %d", cycle, cycle, timer.resets)
		}
	}
}

func TestEchoEndToEnd16MHz(t *testing.T) {
	e, _, _, _ := newTestEcho(t, EchoConfig{CPUFrequency: 16000000})
	e.Start()

	e.CompareMatch()
	if !e.Pending() {
		t.Fatal("Expected trigger handler to mark the cycle pending")
	}

	e.Capture(0)
	e.Capture(2320)

	snap := e.Snapshot()
	if snap.Distance != 160 {
		t.Errorf("Expected 160mm, got %d", snap.Distance)
	}
	if snap.Pending {
		t.Error("Expected no pending cycle after falling edge")
	}
	if snap.Edge != AwaitingRisingEdge {
		t.Errorf("Expected rising edge armed, got %v", snap.Edge)
	}
	if snap.Cycles != 1 {
		t.Errorf("Expected 1 completed cycle, got %d", snap.Cycles)
	}
}

func TestEchoNoGuardRetriggers(t *testing.T) {
	e, _, trigger, _ := newTestEcho(t, EchoConfig{})

	e.CompareMatch()
	e.Capture(0) // Echo in flight
	e.CompareMatch()

	if len(trigger.levels) != 4 {
		t.Errorf("Expected two trigger pulses without a guard, got levels %v", trigger.levels)
	}
	if e.Edge() != AwaitingFallingEdge {
		t.Errorf("Trigger must not touch capture polarity, got %v", e.Edge())
	}
}

func TestEchoGuardSkipsThenAbandons(t *testing.T) {
	e, timer, trigger, _ := newTestEcho(t, EchoConfig{MaxSkippedTriggers: 2})

	e.CompareMatch()
	e.Capture(0) // Rising edge, falling never comes

	e.CompareMatch()
	e.CompareMatch()
	if len(trigger.levels) != 2 {
		t.Fatalf("Expected triggers skipped while pending, got levels %v", trigger.levels)
	}
	if e.Edge() != AwaitingFallingEdge {
		t.Fatalf("Expected cycle still in flight, got %v", e.Edge())
	}

	e.CompareMatch()
	if len(trigger.levels) != 4 {
		t.Errorf("Expected a new trigger after abandoning the cycle, got levels %v", trigger.levels)
	}
	if e.Edge() != AwaitingRisingEdge {
		t.Errorf("Expected rising edge re-armed, got %v", e.Edge())
	}
	if last := timer.edges[len(timer.edges)-1]; last != AwaitingRisingEdge {
		t.Errorf("Expected hardware polarity back to rising, got %v", last)
	}
	if !e.Pending() {
		t.Error("Expected the new trigger to be pending")
	}

	// The next echo measures normally
	e.Capture(0)
	e.Capture(1160)
	if e.Distance() != 80 {
		t.Errorf("Expected 80mm after recovery, got %d", e.Distance())
	}
}

func TestEchoGuardAllowsCompletedCycles(t *testing.T) {
	e, _, trigger, _ := newTestEcho(t, EchoConfig{MaxSkippedTriggers: 1})

	for i := 0; i < 3; i++ {
		e.CompareMatch()
		e.Capture(0)
		e.Capture(580)
	}
	if len(trigger.levels) != 6 {
		t.Errorf("Expected a trigger per completed cycle, got levels %v", trigger.levels)
	}
	if e.Distance() != 40 {
		t.Errorf("Expected 40mm, got %d", e.Distance())
	}
}

func TestEchoISRDispatch(t *testing.T) {
	defer InstallEchoTimer(nil)

	InstallEchoTimer(nil)
	CompareMatchISR() // No timer installed, must not panic
	CaptureISR()

	e, timer, trigger, _ := newTestEcho(t, EchoConfig{})
	InstallEchoTimer(e)
	if ActiveEchoTimer() != e {
		t.Fatal("Expected installed echo timer to be active")
	}

	timer.captures = []uint16{40, 2360}
	CompareMatchISR()
	CaptureISR()
	CaptureISR()

	if len(trigger.levels) != 2 {
		t.Errorf("Expected one trigger pulse, got %v", trigger.levels)
	}
	if e.Distance() != 160 {
		t.Errorf("Expected 160mm, got %d", e.Distance())
	}
}

func TestNewEchoTimerErrors(t *testing.T) {
	timer := &fakeCaptureTimer{}
	trigger := &fakeTrigger{}
	delay := func(uint32) {}

	if _, err := NewEchoTimer(EchoConfig{CPUFrequency: 16000000}, timer, trigger); err != ErrEchoHardware {
		t.Errorf("Expected ErrEchoHardware without busy wait, got %v", err)
	}
	if _, err := NewEchoTimer(EchoConfig{CPUFrequency: 16000000, Delay: delay}, nil, trigger); err != ErrEchoHardware {
		t.Errorf("Expected ErrEchoHardware without timer, got %v", err)
	}
	if _, err := NewEchoTimer(EchoConfig{CPUFrequency: 20000000, Delay: delay}, timer, trigger); err != ErrUnsupportedClock {
		t.Errorf("Expected ErrUnsupportedClock for 20MHz, got %v", err)
	}
}

func TestEchoTraceRecordsCycle(t *testing.T) {
	ClearTimingRing()
	defer ClearTimingRing()

	e, _, _, _ := newTestEcho(t, EchoConfig{})
	e.CompareMatch()
	e.Capture(0)
	e.Capture(1160)

	events := TimingEvents()
	expected := []uint8{EvtEchoTrigger, EvtEchoRising, EvtEchoFalling}
	if len(events) != len(expected) {
		t.Fatalf("Expected %d events, got %d", len(expected), len(events))
	}
	for i, code := range expected {
		if events[i].EventType != code {
			t.Errorf("Event %d: expected %s, got %s", i, timingEventName(code), timingEventName(events[i].EventType))
		}
	}
	if events[2].Value2 != 80 {
		t.Errorf("Expected falling event to carry distance 80, got %d", events[2].Value2)
	}
}

func TestEchoSnapshotMatchesAccessors(t *testing.T) {
	e, _, _, _ := newTestEcho(t, EchoConfig{})
	e.CompareMatch()
	e.Capture(0)
	e.Capture(1160)
	e.CompareMatch()

	s := e.Snapshot()
	if s.Distance != e.Distance() || s.Distance != 80 {
		t.Errorf("Expected snapshot distance 80, got %d (accessor %d)", s.Distance, e.Distance())
	}
	if s.Pending != e.Pending() || !s.Pending {
		t.Errorf("Expected snapshot pending, got %v", s.Pending)
	}
	if s.Cycles != e.Cycles() || s.Cycles != 1 {
		t.Errorf("Expected snapshot cycles 1, got %d", s.Cycles)
	}
	if s.Edge != AwaitingRisingEdge {
		t.Errorf("Expected snapshot edge rising, got %v", s.Edge)
	}
}

func TestGPIOTriggerRecordsWriteFailure(t *testing.T) {
	ClearTimingRing()
	defer ClearTimingRing()

	gpio := newFakeGPIO()
	gpio.failWrites = true
	trigger := GPIOTrigger(gpio, 20)
	trigger.Set(true)

	events := TimingEvents()
	if len(events) != 1 {
		t.Fatalf("Expected one event, got %d", len(events))
	}
	if events[0].EventType != EvtTriggerFault {
		t.Errorf("Expected %s, got %s", timingEventName(EvtTriggerFault), timingEventName(events[0].EventType))
	}
	if events[0].Value1 != 20 || events[0].Value2 != 1 {
		t.Errorf("Expected pin 20 level 1, got pin %d level %d", events[0].Value1, events[0].Value2)
	}
}
