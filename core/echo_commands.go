// Host commands for the ultrasonic echo timer
// config_echo builds the timer, query_echo schedules periodic echo_state reports.
package core

import (
	"errors"

	"sonar/protocol"
)

var (
	ErrEchoConfigured = errors.New("echo timer already configured with different settings")
	ErrUnknownOID     = errors.New("echo sensor oid not configured")
)

// EchoSensor is a configured echo timer plus its reporting schedule
type EchoSensor struct {
	OID        uint8
	TriggerPin GPIOPin
	Echo       *EchoTimer

	// Timer for periodic reports
	Timer     Timer
	RestTicks uint32
	NextClock uint32

	// Set by the report timer, cleared by EchoTask once echo_state is sent
	reportPending bool
}

// There is one capture unit, so at most one sensor.
var echoSensors = make(map[uint8]*EchoSensor)

// Wake flag for the echo task
var echoWake bool

// InitEchoCommands registers echo timer commands with the command registry
func InitEchoCommands() {
	RegisterCommand("config_echo", "oid=%c trigger_pin=%u max_skipped=%c", handleConfigEcho)
	RegisterCommand("query_echo", "oid=%c clock=%u rest_ticks=%u", handleQueryEcho)
	RegisterCommand("get_echo", "oid=%c", handleGetEcho)

	RegisterResponse("echo_state", "oid=%c next_clock=%u distance=%hu pending=%c cycles=%u")

	RegisterConstant("ECHO_MICROS_PER_MM", uint32(EchoMicrosPerMM))
}

// ConfigureEcho builds, installs and starts the echo timer for oid using the
// registered GPIO driver, capture timer and busy wait. Reconfiguring the same
// oid and pin only updates the overlap guard.
func ConfigureEcho(oid uint8, triggerPin GPIOPin, maxSkipped uint8) (*EchoSensor, error) {
	if s, ok := echoSensors[oid]; ok && s.TriggerPin == triggerPin {
		s.Echo.SetMaxSkippedTriggers(maxSkipped)
		return s, nil
	}
	if len(echoSensors) > 0 || ActiveEchoTimer() != nil {
		return nil, ErrEchoConfigured
	}

	gpio := MustGPIO()
	if err := gpio.ConfigureOutput(triggerPin); err != nil {
		return nil, err
	}

	echo, err := NewEchoTimer(EchoConfig{
		CPUFrequency:       CPUFrequency(),
		MaxSkippedTriggers: maxSkipped,
		Delay:              busyWait,
	}, MustCaptureTimer(), GPIOTrigger(gpio, triggerPin))
	if err != nil {
		return nil, err
	}

	InstallEchoTimer(echo)
	echo.Start()

	s := &EchoSensor{
		OID:        oid,
		TriggerPin: triggerPin,
		Echo:       echo,
	}
	echoSensors[oid] = s
	DebugPrintln("[echo] configured oid=" + utoa(uint32(oid)) + " compare=" + utoa(uint32(echo.Clock().CompareTicks)))
	return s, nil
}

// handleConfigEcho configures the echo timer
// Format: config_echo oid=%c trigger_pin=%u max_skipped=%c
func handleConfigEcho(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	maxSkipped, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	_, err = ConfigureEcho(uint8(oid), GPIOPin(pin), uint8(maxSkipped))
	return err
}

// handleQueryEcho starts (or with rest_ticks=0 stops) periodic reports
// Format: query_echo oid=%c clock=%u rest_ticks=%u
func handleQueryEcho(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	restTicks, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	s, ok := echoSensors[uint8(oid)]
	if !ok {
		return ErrUnknownOID
	}

	CancelTimer(&s.Timer)
	s.RestTicks = restTicks
	s.NextClock = clock

	if restTicks == 0 {
		return nil
	}

	s.Timer.WakeTime = clock
	s.Timer.Handler = echoReportEvent
	ScheduleTimer(&s.Timer)

	return nil
}

// handleGetEcho sends one echo_state immediately
// Format: get_echo oid=%c
func handleGetEcho(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	s, ok := echoSensors[uint8(oid)]
	if !ok {
		return ErrUnknownOID
	}

	sendEchoState(s, s.NextClock)
	return nil
}

// echoReportEvent is the timer handler for periodic reports. It only flags
// the report; EchoTask sends it from task context.
func echoReportEvent(t *Timer) uint8 {
	var s *EchoSensor
	for _, sPtr := range echoSensors {
		if sPtr != nil && &sPtr.Timer == t {
			s = sPtr
			break
		}
	}

	if s == nil || s.RestTicks == 0 {
		return SF_DONE
	}

	s.NextClock += s.RestTicks
	s.reportPending = true
	echoWake = true

	t.WakeTime = s.NextClock
	return SF_RESCHEDULE
}

// EchoTask sends pending echo_state reports. Run it from the main loop.
func EchoTask() {
	state := disableInterrupts()
	if !echoWake {
		restoreInterrupts(state)
		return
	}
	echoWake = false
	restoreInterrupts(state)

	for _, s := range echoSensors {
		state = disableInterrupts()
		if s == nil || !s.reportPending {
			restoreInterrupts(state)
			continue
		}
		s.reportPending = false
		nextClock := s.NextClock
		restoreInterrupts(state)

		sendEchoState(s, nextClock)
	}
}

func sendEchoState(s *EchoSensor, nextClock uint32) {
	snap := s.Echo.Snapshot()
	SendResponse("echo_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(s.OID))
		protocol.EncodeVLQUint(output, nextClock)
		protocol.EncodeVLQUint(output, uint32(snap.Distance))
		if snap.Pending {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
		protocol.EncodeVLQUint(output, snap.Cycles)
	})
}

// EchoSensorByOID returns the configured sensor for oid
func EchoSensorByOID(oid uint8) (*EchoSensor, bool) {
	s, ok := echoSensors[oid]
	return s, ok
}

// resetEchoSensors forgets all sensors and the installed timer
func resetEchoSensors() {
	for _, s := range echoSensors {
		CancelTimer(&s.Timer)
	}
	echoSensors = make(map[uint8]*EchoSensor)
	echoWake = false
	InstallEchoTimer(nil)
}
