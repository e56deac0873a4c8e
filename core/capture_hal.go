package core

// TimerConfig is what the echo timer asks of the capture peripheral.
type TimerConfig struct {
	Prescaler     uint16      // Clock divider (1, 8, 64, 256 or 1024)
	CompareTicks  uint16      // Compare-match threshold, sets the trigger cadence
	NoiseCanceler bool        // Require four equal samples before a capture fires
	Edge          CaptureEdge // Initial capture polarity

	EnableInterrupts bool // Set the global interrupt flag once programmed
}

// CaptureTimer is the abstract timer/input-capture unit that the echo timer drives.
// One free-running 16-bit counter serves both the compare-match (trigger cadence)
// and the input-capture (echo edges) interrupts.
type CaptureTimer interface {
	// Configure programs prescaler, compare threshold, noise canceler and the
	// initial polarity, then enables the compare-match and capture interrupts.
	// With EnableInterrupts set it also enables interrupts globally.
	// Register writes cannot fail, so there is no error return.
	Configure(cfg TimerConfig)

	// SetCaptureEdge selects the polarity of the next capture
	SetCaptureEdge(edge CaptureEdge)

	// CaptureValue returns the counter value latched by the last capture
	CaptureValue() uint16

	// ResetCounter sets the free-running counter back to zero
	ResetCounter()
}

// BusyWait spins for the given number of microseconds without yielding.
type BusyWait func(us uint32)

var (
	captureTimer CaptureTimer
	busyWait     BusyWait
	cpuFrequency uint32 = 16000000
)

// SetCaptureTimer is called by target-specific code to register its capture unit.
func SetCaptureTimer(t CaptureTimer) {
	captureTimer = t
}

// MustCaptureTimer returns the configured capture unit or panics if missing.
func MustCaptureTimer() CaptureTimer {
	if captureTimer == nil {
		panic("capture timer not configured")
	}
	return captureTimer
}

// SetBusyWait registers the target's calibrated microsecond spin loop.
func SetBusyWait(w BusyWait) {
	busyWait = w
}

// SetCPUFrequency records the system clock the capture timer is derived from.
func SetCPUFrequency(hz uint32) {
	cpuFrequency = hz
}

// CPUFrequency returns the registered system clock frequency in Hz.
func CPUFrequency() uint32 {
	return cpuFrequency
}
