package core

// SystemClockFreq is the rate of the scheduler clock reported to the host as
// CLOCK_FREQ. Targets feed it from a 1 MHz microsecond counter.
const SystemClockFreq = 1000000

// GetTime returns the current system time in scheduler ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// TimerFromUS converts microseconds to scheduler ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * SystemClockFreq / 1000000)
}

// TimerToUS converts scheduler ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / SystemClockFreq)
}

// timerBefore reports whether a is earlier than b, tolerating 32-bit wrap
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ProcessTimers runs any scheduled timers that are due
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
