package core

import "errors"

// ErrUnsupportedClock is returned when no prescaler yields a whole number of
// microseconds per tick with a trigger cadence that fits the 16-bit counter.
var ErrUnsupportedClock = errors.New("unsupported clock frequency for echo timer")

// Prescalers offered by the 16-bit AVR timers, in ascending order
var capturePrescalers = [...]uint16{1, 8, 64, 256, 1024}

// ClockSettings is the tick geometry derived once from the CPU clock.
type ClockSettings struct {
	CPUFrequency  uint32
	Prescaler     uint16
	MicrosPerTick uint8  // Tick to time conversion factor used by EchoDistance
	CompareTicks  uint16 // Counter threshold for one trigger cycle
}

// NewClockSettings picks the smallest prescaler for which one tick is a whole
// number of microseconds and cycleMicros still fits in the 16-bit counter.
//
// 16 MHz gives prescaler 64 and 4 us/tick (17500 ticks per 70 ms cycle),
// 8 MHz gives 64 and 8 us/tick, 1 MHz gives 8 and 8 us/tick.
func NewClockSettings(cpuHz, cycleMicros uint32) (ClockSettings, error) {
	if cpuHz == 0 || cycleMicros == 0 {
		return ClockSettings{}, ErrUnsupportedClock
	}

	for _, p := range capturePrescalers {
		scaled := uint64(p) * 1000000
		if scaled%uint64(cpuHz) != 0 {
			continue
		}
		usPerTick := scaled / uint64(cpuHz)
		if usPerTick == 0 || usPerTick > 0xFF {
			continue
		}
		compare := uint64(cycleMicros) / usPerTick
		if compare == 0 || compare > 0xFFFF {
			continue
		}
		return ClockSettings{
			CPUFrequency:  cpuHz,
			Prescaler:     p,
			MicrosPerTick: uint8(usPerTick),
			CompareTicks:  uint16(compare),
		}, nil
	}

	return ClockSettings{}, ErrUnsupportedClock
}

// TicksToMicros converts raw counter ticks to microseconds
func (c ClockSettings) TicksToMicros(ticks uint16) uint32 {
	return uint32(ticks) * uint32(c.MicrosPerTick)
}
