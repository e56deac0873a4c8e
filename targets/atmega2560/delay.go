//go:build atmega2560

package main

import (
	"device"

	"sonar/core"
)

// loopsPerMicro is the spin count for one microsecond. Each iteration is
// a nop plus a 32-bit decrement and branch, at least four cycles.
var loopsPerMicro uint32 = 4

func initDelay() {
	loopsPerMicro = core.CPUFrequency() / 4_000_000
	if loopsPerMicro == 0 {
		loopsPerMicro = 1
	}
	core.SetBusyWait(busyWait)
}

// busyWait spins for at least us microseconds. It runs inside the
// compare-match handler, so it cannot sleep.
func busyWait(us uint32) {
	for n := us * loopsPerMicro; n > 0; n-- {
		device.Asm("nop")
	}
}
