//go:build atmega2560

package main

import (
	"time"

	"sonar/core"
)

const cpuHz = 16_000_000

var boot time.Time

// InitClock registers the CPU clock used to derive the Timer4 settings and
// starts the 1 MHz protocol clock. TinyGo drives time from Timer0, so
// Timer4 stays free for the echo timer.
func InitClock() {
	boot = time.Now()
	core.SetCPUFrequency(cpuHz)
	core.RegisterConstant("MCU", "atmega2560")
}

// UpdateSystemTime publishes the microsecond uptime as the protocol clock
func UpdateSystemTime() {
	core.SetTime(uint32(time.Since(boot) / time.Microsecond))
}
