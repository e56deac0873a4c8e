//go:build atmega2560

package main

import (
	"machine"

	"tinygo.org/x/drivers/ssd1306"

	"sonar/core"
	"sonar/display"
)

const panelInterval = 200000 // us between panel refreshes

var (
	panel          *display.Panel
	panelNextClock uint32
)

// InitDisplay brings up the 128x32 SSD1306 on the Mega's SDA/SCL (20/21)
func InitDisplay() {
	if err := machine.I2C0.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz}); err != nil {
		core.DebugPrintln("[display] i2c: " + err.Error())
		return
	}

	dev := ssd1306.NewI2C(machine.I2C0)
	dev.Configure(ssd1306.Config{
		Width:    128,
		Height:   32,
		Address:  ssd1306.Address_128_32,
		VccState: ssd1306.SWITCHCAPVCC,
	})
	dev.ClearDisplay()

	panel = display.NewPanel(&dev)
}

// updateDisplay redraws the panel from the active echo timer at a fixed pace
func updateDisplay() {
	if panel == nil {
		return
	}
	now := core.GetTime()
	if int32(now-panelNextClock) < 0 {
		return
	}
	panelNextClock = now + core.TimerFromUS(panelInterval)

	echo := core.ActiveEchoTimer()
	if echo == nil {
		return
	}
	if err := panel.ShowSnapshot(echo.Snapshot()); err != nil {
		core.DebugPrintln("[display] " + err.Error())
	}
}
