//go:build atmega2560

// Firmware for an Arduino Mega 2560 timing an HC-SR04 style ultrasonic
// sensor: trigger on PC4 (pin 33), echo on ICP4 (PL0, pin 49).
package main

import (
	"machine"
	"time"

	"sonar/core"
	"sonar/protocol"
)

const (
	echoOID    = 0
	triggerPin = machine.PC4
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgErrors uint32
)

func main() {
	InitSerial()
	InitDebug()
	InitClock()

	core.InitCoreCommands()
	core.InitEchoCommands()

	core.SetGPIODriver(avrGPIODriver{})
	initDelay()
	InitCaptureTimer()

	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(128)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	transport.SetFlushCallback(writeSerial)
	core.SetGlobalTransport(transport)

	// Measure from power-up; the host can reconfigure the sensor later
	if _, err := core.ConfigureEcho(echoOID, core.GPIOPin(triggerPin), 0); err != nil {
		core.DebugPrintln("[echo] boot config: " + err.Error())
	}

	InitDisplay()

	for {
		UpdateSystemTime()

		readSerial()
		if inputBuffer.Available() > 0 {
			transport.Receive(inputBuffer)
		}
		writeSerial()

		core.ProcessTimers()
		core.EchoTask()
		writeSerial()

		updateDisplay()

		time.Sleep(50 * time.Microsecond)
	}
}
