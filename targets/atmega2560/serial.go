//go:build atmega2560

package main

import (
	"machine"

	"sonar/core"
)

const (
	hostBaud  = 250000
	debugBaud = 115200
)

// InitSerial opens the host link on USART0, the USB bridge on Mega boards
func InitSerial() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: hostBaud})
}

// readSerial moves whatever the UART ring buffer holds into the input FIFO
func readSerial() {
	for machine.Serial.Buffered() > 0 && inputBuffer.Free() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			msgErrors++
			return
		}
		inputBuffer.Write([]byte{b})
	}
}

// writeSerial flushes the output buffer to the host
func writeSerial() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	if _, err := machine.Serial.Write(result); err != nil {
		msgErrors++
	}
	outputBuffer.Reset()
}

// InitDebug routes core debug output to USART1 (TX1, pin 18). The host
// link can't carry free text without corrupting framing.
func InitDebug() {
	uart := machine.UART1
	if err := uart.Configure(machine.UARTConfig{BaudRate: debugBaud}); err != nil {
		return
	}
	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s))
		uart.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
}
