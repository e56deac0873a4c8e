//go:build atmega2560

package main

import (
	"device/avr"
	"runtime/interrupt"

	"sonar/core"
)

// Timer4 control bits. Values are masks within their register.
const (
	tccr4bICNC = 1 << 7 // input capture noise canceler
	tccr4bICES = 1 << 6 // capture on rising edge when set
	tccr4bWGM2 = 1 << 3 // CTC with OCR4A as TOP

	timsk4ICIE  = 1 << 5
	timsk4OCIEA = 1 << 1

	tifr4ICF  = 1 << 5
	tifr4OCFA = 1 << 1
)

// timer4 drives the ATmega2560 16-bit Timer4: compare match A paces the
// trigger, input capture on ICP4 (PL0) timestamps the echo edges.
type timer4 struct{}

func clockSelect(prescaler uint16) uint8 {
	switch prescaler {
	case 1:
		return 0b001
	case 8:
		return 0b010
	case 64:
		return 0b011
	case 256:
		return 0b100
	case 1024:
		return 0b101
	}
	return 0 // stopped
}

func (timer4) Configure(cfg core.TimerConfig) {
	state := interrupt.Disable()

	avr.TCCR4B.Set(0) // stop while reprogramming
	avr.TCCR4A.Set(0)

	// 16-bit writes go high byte first
	avr.OCR4AH.Set(uint8(cfg.CompareTicks >> 8))
	avr.OCR4AL.Set(uint8(cfg.CompareTicks))
	avr.TCNT4H.Set(0)
	avr.TCNT4L.Set(0)

	ctrl := uint8(tccr4bWGM2) | clockSelect(cfg.Prescaler)
	if cfg.NoiseCanceler {
		ctrl |= tccr4bICNC
	}
	if cfg.Edge == core.AwaitingRisingEdge {
		ctrl |= tccr4bICES
	}

	// Flags clear by writing one
	avr.TIFR4.Set(tifr4ICF | tifr4OCFA)
	avr.TIMSK4.Set(timsk4ICIE | timsk4OCIEA)
	avr.TCCR4B.Set(ctrl)

	interrupt.Restore(state)
	if cfg.EnableInterrupts {
		avr.Asm("sei")
	}
}

func (timer4) SetCaptureEdge(edge core.CaptureEdge) {
	if edge == core.AwaitingRisingEdge {
		avr.TCCR4B.SetBits(tccr4bICES)
	} else {
		avr.TCCR4B.ClearBits(tccr4bICES)
	}
	// A polarity change can raise a spurious capture flag
	avr.TIFR4.Set(tifr4ICF)
}

// CaptureValue reads ICR4, low byte first so the high byte is latched
func (timer4) CaptureValue() uint16 {
	lo := avr.ICR4L.Get()
	hi := avr.ICR4H.Get()
	return uint16(hi)<<8 | uint16(lo)
}

func (timer4) ResetCounter() {
	avr.TCNT4H.Set(0)
	avr.TCNT4L.Set(0)
}

func handleCompareMatch(interrupt.Interrupt) {
	core.CompareMatchISR()
}

func handleCapture(interrupt.Interrupt) {
	core.CaptureISR()
}

// InitCaptureTimer registers Timer4 and its two vectors with the core.
// The timer stays stopped until an echo sensor is configured.
func InitCaptureTimer() {
	interrupt.New(avr.IRQ_TIMER4_COMPA, handleCompareMatch)
	interrupt.New(avr.IRQ_TIMER4_CAPT, handleCapture)

	core.SetCaptureTimer(timer4{})
}
