package core

import "errors"

// ErrInvalidPin is returned by drivers for pin numbers the chip does not have
var ErrInvalidPin = errors.New("invalid pin")

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInput configures a pin as a floating digital input
	ConfigureInput(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// ReadPin reads the current pin state
	ReadPin(pin GPIOPin) bool
}

// Global singleton used by core code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}

// TriggerPin drives the sensor's trigger input.
type TriggerPin interface {
	Set(high bool)
}

type gpioTrigger struct {
	driver GPIODriver
	pin    GPIOPin
}

// GPIOTrigger adapts one pin of a GPIODriver to a TriggerPin.
func GPIOTrigger(d GPIODriver, pin GPIOPin) TriggerPin {
	return &gpioTrigger{driver: d, pin: pin}
}

// Set drives the pin. A failed write is recorded in the trace ring.
func (g *gpioTrigger) Set(high bool) {
	if err := g.driver.SetPin(g.pin, high); err != nil {
		var level uint32
		if high {
			level = 1
		}
		RecordTiming(EvtTriggerFault, 0, GetTime(), uint32(g.pin), level)
	}
}
