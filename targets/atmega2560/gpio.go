//go:build atmega2560

package main

import (
	"machine"

	"sonar/core"
)

// avrGPIODriver maps core pin numbers straight onto machine.Pin
// (PA0 = 0 ... PL7 = 87)
type avrGPIODriver struct{}

const maxPin = machine.PL7

func toPin(pin core.GPIOPin) (machine.Pin, error) {
	if pin > core.GPIOPin(maxPin) {
		return machine.NoPin, core.ErrInvalidPin
	}
	return machine.Pin(pin), nil
}

func (avrGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	p, err := toPin(pin)
	if err != nil {
		return err
	}
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Low()
	return nil
}

func (avrGPIODriver) ConfigureInput(pin core.GPIOPin) error {
	p, err := toPin(pin)
	if err != nil {
		return err
	}
	p.Configure(machine.PinConfig{Mode: machine.PinInput})
	return nil
}

func (avrGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, err := toPin(pin)
	if err != nil {
		return err
	}
	p.Set(value)
	return nil
}

func (avrGPIODriver) ReadPin(pin core.GPIOPin) bool {
	p, err := toPin(pin)
	if err != nil {
		return false
	}
	return p.Get()
}
