// Package serial opens the link to the sensor firmware.
package serial

import (
	"errors"
	"io"
	"time"
)

var ErrNoDevice = errors.New("serial device path is empty")

// Port is the byte stream the host transport runs on. Tests substitute
// net.Pipe or any other io.ReadWriteCloser.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data not yet transmitted or read
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	Device      string        // e.g. "/dev/ttyACM0", "COM3"
	Baud        int           // must match the firmware's USART setting
	ReadTimeout time.Duration // 0 blocks
}

// DefaultConfig returns the settings the firmware ships with
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Validate checks the fields Open needs
func (c Config) Validate() error {
	if c.Device == "" {
		return ErrNoDevice
	}
	if c.Baud <= 0 {
		return errors.New("baud rate must be positive")
	}
	if c.ReadTimeout < 0 {
		return errors.New("read timeout must not be negative")
	}
	return nil
}
