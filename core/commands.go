package core

import (
	"sync/atomic"

	"sonar/protocol"
)

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC uint32 // atomic
}

var globalState = &FirmwareState{}

// InitCoreCommands registers the protocol bootstrap and housekeeping commands.
// identify_response and identify must be IDs 0 and 1: the host reads the
// dictionary through them before it knows any other ID.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s") // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("dump_trace", "", handleDumpTrace)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u")

	RegisterConstant("CLOCK_FREQ", uint32(SystemClockFreq))
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})

	return nil
}

// handleGetClock returns the current clock value
func handleGetClock(data *[]byte) error {
	clock := GetTime()

	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})

	return nil
}

// handleGetConfig returns the configuration state
func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)

	SendResponse("config", func(output protocol.OutputBuffer) {
		if crc != 0 {
			protocol.EncodeVLQUint(output, 1)
		} else {
			protocol.EncodeVLQUint(output, 0)
		}
		protocol.EncodeVLQUint(output, crc)
	})

	return nil
}

// handleConfigReset forgets the finalized configuration and all configured
// objects. The capture interrupts keep firing but no longer reach a sensor.
func handleConfigReset(data *[]byte) error {
	atomic.StoreUint32(&globalState.configCRC, 0)
	resetEchoSensors()
	return nil
}

// handleFinalizeConfig stores the host's configuration CRC
func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

func handleDumpTrace(data *[]byte) error {
	DumpTimingRing()
	return nil
}

// ResetFirmwareState clears the configuration state after a host reset
func ResetFirmwareState() {
	atomic.StoreUint32(&globalState.configCRC, 0)
}
