// Package protocol implements the Klipper-style framing used between the
// sensor firmware and the host: VLQ-encoded messages inside CRC16-checked blocks.
package protocol

import "errors"

// Version represents the firmware protocol version
const Version = "0.1.0"

// Block layout: <len><seq><payload...><crc hi><crc lo><sync>
const (
	MessageMax         = 512 // Output scratch buffer size, may hold several blocks
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Message sequence masks
	MessageSeqMask = 0x0F
)

var ErrMessageTooLong = errors.New("message exceeds maximum block length")

// MessageBlock is one framed message. Data aliases the input buffer.
type MessageBlock struct {
	Length   uint8
	Sequence uint8
	Data     []byte
	CRC      uint16
}

// nextSequence advances a sequence byte within the 0x10-0x1F window
func nextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
