package protocol

import "sync/atomic"

// CommandHandler is a function type for handling decoded commands
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the link: it acknowledges host blocks and
// dispatches the commands inside them.
type Transport struct {
	scanner blockScanner

	// Expected sequence from host (0x10-0x1F). ACKs and responses carry it too.
	nextSequence uint32

	output        OutputBuffer
	handler       CommandHandler
	resetCallback func() // Called when host reset is detected
	flushCallback func() // Called to push an ACK out immediately
}

// NewTransport creates a new Transport instance
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		scanner:      newBlockScanner(true),
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive processes incoming data and pops whatever it consumed
func (t *Transport) Receive(input InputBuffer) {
	consumed := t.scanner.scan(input.Data(), t.encodeAckNak, t.handleBlock)
	if consumed > 0 {
		input.Pop(consumed)
	}
}

func (t *Transport) handleBlock(blk MessageBlock) {
	expected := uint8(atomic.LoadUint32(&t.nextSequence))

	// A host that restarted begins again at MessageDest
	if blk.Sequence == MessageDest && expected != MessageDest {
		atomic.StoreUint32(&t.nextSequence, MessageDest)
		expected = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	if blk.Sequence == expected {
		atomic.StoreUint32(&t.nextSequence, uint32(nextSequence(blk.Sequence)))
		_ = t.parseFrame(blk.Data)
	}

	// Always answer: with a stale sequence this is a NAK carrying the expected one
	t.encodeAckNak()
}

// parseFrame dispatches every command in a block
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking handler leaves the frame in an unknown state
			t.scanner.setSynchronized(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.scanner.setSynchronized(false)
			return err
		}

		if t.handler != nil {
			if err := t.handler(uint16(cmdID), &frame); err != nil {
				// Arguments of the rest of the block can't be trusted
				return err
			}
		}
	}
	return nil
}

// encodeAckNak writes an empty block carrying the next expected sequence.
// It is flushed right away, the host waits for it before reading responses.
func (t *Transport) encodeAckNak() {
	ns := uint8(atomic.LoadUint32(&t.nextSequence))
	ack, _ := EncodeBlock(ns, nil)
	t.output.Output(ack)

	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame encodes a block in place in the output buffer
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	cursor := t.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&t.nextSequence))
	t.output.Output([]byte{0, seq})

	frameData(t.output)

	changed := len(t.output.DataSince(cursor))
	t.output.Update(cursor, uint8(changed+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(cursor))
	t.output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}

// SendCommand sends a message with arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset resets the transport state (useful after a link drop)
func (t *Transport) Reset() {
	t.scanner.setSynchronized(true)
	atomic.StoreUint32(&t.nextSequence, MessageDest)

	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets a callback to be called when host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback that pushes ACKs out immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}
