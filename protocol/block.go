package protocol

import (
	"bytes"
	"sync/atomic"
)

// EncodeBlock frames payload with the given sequence byte
func EncodeBlock(seq uint8, payload []byte) ([]byte, error) {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, ErrMessageTooLong
	}

	msg := make([]byte, 0, msgLen)
	msg = append(msg, uint8(msgLen), seq)
	msg = append(msg, payload...)
	crc := CRC16(msg)
	return append(msg, uint8(crc>>8), uint8(crc), MessageValueSync), nil
}

// blockScanner splits a byte stream into message blocks. After any framing
// error it drops input up to the next sync byte.
type blockScanner struct {
	synchronized uint32 // atomic bool

	// destOnly rejects blocks whose sequence byte lacks MessageDest
	destOnly bool
}

func newBlockScanner(destOnly bool) blockScanner {
	return blockScanner{synchronized: 1, destOnly: destOnly}
}

// scan calls fn for each valid block in data and returns the number of bytes
// consumed. A trailing partial block is left for the next call. onResync runs
// whenever framing is regained.
func (s *blockScanner) scan(data []byte, onResync func(), fn func(blk MessageBlock)) int {
	total := len(data)

	for len(data) > 0 {
		if !s.isSynchronized() {
			idx := bytes.IndexByte(data, MessageValueSync)
			if idx < 0 {
				data = nil
				break
			}
			data = data[idx+1:]
			s.setSynchronized(true)
			if onResync != nil {
				onResync()
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			s.setSynchronized(false)
			continue
		}

		seq := data[MessagePositionSeq]
		if s.destOnly && seq&^MessageSeqMask != MessageDest {
			s.setSynchronized(false)
			continue
		}

		if len(data) < msgLen {
			break
		}

		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			s.setSynchronized(false)
			continue
		}

		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			s.setSynchronized(false)
			continue
		}

		blk := MessageBlock{
			Length:   uint8(msgLen),
			Sequence: seq,
			Data:     data[MessageHeaderSize : msgLen-MessageTrailerSize],
			CRC:      frameCRC,
		}
		data = data[msgLen:]
		fn(blk)
	}

	return total - len(data)
}

func (s *blockScanner) isSynchronized() bool {
	return atomic.LoadUint32(&s.synchronized) != 0
}

func (s *blockScanner) setSynchronized(val bool) {
	if val {
		atomic.StoreUint32(&s.synchronized, 1)
	} else {
		atomic.StoreUint32(&s.synchronized, 0)
	}
}
