package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var ErrTransportClosed = errors.New("transport stopped")

// ResponseHandler is called for every response message received from the MCU
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host side of the link: it sends command blocks,
// waits for their ACK and hands responses to a handler and a channel.
type HostTransport struct {
	port io.ReadWriteCloser

	// Sequence of the next block we send (0x10-0x1F)
	currentSeq uint32

	scanner     blockScanner
	inputBuffer *FifoBuffer

	ackChan      chan MessageBlock
	responseChan chan MessageBlock

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	// One command in flight at a time
	sendMutex sync.Mutex

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport creates a host transport and starts its read loop
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		currentSeq:   MessageDest,
		scanner:      newBlockScanner(false),
		inputBuffer:  NewFifoBuffer(512),
		ackChan:      make(chan MessageBlock, 1),
		responseChan: make(chan MessageBlock, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SendCommand sends a command to the MCU and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command with a custom ACK timeout
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.sendMutex.Lock()
	defer t.sendMutex.Unlock()

	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	msg, err := EncodeBlock(seq, scratch.Result())
	if err != nil {
		return fmt.Errorf("failed to build command %d: %w", cmdID, err)
	}

	n, err := t.port.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	return t.waitForAck(seq, timeout)
}

// waitForAck waits for the ACK of the block sent with seq
func (t *HostTransport) waitForAck(seq uint8, timeout time.Duration) error {
	expected := nextSequence(seq)
	deadline := time.After(timeout)

	for {
		select {
		case ack := <-t.ackChan:
			if ack.Sequence != expected {
				// Stale ACK or NAK for an earlier block, keep waiting
				continue
			}
			atomic.StoreUint32(&t.currentSeq, uint32(expected))
			return nil

		case <-deadline:
			return fmt.Errorf("ACK timeout after %v", timeout)

		case <-t.stopChan:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse receives the next response block with timeout
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (MessageBlock, error) {
	select {
	case resp := <-t.responseChan:
		return resp, nil

	case <-time.After(timeout):
		return MessageBlock{}, fmt.Errorf("response timeout after %v", timeout)

	case <-t.stopChan:
		return MessageBlock{}, ErrTransportClosed
	}
}

// SetResponseHandler sets a callback for handling responses asynchronously
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.responseHandler = handler
	t.handlerMu.Unlock()
}

// readLoop continuously reads from the port and processes blocks
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		if n > 0 {
			t.inputBuffer.Write(buffer[:n])
			t.processMessages()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processMessages parses and dispatches blocks from the input buffer
func (t *HostTransport) processMessages() {
	consumed := t.scanner.scan(t.inputBuffer.Data(), nil, t.dispatchMessage)
	if consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchMessage routes an ACK or a response. blk.Data aliases the input
// buffer, so it is copied before leaving this goroutine.
func (t *HostTransport) dispatchMessage(blk MessageBlock) {
	if len(blk.Data) == 0 {
		select {
		case t.ackChan <- blk:
		default:
			// Previous ACK not consumed, replace it
			select {
			case <-t.ackChan:
			default:
			}
			t.ackChan <- blk
		}
		return
	}

	payload := make([]byte, len(blk.Data))
	copy(payload, blk.Data)
	blk.Data = payload

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := payload
		for len(data) > 0 {
			cmdID, err := DecodeVLQUint(&data)
			if err != nil {
				break
			}
			if err := handler(uint16(cmdID), &data); err != nil {
				// Unknown message: the rest of the block can't be decoded
				break
			}
		}
	}

	select {
	case t.responseChan <- blk:
	default:
		// Response channel full, drop oldest
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- blk
	}
}

// Close stops the transport and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}

// Reset resets the sequence and drops buffered input
func (t *HostTransport) Reset() {
	atomic.StoreUint32(&t.currentSeq, MessageDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}
}

// CurrentSequence returns the sequence of the next block sent
func (t *HostTransport) CurrentSequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}
