// Package mcu is the host-side client of the sensor firmware: it reads the
// message dictionary, sends commands by name and decodes responses.
package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"sonar/host/serial"
	"sonar/protocol"
)

var (
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("unknown command")
)

// DefaultTimeout bounds every request/response exchange
const DefaultTimeout = time.Second

// Dictionary is the JSON document the firmware serves through identify
type Dictionary struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

// The only messages usable before the dictionary is known
var (
	identifyFormat         = MessageFormat{ID: 1, Name: "identify", Params: []Param{{"offset", ParamUint32}, {"count", ParamByte}}}
	identifyResponseFormat = MessageFormat{ID: 0, Name: "identify_response", Params: []Param{{"offset", ParamUint32}, {"data", ParamBuffer}}}
)

type waiter struct {
	name  string
	match func(Message) bool
	ch    chan Message
}

// MCU is a connection to one sensor board
type MCU struct {
	transport *protocol.HostTransport

	mu             sync.Mutex
	dictionary     *Dictionary
	dictionaryData []byte
	commands       map[string]MessageFormat
	responses      map[uint16]MessageFormat
	waiters        []*waiter
	subscribers    map[chan EchoReport]struct{}
	unhandled      int
}

// New starts a client on an open byte stream
func New(port io.ReadWriteCloser) *MCU {
	m := &MCU{
		commands:    map[string]MessageFormat{identifyFormat.Name: identifyFormat},
		responses:   map[uint16]MessageFormat{identifyResponseFormat.ID: identifyResponseFormat},
		subscribers: make(map[chan EchoReport]struct{}),
	}
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	return m
}

// Connect opens the serial port and starts a client on it
func Connect(cfg serial.Config) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	m := New(port)

	// A board that was just opened may reset and need a moment to boot
	time.Sleep(100 * time.Millisecond)
	return m, nil
}

// Close stops the transport and closes the port
func (m *MCU) Close() error {
	return m.transport.Close()
}

// RetrieveDictionary reads the dictionary in identify chunks and installs
// its message formats
func (m *MCU) RetrieveDictionary() error {
	const chunkSize = 40

	var buf bytes.Buffer
	for offset := uint32(0); ; {
		msg, err := m.Request("identify", "identify_response",
			func(msg Message) bool { return uint32(msg.Args["offset"]) == offset },
			offset, chunkSize)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", offset, err)
		}

		chunk := msg.Data["data"]
		buf.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < chunkSize {
			break
		}
	}

	return m.loadDictionary(buf.Bytes())
}

func (m *MCU) loadDictionary(data []byte) error {
	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	commands := make(map[string]MessageFormat, len(dict.Commands))
	for format, id := range dict.Commands {
		mf, err := ParseFormat(uint16(id), format)
		if err != nil {
			return err
		}
		commands[mf.Name] = mf
	}

	responses := make(map[uint16]MessageFormat, len(dict.Responses))
	for format, id := range dict.Responses {
		mf, err := ParseFormat(uint16(id), format)
		if err != nil {
			return err
		}
		responses[mf.ID] = mf
	}

	m.mu.Lock()
	m.dictionary = dict
	m.dictionaryData = data
	m.commands = commands
	m.responses = responses
	m.mu.Unlock()
	return nil
}

// Dictionary returns the parsed dictionary, nil before RetrieveDictionary
func (m *MCU) Dictionary() *Dictionary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionary
}

// DictionaryRaw returns the dictionary JSON as served by the firmware
func (m *MCU) DictionaryRaw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dictionaryData
}

// Constant returns a dictionary config value
func (m *MCU) Constant(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dictionary == nil {
		return "", false
	}
	v, ok := m.dictionary.Config[name]
	return v, ok
}

// ClockFrequency returns CLOCK_FREQ, the rate of the firmware's clock
func (m *MCU) ClockFrequency() (uint32, error) {
	v, ok := m.Constant("CLOCK_FREQ")
	if !ok {
		return 0, ErrNoDictionary
	}
	f, err := strconv.ParseUint(v, 10, 32)
	if err != nil || f == 0 {
		return 0, fmt.Errorf("bad CLOCK_FREQ %q", v)
	}
	return uint32(f), nil
}

// Formats lists the known commands sorted by ID
func (m *MCU) Formats() []MessageFormat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageFormat, 0, len(m.commands))
	for _, mf := range m.commands {
		out = append(out, mf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Send sends a command by name and waits for its ACK
func (m *MCU) Send(name string, args ...uint32) error {
	m.mu.Lock()
	mf, ok := m.commands[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	enc, err := mf.Args(args...)
	if err != nil {
		return err
	}
	if err := m.transport.SendCommand(mf.ID, enc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Request sends a command and waits for the first response called
// response that satisfies match (nil matches anything)
func (m *MCU) Request(name, response string, match func(Message) bool, args ...uint32) (Message, error) {
	w := &waiter{name: response, match: match, ch: make(chan Message, 1)}
	m.mu.Lock()
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()
	defer m.removeWaiter(w)

	if err := m.Send(name, args...); err != nil {
		return Message{}, err
	}

	select {
	case msg := <-w.ch:
		return msg, nil
	case <-time.After(DefaultTimeout):
		return Message{}, fmt.Errorf("no %s after %s: timeout after %v", response, name, DefaultTimeout)
	}
}

func (m *MCU) removeWaiter(w *waiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.waiters {
		if x == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

// handleResponse runs on the transport's read loop for every message
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	m.mu.Lock()
	mf, ok := m.responses[cmdID]
	m.mu.Unlock()
	if !ok {
		m.mu.Lock()
		m.unhandled++
		m.mu.Unlock()
		return fmt.Errorf("unknown response id %d", cmdID)
	}

	msg, err := mf.Decode(data)
	if err != nil {
		return err
	}

	if msg.Name == "echo_state" {
		if report, err := DecodeEchoState(msg); err == nil {
			m.publish(report)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiters {
		if w.name == msg.Name && (w.match == nil || w.match(msg)) {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			w.ch <- msg
			break
		}
	}
	return nil
}

// Unhandled returns how many messages arrived with an ID missing from the
// dictionary
func (m *MCU) Unhandled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unhandled
}

// GetClock returns the firmware clock
func (m *MCU) GetClock() (uint32, error) {
	msg, err := m.Request("get_clock", "clock", nil)
	if err != nil {
		return 0, err
	}
	return uint32(msg.Args["clock"]), nil
}

// GetConfig returns whether the firmware holds a finalized config and its CRC
func (m *MCU) GetConfig() (bool, uint32, error) {
	msg, err := m.Request("get_config", "config", nil)
	if err != nil {
		return false, 0, err
	}
	return msg.Args["is_config"] != 0, uint32(msg.Args["crc"]), nil
}
