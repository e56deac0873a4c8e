package mcu

import (
	"fmt"
	"time"
)

// reportLead is how far ahead of the current clock periodic reports start
const reportLead = 100 * time.Millisecond

// EchoReport is one decoded echo_state message
type EchoReport struct {
	OID       uint8  `json:"oid"`
	NextClock uint32 `json:"next_clock"`
	Distance  uint16 `json:"distance_mm"`
	Pending   bool   `json:"pending"`
	Cycles    uint32 `json:"cycles"`
}

// Valid reports whether at least one echo cycle completed, so Distance
// holds a measurement
func (r EchoReport) Valid() bool {
	return r.Cycles > 0
}

func (r EchoReport) String() string {
	if !r.Valid() {
		return fmt.Sprintf("oid=%d distance=---- cycles=0", r.OID)
	}
	return fmt.Sprintf("oid=%d distance=%dmm pending=%v cycles=%d", r.OID, r.Distance, r.Pending, r.Cycles)
}

// DecodeEchoState converts a decoded echo_state message
func DecodeEchoState(msg Message) (EchoReport, error) {
	if msg.Name != "echo_state" {
		return EchoReport{}, fmt.Errorf("not an echo_state message: %s", msg.Name)
	}
	return EchoReport{
		OID:       uint8(msg.Args["oid"]),
		NextClock: uint32(msg.Args["next_clock"]),
		Distance:  uint16(msg.Args["distance"]),
		Pending:   msg.Args["pending"] != 0,
		Cycles:    uint32(msg.Args["cycles"]),
	}, nil
}

// ConfigureEcho creates the echo timer on the board. maxSkipped 0 leaves
// the overlap guard off.
func (m *MCU) ConfigureEcho(oid uint8, triggerPin uint32, maxSkipped uint8) error {
	return m.Send("config_echo", uint32(oid), triggerPin, uint32(maxSkipped))
}

// GetEcho asks for one immediate report
func (m *MCU) GetEcho(oid uint8) (EchoReport, error) {
	msg, err := m.Request("get_echo", "echo_state",
		func(msg Message) bool { return uint8(msg.Args["oid"]) == oid },
		uint32(oid))
	if err != nil {
		return EchoReport{}, err
	}
	return DecodeEchoState(msg)
}

// QueryEcho starts periodic reports every interval, or stops them when
// interval is zero. Reports arrive on Subscribe channels.
func (m *MCU) QueryEcho(oid uint8, interval time.Duration) error {
	if interval == 0 {
		return m.Send("query_echo", uint32(oid), 0, 0)
	}

	freq, err := m.ClockFrequency()
	if err != nil {
		return err
	}
	rest := durationToTicks(interval, freq)
	if rest == 0 {
		return fmt.Errorf("report interval %v below one clock tick", interval)
	}

	clock, err := m.GetClock()
	if err != nil {
		return err
	}
	start := clock + durationToTicks(reportLead, freq)
	return m.Send("query_echo", uint32(oid), start, rest)
}

func durationToTicks(d time.Duration, freq uint32) uint32 {
	return uint32(d.Nanoseconds() * int64(freq) / int64(time.Second))
}

// Subscribe returns a channel receiving every echo report. A subscriber
// that falls behind loses reports. Call cancel to unsubscribe.
func (m *MCU) Subscribe(buffer int) (<-chan EchoReport, func()) {
	ch := make(chan EchoReport, buffer)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	var once bool
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(m.subscribers, ch)
		close(ch)
	}
}

func (m *MCU) publish(r EchoReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers {
		select {
		case ch <- r:
		default:
		}
	}
}
