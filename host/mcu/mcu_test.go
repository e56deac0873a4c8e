package mcu

import (
	"net"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"sonar/core"
	"sonar/protocol"
)

// The firmware core runs in-process on the far end of a pipe, with
// hardware replaced by no-op fakes.

type nullTimer struct{}

func (nullTimer) Configure(core.TimerConfig) {}
func (nullTimer) SetCaptureEdge(core.CaptureEdge) {}
func (nullTimer) CaptureValue() uint16 { return 0 }
func (nullTimer) ResetCounter() {}

type nullGPIO struct{}

func (nullGPIO) ConfigureOutput(core.GPIOPin) error { return nil }
func (nullGPIO) ConfigureInput(core.GPIOPin) error { return nil }
func (nullGPIO) SetPin(core.GPIOPin, bool) error { return nil }
func (nullGPIO) ReadPin(core.GPIOPin) bool { return false }

var initCommands sync.Once

type firmware struct {
	conn  net.Conn
	calls chan func()
	done  chan struct{}
}

func startFirmware(c *qt.C) (*MCU, *firmware) {
	initCommands.Do(func() {
		core.InitCoreCommands()
		core.InitEchoCommands()
	})
	core.SetGPIODriver(nullGPIO{})
	core.SetCaptureTimer(nullTimer{})
	core.SetBusyWait(func(uint32) {})
	core.GetGlobalDictionary().BuildDictionary()

	hostSide, mcuSide := net.Pipe()
	fw := &firmware{conn: mcuSide, calls: make(chan func()), done: make(chan struct{})}

	// Previous tests may have left a sensor configured
	reset, _ := core.GetGlobalRegistry().GetCommandByName("config_reset")
	var none []byte
	reset.Handler(&none)

	go fw.run()

	m := New(hostSide)
	c.Cleanup(func() {
		m.Close()
		mcuSide.Close()
		<-fw.done
	})
	return m, fw
}

func (fw *firmware) run() {
	defer close(fw.done)

	in := protocol.NewFifoBuffer(512)
	out := protocol.NewScratchOutput()
	flush := func() {
		if len(out.Result()) > 0 {
			fw.conn.Write(out.Result())
			out.Reset()
		}
	}
	tr := protocol.NewTransport(out, core.DispatchCommand)
	tr.SetFlushCallback(flush)
	core.SetGlobalTransport(tr)

	rx := make(chan []byte)
	go func() {
		defer close(rx)
		buf := make([]byte, 256)
		for {
			n, err := fw.conn.Read(buf)
			if n > 0 {
				rx <- append([]byte(nil), buf[:n]...)
			}
			if err != nil {
				return
			}
		}
	}()

	start := time.Now()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case b, ok := <-rx:
			if !ok {
				return
			}
			in.Write(b)
			tr.Receive(in)
			flush()
		case f := <-fw.calls:
			f()
		case <-tick.C:
			core.SetTime(uint32(time.Since(start) / time.Microsecond))
			core.ProcessTimers()
			core.EchoTask()
			flush()
		}
	}
}

// do runs f on the firmware goroutine, standing in for interrupt context
func (fw *firmware) do(f func()) {
	done := make(chan struct{})
	fw.calls <- func() {
		f()
		close(done)
	}
	<-done
}

// echo simulates one trigger and an echo lasting ticks timer ticks
func (fw *firmware) echo(ticks uint16) {
	fw.do(func() {
		e := core.ActiveEchoTimer()
		e.CompareMatch()
		e.Capture(100)
		e.Capture(100 + ticks)
	})
}

func TestRetrieveDictionary(t *testing.T) {
	c := qt.New(t)
	m, _ := startFirmware(c)

	c.Assert(m.RetrieveDictionary(), qt.IsNil)

	freq, err := m.ClockFrequency()
	c.Assert(err, qt.IsNil)
	c.Assert(freq, qt.Equals, uint32(core.SystemClockFreq))

	v, ok := m.Constant("ECHO_MICROS_PER_MM")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "58")

	var names []string
	for _, mf := range m.Formats() {
		names = append(names, mf.Name)
	}
	c.Assert(names[0], qt.Equals, "identify")
	c.Assert(names, qt.Contains, "config_echo")
	c.Assert(names, qt.Contains, "query_echo")
	c.Assert(string(m.DictionaryRaw()), qt.Equals, string(core.GetGlobalDictionary().Generate()))
}

func TestSendBeforeDictionary(t *testing.T) {
	c := qt.New(t)
	m, _ := startFirmware(c)

	err := m.Send("get_clock")
	c.Assert(err, qt.ErrorIs, ErrUnknownCommand)

	_, err = m.ClockFrequency()
	c.Assert(err, qt.ErrorIs, ErrNoDictionary)
}

func TestGetEcho(t *testing.T) {
	c := qt.New(t)
	m, fw := startFirmware(c)
	c.Assert(m.RetrieveDictionary(), qt.IsNil)

	c.Assert(m.ConfigureEcho(0, 33, 0), qt.IsNil)

	report, err := m.GetEcho(0)
	c.Assert(err, qt.IsNil)
	c.Assert(report.Valid(), qt.IsFalse)

	// 2320 ticks at 4 us = 9280 us = 160 mm
	fw.echo(2320)

	report, err = m.GetEcho(0)
	c.Assert(err, qt.IsNil)
	c.Assert(report, qt.Equals, EchoReport{OID: 0, Distance: 160, Cycles: 1})
}

func TestQueryEchoReports(t *testing.T) {
	c := qt.New(t)
	m, fw := startFirmware(c)
	c.Assert(m.RetrieveDictionary(), qt.IsNil)
	c.Assert(m.ConfigureEcho(0, 33, 0), qt.IsNil)
	fw.echo(1160) // 80 mm

	reports, cancel := m.Subscribe(8)
	defer cancel()

	c.Assert(m.QueryEcho(0, 20*time.Millisecond), qt.IsNil)

	var got []EchoReport
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case r := <-reports:
			got = append(got, r)
		case <-timeout:
			c.Fatalf("received %d reports before timeout", len(got))
		}
	}

	c.Assert(got[0].Distance, qt.Equals, uint16(80))
	// A slow test host can coalesce two report periods into one report
	step := got[1].NextClock - got[0].NextClock
	c.Assert(step > 0 && step%20000 == 0, qt.IsTrue, qt.Commentf("step %d", step))

	c.Assert(m.QueryEcho(0, 0), qt.IsNil)
}

func TestConfigRoundTrip(t *testing.T) {
	c := qt.New(t)
	m, _ := startFirmware(c)
	c.Assert(m.RetrieveDictionary(), qt.IsNil)

	isConfig, _, err := m.GetConfig()
	c.Assert(err, qt.IsNil)
	c.Assert(isConfig, qt.IsFalse)

	c.Assert(m.Send("finalize_config", 0xC0FFEE), qt.IsNil)

	isConfig, crc, err := m.GetConfig()
	c.Assert(err, qt.IsNil)
	c.Assert(isConfig, qt.IsTrue)
	c.Assert(crc, qt.Equals, uint32(0xC0FFEE))

	clock, err := m.GetClock()
	c.Assert(err, qt.IsNil)
	c.Assert(clock < 10_000_000, qt.IsTrue, qt.Commentf("clock %d", clock))
}

func TestSubscribeCancel(t *testing.T) {
	c := qt.New(t)
	m, _ := startFirmware(c)

	ch, cancel := m.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	c.Assert(open, qt.IsFalse)
}
