package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/shlex"

	"sonar/host/mcu"
)

var errUsage = errors.New("usage")

// sensorClient is what the REPL needs from an MCU connection
type sensorClient interface {
	ConfigureEcho(oid uint8, triggerPin uint32, maxSkipped uint8) error
	QueryEcho(oid uint8, interval time.Duration) error
	GetEcho(oid uint8) (mcu.EchoReport, error)
	GetClock() (uint32, error)
	Formats() []mcu.MessageFormat
	Subscribe(buffer int) (<-chan mcu.EchoReport, func())
}

type session struct {
	client sensorClient
	out    io.Writer

	// watchTimeout bounds the wait for each report in watch
	watchTimeout time.Duration
}

func newSession(client sensorClient, out io.Writer) *session {
	return &session{client: client, out: out, watchTimeout: 5 * time.Second}
}

// exec runs one REPL line. quit is true when the session should end.
func (s *session) exec(line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, err
	}
	if len(args) == 0 {
		return false, nil
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit", "q":
		return true, nil
	case "help", "?":
		s.printHelp()
	case "dict":
		for _, mf := range s.client.Formats() {
			fmt.Fprintf(s.out, "  [%d] %s\n", mf.ID, mf)
		}
	case "clock":
		clock, err := s.client.GetClock()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "clock=%d\n", clock)
	case "config_echo":
		return false, s.configEcho(args)
	case "query":
		return false, s.query(args)
	case "get":
		return false, s.get(args)
	case "watch":
		return false, s.watch(args)
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	return false, nil
}

func (s *session) printHelp() {
	fmt.Fprint(s.out, `Commands:
  help                                  show this message
  dict                                  list firmware commands
  clock                                 read the firmware clock
  config_echo <oid> <pin> [max_skipped] create the echo timer
  query <oid> <ms>                      periodic reports every ms, 0 stops
  get <oid>                             one report now
  watch <oid> <ms> [count]              print count reports (default 10)
  quit                                  exit
`)
}

func (s *session) configEcho(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%w: config_echo <oid> <pin> [max_skipped]", errUsage)
	}
	oid, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}
	pin, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	var skipped uint64
	if len(args) == 3 {
		if skipped, err = parseUint(args[2], 8); err != nil {
			return err
		}
	}
	return s.client.ConfigureEcho(uint8(oid), uint32(pin), uint8(skipped))
}

func (s *session) query(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: query <oid> <ms>", errUsage)
	}
	oid, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}
	ms, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	return s.client.QueryEcho(uint8(oid), time.Duration(ms)*time.Millisecond)
}

func (s *session) get(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: get <oid>", errUsage)
	}
	oid, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}
	r, err := s.client.GetEcho(uint8(oid))
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, r)
	return nil
}

func (s *session) watch(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Errorf("%w: watch <oid> <ms> [count]", errUsage)
	}
	oid, err := parseUint(args[0], 8)
	if err != nil {
		return err
	}
	ms, err := parseUint(args[1], 32)
	if err != nil {
		return err
	}
	if ms == 0 {
		return fmt.Errorf("%w: watch interval must be positive", errUsage)
	}
	count := uint64(10)
	if len(args) == 3 {
		if count, err = parseUint(args[2], 32); err != nil {
			return err
		}
	}

	reports, cancel := s.client.Subscribe(16)
	defer cancel()

	if err := s.client.QueryEcho(uint8(oid), time.Duration(ms)*time.Millisecond); err != nil {
		return err
	}
	defer s.client.QueryEcho(uint8(oid), 0)

	for n := uint64(0); n < count; {
		select {
		case r := <-reports:
			if r.OID != uint8(oid) {
				continue
			}
			fmt.Fprintln(s.out, r)
			n++
		case <-time.After(s.watchTimeout):
			return fmt.Errorf("no report from oid %d in %v", oid, s.watchTimeout)
		}
	}
	return nil
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return v, nil
}
