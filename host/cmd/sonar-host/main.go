// sonar-host talks to the ultrasonic sensor firmware over serial: it
// configures the echo timer, prints or watches readings and can forward
// them to MQTT.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"sonar/host/bridge"
	"sonar/host/config"
	"sonar/host/mcu"
)

var (
	device     = flag.String("device", "", "Serial device path (overrides config)")
	configPath = flag.String("config", "", "JSON config file")
	watch      = flag.Bool("watch", false, "Print reports until interrupted instead of starting the REPL")
	mqttBroker = flag.String("mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883 (overrides config)")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *mqttBroker != "" {
		cfg.MQTT.Broker = *mqttBroker
	}
	return cfg, nil
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Connecting to %s...\n", cfg.Device)
	m, err := mcu.Connect(cfg.Serial())
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.RetrieveDictionary(); err != nil {
		return err
	}
	if d := m.Dictionary(); d != nil {
		fmt.Printf("Firmware %s, %d commands\n", d.Version, len(d.Commands))
	}

	s := cfg.Sensor
	if err := m.ConfigureEcho(s.OID, s.TriggerPin, s.MaxSkipped); err != nil {
		return fmt.Errorf("config_echo: %w", err)
	}

	if cfg.MQTT.Broker != "" {
		b, disconnect, err := bridge.Dial(cfg.MQTT)
		if err != nil {
			return err
		}
		defer disconnect()

		b.OnError = func(err error) { fmt.Fprintf(os.Stderr, "mqtt: %v\n", err) }
		reports, cancel := m.Subscribe(32)
		defer cancel()
		go b.Run(ctx, reports)

		if err := m.QueryEcho(s.OID, cfg.ReportInterval()); err != nil {
			return err
		}
		fmt.Printf("Publishing to %s on %s\n", b.Topic(s.OID), cfg.MQTT.Broker)
	}

	if *watch {
		return watchReports(ctx, m, cfg)
	}
	return repl(ctx, newSession(m, os.Stdout))
}

// watchReports prints every report until ctx is cancelled
func watchReports(ctx context.Context, m *mcu.MCU, cfg *config.Config) error {
	reports, cancel := m.Subscribe(32)
	defer cancel()

	if err := m.QueryEcho(cfg.Sensor.OID, cfg.ReportInterval()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return m.QueryEcho(cfg.Sensor.OID, 0)
		case r := <-reports:
			fmt.Println(r)
		}
	}
}

func repl(ctx context.Context, s *session) error {
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := s.exec(strings.TrimSpace(line))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}
