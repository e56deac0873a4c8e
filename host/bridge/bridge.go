// Package bridge publishes echo reports to an MQTT broker.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sonar/host/config"
	"sonar/host/mcu"
)

var ErrPublishTimeout = errors.New("mqtt publish timed out")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	quiesceMillis  = 250
)

// Publisher is the part of mqtt.Client the bridge uses
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Payload is the JSON document published per report
type Payload struct {
	OID       uint8  `json:"oid"`
	Distance  uint16 `json:"distance_mm"`
	Valid     bool   `json:"valid"`
	Pending   bool   `json:"pending"`
	Cycles    uint32 `json:"cycles"`
	NextClock uint32 `json:"next_clock"`
}

// Bridge publishes each report to <topic>/<oid>
type Bridge struct {
	client  Publisher
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration

	// OnError receives publish failures from Run; nil drops them
	OnError func(error)
}

// New wraps an already connected client
func New(client Publisher, cfg config.MQTTConfig) *Bridge {
	return &Bridge{
		client:  client,
		topic:   cfg.Topic,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: publishTimeout,
	}
}

// Dial connects to cfg.Broker. The returned func disconnects.
func Dial(cfg config.MQTTConfig) (*Bridge, func(), error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, nil, fmt.Errorf("mqtt connect to %s: timeout after %v", cfg.Broker, connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return New(client, cfg), func() { client.Disconnect(quiesceMillis) }, nil
}

// Topic returns the topic a sensor's reports go to
func (b *Bridge) Topic(oid uint8) string {
	return b.topic + "/" + strconv.Itoa(int(oid))
}

// Publish sends one report and waits for the broker to accept it
func (b *Bridge) Publish(r mcu.EchoReport) error {
	payload, err := json.Marshal(Payload{
		OID:       r.OID,
		Distance:  r.Distance,
		Valid:     r.Valid(),
		Pending:   r.Pending,
		Cycles:    r.Cycles,
		NextClock: r.NextClock,
	})
	if err != nil {
		return err
	}

	tok := b.client.Publish(b.Topic(r.OID), b.qos, b.retain, payload)
	if !tok.WaitTimeout(b.timeout) {
		return ErrPublishTimeout
	}
	return tok.Error()
}

// Run publishes reports until ctx is done or the channel closes
func (b *Bridge) Run(ctx context.Context, reports <-chan mcu.EchoReport) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-reports:
			if !ok {
				return nil
			}
			if err := b.Publish(r); err != nil && b.OnError != nil {
				b.OnError(fmt.Errorf("publish oid %d: %w", r.OID, err))
			}
		}
	}
}
