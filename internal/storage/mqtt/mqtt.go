// Package mqttstorage publishes fixes as JSON to an MQTT broker.
package mqttstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/storage"
	"github.com/rs/zerolog"
)

const connectTimeout = 10 * time.Second

// publisher is the part of mqtt.Client the backend uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Backend implements storage.Backend on top of paho.
type Backend struct {
	cfg    config.MQTTConfig
	logger zerolog.Logger
	client mqtt.Client
	pub    publisher
}

var _ storage.Backend = (*Backend)(nil)

// New creates an MQTT backend. Init connects to the broker.
func New(cfg config.MQTTConfig, logger zerolog.Logger) *Backend {
	return &Backend{cfg: cfg, logger: logger}
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "mqtt" }

// Init connects to the broker. paho reconnects on its own afterwards.
func (b *Backend) Init(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logger.Warn().Err(err).Str("broker", b.cfg.Broker).Msg("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("connecting to MQTT broker %s: %w", b.cfg.Broker, err)
	}
	b.client = client
	b.pub = client
	b.logger.Info().Str("broker", b.cfg.Broker).Str("topic", b.cfg.Topic).Msg("MQTT client connected")
	return nil
}

// RecordFix publishes the fix to the configured topic.
func (b *Backend) RecordFix(ctx context.Context, rec storage.Record) error {
	if b.pub == nil {
		return errors.New("mqtt client not connected")
	}
	payload, err := json.Marshal(storage.NewMessage(rec))
	if err != nil {
		return fmt.Errorf("encoding fix: %w", err)
	}
	return wait(ctx, b.pub.Publish(b.cfg.Topic, b.cfg.QoS, b.cfg.Retain, payload))
}

// Close disconnects from the broker.
func (b *Backend) Close() error {
	if b.client != nil {
		b.client.Disconnect(250)
		b.client = nil
	}
	b.pub = nil
	return nil
}

func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
