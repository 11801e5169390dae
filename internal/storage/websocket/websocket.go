// Package websocket pushes fixes as JSON envelopes to a websocket server.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/storage"
)

// Message types.
const (
	TypeHello = "hello"
	TypeFix   = "fix"
)

// Envelope wraps every message sent to the server.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload announces the client after each connect.
type HelloPayload struct {
	Client string `json:"client"`
}

// Backend streams fixes over a websocket. It implements storage.Backend.
type Backend struct {
	conn   *connection
	client string
}

var _ storage.Backend = (*Backend)(nil)

// New creates a websocket backend. client is sent in the hello message.
func New(cfg config.WebsocketConfig, client string, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn:   newConnection(cfg.URL, cfg.Secret, logger),
		client: client,
	}
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "websocket" }

// Init connects to the server and sends the hello message.
func (b *Backend) Init(ctx context.Context) error {
	data, err := marshalEnvelope(TypeHello, HelloPayload{Client: b.client})
	if err != nil {
		return err
	}
	return b.conn.write(ctx, data)
}

// RecordFix sends a fix message.
func (b *Backend) RecordFix(ctx context.Context, rec storage.Record) error {
	data, err := marshalEnvelope(TypeFix, storage.NewMessage(rec))
	if err != nil {
		return err
	}
	return b.conn.write(ctx, data)
}

// Close disconnects from the server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
