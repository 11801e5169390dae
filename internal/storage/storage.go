// Package storage defines the contract between the recorder and the sinks
// that persist or forward gpsd fixes.
package storage

import (
	"context"
	"time"

	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
)

// Record is one successful poll, as handed to every sink.
type Record struct {
	Snapshot gpsd.Snapshot
	PollTime time.Time // local clock when the poll returned
	Device   gpsd.DeviceInfo
}

// FixTime returns the receiver timestamp of the fix, falling back to the
// poll time when the fix carries none.
func (r Record) FixTime() time.Time {
	if t, err := r.Snapshot.Timestamp(false); err == nil {
		return t
	}
	return r.PollTime.UTC()
}

// Message is the JSON form of a record, as pushed by the MQTT and
// websocket sinks.
type Message struct {
	Device   string        `json:"device,omitempty"`
	Driver   string        `json:"driver,omitempty"`
	Fix      string        `json:"fix"`
	Time     time.Time     `json:"time"`
	PollTime time.Time     `json:"pollTime"`
	MapURL   string        `json:"mapUrl,omitempty"`
	Snapshot gpsd.Snapshot `json:"snapshot"`
}

// NewMessage builds the message for rec.
func NewMessage(rec Record) Message {
	msg := Message{
		Device:   rec.Device.Path,
		Driver:   rec.Device.Driver,
		Fix:      rec.Snapshot.FixLabel(),
		Time:     rec.FixTime(),
		PollTime: rec.PollTime.UTC(),
		Snapshot: rec.Snapshot,
	}
	if url, err := rec.Snapshot.MapURL(); err == nil {
		msg.MapURL = url
	}
	return msg
}

// Backend is the interface all sinks must satisfy.
type Backend interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Init connects and provisions whatever the sink needs.
	Init(ctx context.Context) error

	// Close flushes pending work and releases connections.
	Close() error

	// RecordFix persists or forwards one record.
	RecordFix(ctx context.Context, rec Record) error
}
