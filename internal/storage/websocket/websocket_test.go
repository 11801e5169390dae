package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/storage"
	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
)

// testServer creates an httptest server that upgrades to WebSocket and
// records received envelopes. With dropAfter > 0 the first connection is
// closed after that many messages.
func testServer(t *testing.T, dropAfter int) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		n := ml.connections.Add(1)
		ml.setSecret(r.URL.Query().Get("secret"))

		received := 0
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)
			received++

			if n == 1 && dropAfter > 0 && received == dropAfter {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return srv, ml
}

type messageLog struct {
	mu          sync.Mutex
	messages    []Envelope
	secret      string
	connections atomic.Int32
}

func (m *messageLog) add(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func record() storage.Record {
	return storage.Record{
		Snapshot: gpsd.Snapshot{Mode: gpsd.Fix3D, Latitude: 40, Longitude: -105, Altitude: 1609, Time: "2024-05-01T12:30:45.123Z"},
		PollTime: time.Now(),
		Device:   gpsd.DeviceInfo{Path: "/dev/ttyACM0"},
	}
}

func TestInitSendsHello(t *testing.T) {
	srv, ml := testServer(t, 0)
	b := New(config.WebsocketConfig{URL: wsURL(srv), Secret: "s3cret"}, "gpsd-influxdb", nil)
	defer b.Close()

	require.NoError(t, b.Init(context.Background()))

	require.Eventually(t, func() bool { return len(ml.all()) == 1 }, time.Second, 5*time.Millisecond)
	env := ml.all()[0]
	assert.Equal(t, TypeHello, env.Type)
	assert.JSONEq(t, `{"client":"gpsd-influxdb"}`, string(env.Payload))

	ml.mu.Lock()
	assert.Equal(t, "s3cret", ml.secret)
	ml.mu.Unlock()
}

func TestRecordFixSendsEnvelope(t *testing.T) {
	srv, ml := testServer(t, 0)
	b := New(config.WebsocketConfig{URL: wsURL(srv)}, "test", nil)
	defer b.Close()
	require.NoError(t, b.Init(context.Background()))

	require.NoError(t, b.RecordFix(context.Background(), record()))

	require.Eventually(t, func() bool { return len(ml.all()) == 2 }, time.Second, 5*time.Millisecond)
	env := ml.all()[1]
	assert.Equal(t, TypeFix, env.Type)

	var msg storage.Message
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, "3D Fix", msg.Fix)
	assert.Equal(t, "/dev/ttyACM0", msg.Device)
	assert.Equal(t, 1609.0, msg.Snapshot.Altitude)
}

func TestRedialsAfterServerDrop(t *testing.T) {
	srv, ml := testServer(t, 1)
	b := New(config.WebsocketConfig{URL: wsURL(srv)}, "test", nil)
	defer b.Close()

	require.NoError(t, b.Init(context.Background()))
	// server hangs up after the hello
	require.Eventually(t, func() bool { return !b.conn.connected() }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.RecordFix(context.Background(), record()))

	require.Eventually(t, func() bool { return len(ml.all()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), ml.connections.Load())
	assert.Equal(t, TypeFix, ml.all()[1].Type)
}

func TestInitServerUnreachable(t *testing.T) {
	srv, _ := testServer(t, 0)
	url := wsURL(srv)
	srv.Close()

	b := New(config.WebsocketConfig{URL: url}, "test", nil)
	assert.Error(t, b.Init(context.Background()))
}

func TestWriteAfterClose(t *testing.T) {
	srv, _ := testServer(t, 0)
	b := New(config.WebsocketConfig{URL: wsURL(srv)}, "test", nil)
	require.NoError(t, b.Init(context.Background()))

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.RecordFix(context.Background(), record()), errClosed)
	assert.NoError(t, b.Close())
}

func TestEnvelopeSerialization(t *testing.T) {
	data, err := marshalEnvelope(TypeHello, HelloPayload{Client: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"hello","payload":{"client":"x"}}`, string(data))
}
