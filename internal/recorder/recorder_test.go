package recorder

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/progeek/gpsd-influxdb/internal/storage"
	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
	"github.com/progeek/gpsd-influxdb/pkg/gpsd/gpsdtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu      sync.Mutex
	records []storage.Record
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, rec storage.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func newServer(t *testing.T, opts ...gpsdtest.Option) *gpsdtest.Server {
	t.Helper()
	srv, err := gpsdtest.NewServer(opts...)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func newService(t *testing.T, srv *gpsdtest.Server, pub Publisher) *Service {
	t.Helper()
	svc, err := NewService(Dependencies{
		Publisher:   pub,
		Host:        srv.Host,
		Port:        srv.Port,
		Interval:    10 * time.Millisecond,
		PollTimeout: time.Second,
	})
	require.NoError(t, err)
	return svc
}

// runAsync starts Run and returns a channel with its result.
func runAsync(ctx context.Context, svc *Service) <-chan error {
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	return done
}

func TestService_PublishesPolls(t *testing.T) {
	srv := newServer(t)
	pub := &recordingPublisher{}
	svc := newService(t, srv, pub)

	_, ok := svc.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.IsRunning())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, svc.IsRunning())

	rec, ok := svc.Latest()
	require.True(t, ok)
	assert.Equal(t, gpsd.Fix3D, rec.Snapshot.Mode)
	assert.Equal(t, gpsd.DeviceInfo{Path: "/dev/ttyACM0", Speed: 9600, Driver: "u-blox"}, rec.Device)
	assert.False(t, rec.PollTime.IsZero())
	assert.Equal(t, 1, srv.Accepted())
}

func TestService_ReconnectsOnceAfterDrop(t *testing.T) {
	srv := newServer(t, gpsdtest.WithDropAfterPolls(1))
	pub := &recordingPublisher{}
	svc := newService(t, srv, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, srv.Accepted())
}

func TestService_ReconnectsAfterTruncatedAnswer(t *testing.T) {
	srv := newServer(t, gpsdtest.WithDropAfterPolls(1), gpsdtest.WithDropMidLine())
	pub := &recordingPublisher{}
	svc := newService(t, srv, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, srv.Accepted())
}

func TestService_FailsWhenRetryFails(t *testing.T) {
	srv := newServer(t, gpsdtest.WithDropAfterPolls(0), gpsdtest.WithDropOnEveryConnection())
	pub := &recordingPublisher{}
	svc := newService(t, srv, pub)

	select {
	case err := <-runAsync(context.Background(), svc):
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poll after reconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, 2, srv.Accepted())
	assert.Zero(t, pub.count())
}

func TestService_ProtocolErrorEndsRun(t *testing.T) {
	srv := newServer(t, gpsdtest.WithPollResponses(`{"class":"ERROR","message":"Unrecognized request"}`))
	svc := newService(t, srv, &recordingPublisher{})

	err := svc.Run(context.Background())
	var protoErr *gpsd.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "ERROR", protoErr.Class)
	// no reconnect for a daemon that answers wrongly
	assert.Equal(t, 1, srv.Accepted())
}

func TestService_InactiveKeepsPolling(t *testing.T) {
	srv := newServer(t, gpsdtest.WithPollResponses(
		`{"class":"POLL","active":0,"tpv":[],"sky":[]}`,
		`{"class":"POLL","active":false,"tpv":[],"sky":[]}`,
		gpsdtest.PollLine,
	))
	pub := &recordingPublisher{}
	svc := newService(t, srv, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)

	require.Eventually(t, func() bool { return pub.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, srv.Accepted())
}

func TestService_PublishErrorDoesNotStopPolling(t *testing.T) {
	srv := newServer(t)
	pub := &recordingPublisher{err: errors.New("sink down")}
	svc := newService(t, srv, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)

	require.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestService_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	svc, err := NewService(Dependencies{Host: "127.0.0.1", Port: port, PollTimeout: time.Second})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connecting to gpsd")
	assert.False(t, svc.IsRunning())
}

func TestService_RunTwice(t *testing.T) {
	srv := newServer(t)
	svc := newService(t, srv, &recordingPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)
	require.Eventually(t, svc.IsRunning, time.Second, 5*time.Millisecond)

	assert.Error(t, svc.Run(ctx))

	cancel()
	require.NoError(t, <-done)
}

func TestService_LogAttrs(t *testing.T) {
	srv := newServer(t)
	pub := &recordingPublisher{}
	svc := newService(t, srv, pub)

	attrs := svc.LogAttrs()
	require.Len(t, attrs, 1)
	assert.Equal(t, "session", attrs[0].Key)
	assert.Equal(t, "disconnected", attrs[0].Value.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, svc)
	require.Eventually(t, func() bool { return pub.count() >= 1 }, 2*time.Second, 5*time.Millisecond)

	attrs = svc.LogAttrs()
	require.Len(t, attrs, 2)
	assert.Equal(t, "ready", attrs[0].Value.String())
	assert.Equal(t, "fix", attrs[1].Key)
	assert.Equal(t, "3D Fix", attrs[1].Value.String())

	cancel()
	require.NoError(t, <-done)
}
