// Package gpsd implements a client for the gpsd JSON protocol: handshake,
// watch enablement, polling and parsing of POLL reports into snapshots.
package gpsd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Defaults of a local gpsd instance.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 2947
)

const (
	watchCommand = "?WATCH={\"enable\":true}\n"
	pollCommand  = "?POLL;\n"

	// number of DEVICES/WATCH lines that follow a ?WATCH command
	watchReplies = 2
)

// State is the session state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateHandshaking
	StateWatching
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateWatching:
		return "watching"
	case StateReady:
		return "ready"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Dialer opens the stream connection to the daemon.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DeviceInfo summarises the first device announced by the daemon.
type DeviceInfo struct {
	Path   string `json:"path"`
	Speed  int    `json:"speed"`
	Driver string `json:"driver"`
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for connection lifecycle and polling events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

// Client is a session with one gpsd daemon. It owns its connection
// exclusively and is not safe for concurrent use; callers polling from
// several goroutines must serialize access.
type Client struct {
	dialer Dialer
	logger *slog.Logger

	conn   net.Conn
	reader *bufio.Reader
	state  State

	version *Version
	devices []Device
	watch   *Watch
}

// NewClient creates a disconnected client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		dialer: &net.Dialer{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current session state.
func (c *Client) State() State {
	return c.state
}

// Version returns the daemon's welcome announcement, or nil when disconnected.
func (c *Client) Version() *Version {
	return c.version
}

// Devices returns the devices announced during the handshake.
func (c *Client) Devices() []Device {
	return c.devices
}

// Watch returns the watch acknowledgment, or nil if none was received.
func (c *Client) Watch() *Watch {
	return c.watch
}

// Connect opens a session with the daemon at host:port, performs the
// handshake and enables watch mode. An existing connection is closed first.
// On failure the client is left disconnected.
//
// No timeout is imposed unless ctx carries a deadline.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.conn != nil {
		c.logger.Debug("Previous connection detected, reconnecting")
		c.Disconnect()
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c.logger.Debug("Connecting to gpsd", "addr", addr)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("gpsd: dial %s: %w", addr, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.state = StateHandshaking

	if err := c.handshake(ctx); err != nil {
		c.Disconnect()
		return err
	}

	c.state = StateReady
	c.logger.Debug("Connected to gpsd", "addr", addr, "devices", len(c.devices))
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	defer c.withDeadline(ctx)()

	c.logger.Debug("Waiting for welcome message")
	class, line, err := c.readMessage()
	if err != nil {
		return err
	}
	if class != ClassVersion {
		return &ProtocolError{Stage: "handshake", Expected: []string{ClassVersion}, Class: class}
	}
	var version Version
	if err := json.Unmarshal(line, &version); err != nil {
		return fmt.Errorf("gpsd: decode %s: %w", ClassVersion, err)
	}
	c.version = &version

	c.logger.Debug("Enabling watch mode", "release", version.Release)
	if err := c.send(watchCommand); err != nil {
		return err
	}
	c.state = StateWatching

	for i := 0; i < watchReplies; i++ {
		class, line, err := c.readMessage()
		if err != nil {
			return err
		}
		if err := c.applyState(class, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) applyState(class string, line []byte) error {
	switch class {
	case ClassDevices:
		var msg devicesMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return fmt.Errorf("gpsd: decode %s: %w", ClassDevices, err)
		}
		if len(msg.Devices) == 0 {
			c.logger.Warn("No gps devices found")
		}
		c.devices = msg.Devices
	case ClassWatch:
		var w Watch
		if err := json.Unmarshal(line, &w); err != nil {
			return fmt.Errorf("gpsd: decode %s: %w", ClassWatch, err)
		}
		c.watch = &w
	default:
		return &ProtocolError{Stage: "watch", Expected: []string{ClassDevices, ClassWatch}, Class: class}
	}
	return nil
}

// Disconnect closes the connection and clears the session state. It is a
// no-op when already disconnected.
func (c *Client) Disconnect() {
	if c.conn != nil {
		c.logger.Debug("Disconnecting from gpsd")
		if tcp, ok := c.conn.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		}
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
	c.state = StateDisconnected
	c.version = nil
	c.devices = nil
	c.watch = nil
}

// Poll requests one fused report from the daemon and parses it. It does not
// retry; on a transport error the caller decides whether to reconnect.
func (c *Client) Poll(ctx context.Context) (Snapshot, error) {
	if c.state != StateReady || c.conn == nil {
		return Snapshot{}, ErrNotConnected
	}
	defer c.withDeadline(ctx)()

	c.logger.Debug("Polling gpsd")
	if err := c.send(pollCommand); err != nil {
		return Snapshot{}, err
	}
	class, line, err := c.readMessage()
	if err != nil {
		return Snapshot{}, err
	}
	if class != ClassPoll {
		return Snapshot{}, &ProtocolError{Stage: "poll", Expected: []string{ClassPoll}, Class: class}
	}
	return ParseReportJSON(line)
}

// DeviceInfo returns path, speed and driver of the first known device.
func (c *Client) DeviceInfo() (DeviceInfo, error) {
	if len(c.devices) == 0 {
		return DeviceInfo{}, ErrNoDevice
	}
	d := c.devices[0]
	return DeviceInfo{Path: d.Path, Speed: d.BPS, Driver: d.Driver}, nil
}

func (c *Client) send(cmd string) error {
	if _, err := io.WriteString(c.conn, cmd); err != nil {
		return fmt.Errorf("gpsd: write: %w", err)
	}
	return nil
}

func (c *Client) readMessage() (string, []byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		// a line cut short by EOF is a dropped connection, not bad JSON
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", nil, fmt.Errorf("gpsd: read: %w", err)
	}
	class, err := decodeClass(line)
	if err != nil {
		return "", nil, err
	}
	return class, line, nil
}

// withDeadline applies ctx's deadline to the connection and returns a func
// that clears it again.
func (c *Client) withDeadline(ctx context.Context) func() {
	deadline, ok := ctx.Deadline()
	if !ok || c.conn == nil {
		return func() {}
	}
	conn := c.conn
	_ = conn.SetDeadline(deadline)
	return func() {
		_ = conn.SetDeadline(time.Time{})
	}
}
