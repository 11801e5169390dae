// Package recorder polls gpsd on an interval and publishes every snapshot
// to the sinks.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/progeek/gpsd-influxdb/internal/storage"
	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/progeek/gpsd-influxdb/internal/recorder"

// DefaultPollTimeout bounds a single poll round trip.
const DefaultPollTimeout = 5 * time.Second

// Publisher receives every successful poll.
type Publisher interface {
	Publish(ctx context.Context, rec storage.Record) error
}

// Dependencies holds all dependencies for the recorder service.
type Dependencies struct {
	Client      *gpsd.Client
	Publisher   Publisher
	Logger      *slog.Logger
	Host        string
	Port        int
	Interval    time.Duration
	PollTimeout time.Duration
}

// Service runs the poll loop. Run owns the client; the accessors are safe
// for concurrent use.
type Service struct {
	deps Dependencies

	mu        sync.RWMutex
	latest    storage.Record
	hasLatest bool
	isRunning bool
	state     gpsd.State

	polls      metric.Int64Counter
	reconnects metric.Int64Counter
}

// NewService creates a recorder. Metrics go to the global meter provider.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Client == nil {
		deps.Client = gpsd.NewClient(gpsd.WithLogger(deps.Logger))
	}
	if deps.PollTimeout <= 0 {
		deps.PollTimeout = DefaultPollTimeout
	}
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}

	s := &Service{deps: deps}
	m := otel.Meter(instrumentationName)

	var err error
	s.polls, err = m.Int64Counter("recorder.polls",
		metric.WithDescription("Polls sent to gpsd, by result"))
	if err != nil {
		return nil, fmt.Errorf("creating polls counter: %w", err)
	}
	s.reconnects, err = m.Int64Counter("recorder.reconnects",
		metric.WithDescription("Reconnects after a failed poll"))
	if err != nil {
		return nil, fmt.Errorf("creating reconnects counter: %w", err)
	}
	return s, nil
}

// Run connects and polls until ctx is done, which is not an error. It
// returns when the connection cannot be (re)established, when the poll
// after a reconnect fails too, or when gpsd breaks protocol.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("recorder already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.deps.Client.Disconnect()
		s.mu.Lock()
		s.isRunning = false
		s.state = s.deps.Client.State()
		s.mu.Unlock()
	}()

	if err := s.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		if err := s.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, s.deps.PollTimeout)
	defer cancel()

	err := s.deps.Client.Connect(cctx, s.deps.Host, s.deps.Port)
	s.setState(s.deps.Client.State())
	if err != nil {
		return fmt.Errorf("connecting to gpsd: %w", err)
	}

	v := s.deps.Client.Version()
	s.deps.Logger.Info("Connected to gpsd", "host", s.deps.Host, "port", s.deps.Port,
		"release", v.Release, "devices", len(s.deps.Client.Devices()))
	return nil
}

// pollOnce polls and publishes. A transport failure gets one reconnect and
// one retry.
func (s *Service) pollOnce(ctx context.Context) error {
	snap, err := s.poll(ctx)
	if err == nil || !isTransportError(err) {
		return s.handle(ctx, snap, err)
	}

	s.deps.Logger.Warn("Poll failed, reconnecting", "error", err)
	s.reconnects.Add(ctx, 1)
	if err := s.connect(ctx); err != nil {
		return err
	}

	snap, err = s.poll(ctx)
	if err != nil && isTransportError(err) {
		return fmt.Errorf("poll after reconnect: %w", err)
	}
	return s.handle(ctx, snap, err)
}

func (s *Service) poll(ctx context.Context) (gpsd.Snapshot, error) {
	pctx, cancel := context.WithTimeout(ctx, s.deps.PollTimeout)
	defer cancel()
	return s.deps.Client.Poll(pctx)
}

func (s *Service) handle(ctx context.Context, snap gpsd.Snapshot, err error) error {
	switch {
	case err == nil:
		s.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	case errors.Is(err, gpsd.ErrNotActive), errors.Is(err, gpsd.ErrIncompleteReport):
		s.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "inactive")))
		s.deps.Logger.Warn("No usable report from gpsd", "error", err)
		return nil
	default:
		s.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return err
	}

	rec := storage.Record{Snapshot: snap, PollTime: time.Now()}
	if dev, err := s.deps.Client.DeviceInfo(); err == nil {
		rec.Device = dev
	}

	s.mu.Lock()
	s.latest = rec
	s.hasLatest = true
	s.mu.Unlock()

	s.deps.Logger.Debug("Fix polled", "fix", snap.FixLabel(), "satellites", snap.SatellitesUsed)

	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(ctx, rec); err != nil {
			s.deps.Logger.Error("Publishing fix failed", "error", err)
		}
	}
	return nil
}

// isTransportError reports whether err came from the connection rather
// than from gpsd's answer.
func isTransportError(err error) bool {
	var protoErr *gpsd.ProtocolError
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &protoErr),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr),
		errors.Is(err, gpsd.ErrNotActive),
		errors.Is(err, gpsd.ErrIncompleteReport):
		return false
	}
	return true
}

func (s *Service) setState(st gpsd.State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Latest returns the most recent record; ok is false before the first
// successful poll.
func (s *Service) Latest() (rec storage.Record, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// IsRunning returns whether Run is active.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LogAttrs describes the session for the logging context handler.
func (s *Service) LogAttrs() []slog.Attr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attrs := []slog.Attr{slog.String("session", s.state.String())}
	if s.hasLatest {
		attrs = append(attrs, slog.String("fix", s.latest.Snapshot.FixLabel()))
	}
	return attrs
}
