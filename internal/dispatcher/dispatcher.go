// Package dispatcher fans recorded fixes out to the configured sinks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/progeek/gpsd-influxdb/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("dispatcher closed")

// HandlerFunc delivers one record to a sink.
type HandlerFunc func(context.Context, storage.Record) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures sink registration.
type Option func(*options)

type options struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the sink async with a queue of the given size.
func Buffered(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// Blocking makes a buffered sink block when its queue is full instead of
// dropping the record.
func Blocking() Option {
	return func(o *options) {
		o.blocking = true
	}
}

// Logged adds debug logging around each delivery.
func Logged() Option {
	return func(o *options) {
		o.logged = true
	}
}

type sink struct {
	name    string
	handler HandlerFunc
}

// Dispatcher delivers every published record to all registered sinks.
type Dispatcher struct {
	logger Logger
	sinks  []sink

	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu      sync.RWMutex
	closed  bool
	buffers map[string]chan storage.Record
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Metrics go to the global OTel meter provider,
// which is a no-op unless one has been installed.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:  logger,
		buffers: make(map[string]chan storage.Record),
	}

	m := meter()
	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of records waiting per sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("sink", name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.records.processed",
		metric.WithDescription("Total records delivered to a sink"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.records.dropped",
		metric.WithDescription("Total records dropped due to a full sink queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a sink. Sinks are delivered to in registration order.
// Register must not be called concurrently with Publish.
func (d *Dispatcher) Register(name string, h HandlerFunc, opts ...Option) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	handler := h
	if o.logged {
		handler = d.withLogging(name, handler)
	}
	if o.bufferSize > 0 {
		handler = d.withBuffer(name, o.bufferSize, o.blocking, !o.logged, handler)
	} else {
		handler = d.counted(name, handler)
	}

	d.sinks = append(d.sinks, sink{name: name, handler: handler})
}

// RegisterBackend registers a storage backend as a sink under its own name.
func (d *Dispatcher) RegisterBackend(b storage.Backend, opts ...Option) {
	d.Register(b.Name(), b.RecordFix, opts...)
}

// Sinks returns the registered sink names in delivery order.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.name
	}
	return names
}

// Publish hands rec to every sink. A failing or full sink does not keep
// the record from the others; their errors are joined.
func (d *Dispatcher) Publish(ctx context.Context, rec storage.Record) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	var errs []error
	for _, s := range d.sinks {
		if err := s.handler(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting records and waits for buffered sinks to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) counted(name string, h HandlerFunc) HandlerFunc {
	attr := metric.WithAttributes(attribute.String("sink", name))
	return func(ctx context.Context, rec storage.Record) error {
		err := h(ctx, rec)
		if err == nil {
			d.processed.Add(ctx, 1, attr)
		}
		return err
	}
}

func (d *Dispatcher) withBuffer(name string, size int, blocking, logErrors bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan storage.Record, size)

	d.mu.Lock()
	d.buffers[name] = buffer
	d.mu.Unlock()

	attr := metric.WithAttributes(attribute.String("sink", name))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// queued records outlive the publisher's context
		ctx := context.Background()
		for rec := range buffer {
			if err := h(ctx, rec); err != nil {
				if logErrors {
					d.logger.Error("sink failed", "sink", name, "error", err)
				}
				continue
			}
			d.processed.Add(ctx, 1, attr)
		}
	}()

	if blocking {
		return func(ctx context.Context, rec storage.Record) error {
			select {
			case buffer <- rec:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return func(ctx context.Context, rec storage.Record) error {
		select {
		case buffer <- rec:
			return nil
		default:
			d.dropped.Add(ctx, 1, attr)
			d.logger.Warn("sink queue full, record dropped", "sink", name)
			return fmt.Errorf("queue full: %s", name)
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, rec storage.Record) error {
		start := time.Now()
		d.logger.Debug("delivering fix", "sink", name, "mode", rec.Snapshot.FixLabel())

		err := h(ctx, rec)

		if err != nil {
			d.logger.Error("sink failed", "sink", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("sink complete", "sink", name, "duration", time.Since(start))
		}
		return err
	}
}
