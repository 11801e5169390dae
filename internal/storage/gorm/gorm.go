// Package gormstorage implements storage.Backend on a SQL database through
// gorm. Fixes are queued and written in batches, either when a batch fills
// up or on a timer.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/database"
	"github.com/progeek/gpsd-influxdb/internal/model"
	"github.com/progeek/gpsd-influxdb/internal/model/convert"
	"github.com/progeek/gpsd-influxdb/internal/queue"
	"github.com/progeek/gpsd-influxdb/internal/storage"
	"github.com/rs/zerolog"
)

// pending fixes kept per batch while the database is failing
const pendingBatches = 100

// Backend implements storage.Backend with queue-based batch writes.
type Backend struct {
	db     *database.Manager
	logger zerolog.Logger

	batchSize     int
	flushInterval time.Duration
	fixes         *queue.Queue[model.Fix]

	devMu   sync.Mutex
	devices map[string]uint // device path -> row id

	flushMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

var _ storage.Backend = (*Backend)(nil)

// New creates a backend writing through db.
func New(db *database.Manager, cfg config.DBConfig, logger zerolog.Logger) *Backend {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &Backend{
		db:            db,
		logger:        logger,
		batchSize:     batch,
		flushInterval: cfg.FlushInterval,
		fixes:         queue.New[model.Fix](batch * pendingBatches),
		devices:       make(map[string]uint),
	}
}

// Name implements storage.Backend.
func (b *Backend) Name() string { return "database" }

// Init connects, migrates the schema and starts the flush timer.
func (b *Backend) Init(ctx context.Context) error {
	if err := b.db.Connect(ctx); err != nil {
		return err
	}
	if err := b.db.Setup(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.flushLoop()
	return nil
}

// RecordFix queues the fix and flushes when a batch is complete.
func (b *Backend) RecordFix(ctx context.Context, rec storage.Record) error {
	fix := convert.RecordToFix(rec)

	if dev, ok := convert.RecordToDevice(rec); ok {
		id, err := b.deviceID(ctx, dev)
		if err != nil {
			return fmt.Errorf("resolving device %s: %w", dev.Path, err)
		}
		fix.DeviceID = &id
	}

	if evicted := b.fixes.Push(fix); evicted > 0 {
		b.logger.Warn().Int("evicted", evicted).Msg("Fix queue full, oldest fixes dropped")
	}

	if b.fixes.Len() >= b.batchSize {
		return b.Flush(ctx)
	}
	return nil
}

// deviceID returns the row id of the device, creating or refreshing the
// row on first sight in this session.
func (b *Backend) deviceID(ctx context.Context, dev model.Device) (uint, error) {
	b.devMu.Lock()
	defer b.devMu.Unlock()
	if id, ok := b.devices[dev.Path]; ok {
		return id, nil
	}

	if b.db.DB == nil {
		return 0, errors.New("database not connected")
	}

	row := model.Device{}
	err := b.db.DB.WithContext(ctx).
		Where(model.Device{Path: dev.Path}).
		Assign(model.Device{Driver: dev.Driver, Speed: dev.Speed, LastSeen: dev.LastSeen}).
		FirstOrCreate(&row).Error
	if err != nil {
		return 0, err
	}

	b.devices[dev.Path] = row.ID
	b.logger.Debug().Str("path", dev.Path).Uint("id", row.ID).Msg("Device registered")
	return row.ID, nil
}

// Flush writes all queued fixes in one transaction. On failure the fixes
// go back to the front of the queue.
func (b *Backend) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	if b.fixes.Empty() {
		return nil
	}
	if b.db.DB == nil {
		return errors.New("database not connected")
	}

	items := b.fixes.Drain()
	start := time.Now()

	tx := b.db.DB.WithContext(ctx).Begin()
	if err := tx.Create(&items).Error; err != nil {
		tx.Rollback()
		b.fixes.Requeue(items)
		return fmt.Errorf("error creating fixes: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		b.fixes.Requeue(items)
		return fmt.Errorf("error committing fixes: %w", err)
	}

	b.touchDevices(ctx, items)

	b.logger.Debug().Int("count", len(items)).Dur("duration", time.Since(start)).Msg("Fixes written")
	return nil
}

func (b *Backend) touchDevices(ctx context.Context, items []model.Fix) {
	lastSeen := make(map[uint]time.Time)
	for _, f := range items {
		if f.DeviceID != nil && f.PollTime.After(lastSeen[*f.DeviceID]) {
			lastSeen[*f.DeviceID] = f.PollTime
		}
	}
	for id, t := range lastSeen {
		err := b.db.DB.WithContext(ctx).Model(&model.Device{}).
			Where("id = ?", id).Update("last_seen", t).Error
		if err != nil {
			b.logger.Warn().Err(err).Uint("id", id).Msg("Failed to update device last_seen")
		}
	}
}

func (b *Backend) flushLoop() {
	defer close(b.done)
	if b.flushInterval <= 0 {
		<-b.stopChan
		return
	}

	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				b.logger.Error().Err(err).Int("pending", b.fixes.Len()).Msg("Periodic flush failed")
			}
		}
	}
}

// Close stops the timer, writes what is still queued and closes the
// connection.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
	}
	flushErr := b.Flush(context.Background())
	return errors.Join(flushErr, b.db.Close())
}

// Pending returns the number of queued fixes.
func (b *Backend) Pending() int {
	return b.fixes.Len()
}
