// Package influx writes fixes to InfluxDB 2.x, falling back to a gzipped
// line-protocol file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/progeek/gpsd-influxdb/internal/config"
	"github.com/progeek/gpsd-influxdb/internal/storage"
	"github.com/rs/zerolog"
)

// Measurement is the InfluxDB measurement every fix is written to.
const Measurement = "gpsd"

// retention of a newly created bucket
const bucketRetentionSeconds = 60 * 60 * 24 * 90

// Manager handles the InfluxDB connection and writes. It implements
// storage.Backend.
type Manager struct {
	cfg    config.InfluxConfig
	logger zerolog.Logger

	client influxdb2.Client
	writer influxdb2_api.WriteAPI
	valid  bool

	mu         sync.Mutex
	backup     *gzip.Writer
	backupFile *os.File
}

var _ storage.Backend = (*Manager)(nil)

// NewManager creates a new InfluxDB manager.
func NewManager(log zerolog.Logger, cfg config.InfluxConfig) *Manager {
	return &Manager{cfg: cfg, logger: log}
}

// Name implements storage.Backend.
func (m *Manager) Name() string { return "influx" }

// Valid reports whether points go to the server rather than the backup file.
func (m *Manager) Valid() bool { return m.valid }

// Init connects to InfluxDB. When the server does not answer a ping the
// manager switches to the backup file and Init still succeeds.
func (m *Manager) Init(ctx context.Context) error {
	if !m.cfg.Enabled {
		return errors.New("influx.enabled is false")
	}

	m.client = influxdb2.NewClientWithOptions(
		m.cfg.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(100).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.valid = false
		m.logger.Warn().Err(err).Str("url", m.cfg.URL()).Str("backupPath", m.cfg.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}

	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.writer.Errors())

	m.valid = true
	m.logger.Info().Str("url", m.cfg.URL()).Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup != nil {
		return nil
	}
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backup = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()

	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}

	m.logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: bucketRetentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

// RecordFix implements storage.Backend.
func (m *Manager) RecordFix(ctx context.Context, rec storage.Record) error {
	return m.WritePoint(ctx, PointFromRecord(rec))
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(_ context.Context, point *influxdb2_write.Point) error {
	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return errors.New("influxDB client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Millisecond)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := m.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and backup file.
func (m *Manager) Close() error {
	if m.writer != nil {
		m.writer.Flush()
	}
	if m.client != nil {
		m.client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backup == nil {
		return nil
	}
	err := errors.Join(m.backup.Close(), m.backupFile.Close())
	m.backup, m.backupFile = nil, nil
	return err
}

// PointFromRecord builds the point for one record. Fields that are not
// meaningful for the record's fix quality are left out.
func PointFromRecord(rec storage.Record) *influxdb2_write.Point {
	s := rec.Snapshot
	p := influxdb2_write.NewPointWithMeasurement(Measurement).
		AddTag("fix", s.FixLabel()).
		AddField("mode", int(s.Mode)).
		AddField("satellites", s.Satellites).
		AddField("satellites_used", s.SatellitesUsed).
		AddField("hdop", s.HDOP).
		AddField("vdop", s.VDOP).
		AddField("pdop", s.PDOP).
		SetTime(rec.FixTime())

	if rec.Device.Path != "" {
		p.AddTag("device", rec.Device.Path)
	}
	if rec.Device.Driver != "" {
		p.AddTag("driver", rec.Device.Driver)
	}

	if lat, lon, err := s.Position(); err == nil {
		p.AddField("lat", lat).
			AddField("lon", lon).
			AddField("track", s.Track).
			AddField("speed", s.Speed).
			AddField("epx", s.Error.Longitude).
			AddField("epy", s.Error.Latitude).
			AddField("eps", s.Error.Speed).
			AddField("ept", s.Error.Time)
		if speed, err := s.GroundSpeed(); err == nil {
			p.AddField("ground_speed", speed)
		}
	}

	if alt, err := s.AltitudeMeters(); err == nil {
		p.AddField("alt", alt).
			AddField("climb", s.Climb).
			AddField("epv", s.Error.Vertical).
			AddField("epc", s.Error.Climb)
		if climb, err := s.VerticalSpeed(); err == nil {
			p.AddField("vertical_speed", climb)
		}
	}

	return p
}
