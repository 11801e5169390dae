// Package convert turns recorded fixes into database rows.
package convert

import (
	"database/sql"
	"encoding/json"

	"github.com/progeek/gpsd-influxdb/internal/geo"
	"github.com/progeek/gpsd-influxdb/internal/model"
	"github.com/progeek/gpsd-influxdb/internal/storage"
	"gorm.io/datatypes"
)

// RecordToFix converts a record to a model.Fix. DeviceID is left for the
// caller, which knows the device row.
func RecordToFix(rec storage.Record) model.Fix {
	s := rec.Snapshot
	fix := model.Fix{
		Time:           rec.FixTime(),
		PollTime:       rec.PollTime,
		Mode:           uint8(s.Mode),
		Satellites:     s.Satellites,
		SatellitesUsed: s.SatellitesUsed,
		HDOP:           float32(s.HDOP),
		VDOP:           float32(s.VDOP),
		PDOP:           float32(s.PDOP),
		Track:          s.Track,
		Speed:          s.Speed,
		Errors:         errorsToJSON(rec),
	}

	// empty point below a 2D fix or outside the projectable range
	fix.Position, _ = geo.PointFromSnapshot(s)

	if lat, lon, err := s.Position(); err == nil {
		fix.Latitude = sql.NullFloat64{Float64: lat, Valid: true}
		fix.Longitude = sql.NullFloat64{Float64: lon, Valid: true}
	}
	if alt, err := s.AltitudeMeters(); err == nil {
		fix.Altitude = sql.NullFloat64{Float64: alt, Valid: true}
		fix.Climb = sql.NullFloat64{Float64: s.Climb, Valid: true}
	}
	return fix
}

// RecordToDevice returns the device row of a record; ok is false when the
// record carries no device.
func RecordToDevice(rec storage.Record) (dev model.Device, ok bool) {
	if rec.Device.Path == "" {
		return model.Device{}, false
	}
	return model.Device{
		Path:     rec.Device.Path,
		Driver:   rec.Device.Driver,
		Speed:    rec.Device.Speed,
		LastSeen: rec.PollTime,
	}, true
}

func errorsToJSON(rec storage.Record) datatypes.JSON {
	data, err := json.Marshal(rec.Snapshot.Error)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}
