package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels lists every table of the schema, in migration order.
var DatabaseModels = []any{
	&Device{},
	&Fix{},
}

// Device is a GPS receiver reported by gpsd, keyed by its device path.
type Device struct {
	ID        uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
	Path      string    `json:"path" gorm:"size:255;uniqueIndex:idx_device_path"`
	Driver    string    `json:"driver" gorm:"size:64"`
	Speed     int       `json:"speed"` // bps
}

func (*Device) TableName() string {
	return "gps_devices"
}

// Fix is one polled snapshot. Position columns are NULL below a 2D fix,
// altitude and climb below a 3D fix.
type Fix struct {
	ID       uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time `json:"time" gorm:"index:idx_fix_time"` // receiver time, poll time without a fix
	PollTime time.Time `json:"pollTime"`
	DeviceID *uint     `json:"deviceId" gorm:"index:idx_fix_device_id"`
	Device   *Device   `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL;foreignKey:DeviceID"`

	Mode           uint8 `json:"mode"`
	Satellites     int   `json:"satellites"`
	SatellitesUsed int   `json:"satellitesUsed"`

	HDOP float32 `json:"hdop"`
	VDOP float32 `json:"vdop"`
	PDOP float32 `json:"pdop"`

	Latitude  sql.NullFloat64 `json:"lat"`
	Longitude sql.NullFloat64 `json:"lon"`
	Position  geom.Point      `json:"position"` // EPSG:3857
	Altitude  sql.NullFloat64 `json:"alt"`
	Track     float64         `json:"track"`
	Speed     float64         `json:"speed"`
	Climb     sql.NullFloat64 `json:"climb"`

	// gpsd error margins
	Errors datatypes.JSON `json:"errors"`
}

func (*Fix) TableName() string {
	return "gps_fixes"
}
