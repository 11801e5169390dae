package gpsd

// ErrorMargins holds the gpsd error estimates of a fix, 95% confidence.
//
// Speed, Time, Longitude and Latitude are populated from a 2D fix on;
// Climb and Vertical only for a 3D fix.
type ErrorMargins struct {
	Climb     float64 `json:"climb"`     // epc, m/s
	Speed     float64 `json:"speed"`     // eps, m/s
	Time      float64 `json:"time"`      // ept, seconds
	Vertical  float64 `json:"vertical"`  // epv, meters
	Longitude float64 `json:"longitude"` // epx, meters
	Latitude  float64 `json:"latitude"`  // epy, meters
}

// Snapshot is the parsed result of one poll. Fields that are not meaningful
// for the snapshot's fix quality keep their zero value.
type Snapshot struct {
	Mode           FixQuality `json:"mode"`
	Satellites     int        `json:"satellites"`
	SatellitesUsed int        `json:"satellitesUsed"`

	HDOP float64 `json:"hdop"`
	VDOP float64 `json:"vdop"`
	PDOP float64 `json:"pdop"`

	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
	Altitude  float64 `json:"alt"`
	Track     float64 `json:"track"`
	Speed     float64 `json:"speed"`
	Climb     float64 `json:"climb"`

	// Time is the ISO 8601 UTC timestamp text as sent by gpsd.
	Time string `json:"time"`

	Error ErrorMargins `json:"error"`
}
