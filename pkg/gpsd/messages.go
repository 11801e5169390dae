package gpsd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Message classes used by the client.
const (
	ClassVersion = "VERSION"
	ClassDevices = "DEVICES"
	ClassWatch   = "WATCH"
	ClassPoll    = "POLL"
)

type envelope struct {
	Class string `json:"class"`
}

// Version is the daemon's welcome announcement.
type Version struct {
	Release    string `json:"release"`
	Rev        string `json:"rev"`
	ProtoMajor int    `json:"proto_major"`
	ProtoMinor int    `json:"proto_minor"`
}

// Device describes one receiver known to the daemon.
type Device struct {
	Path      string  `json:"path"`
	Driver    string  `json:"driver"`
	Subtype   string  `json:"subtype,omitempty"`
	Activated string  `json:"activated,omitempty"`
	BPS       int     `json:"bps"`
	Parity    string  `json:"parity,omitempty"`
	StopBits  int     `json:"stopbits,omitempty"`
	Cycle     float64 `json:"cycle,omitempty"`
}

type devicesMessage struct {
	Devices []Device `json:"devices"`
}

// Watch is the daemon's acknowledgment of the watch policy.
type Watch struct {
	Enable bool   `json:"enable"`
	JSON   bool   `json:"json"`
	NMEA   bool   `json:"nmea"`
	Raw    int    `json:"raw"`
	Scaled bool   `json:"scaled"`
	Timing bool   `json:"timing"`
	Split  bool   `json:"split24"`
	PPS    bool   `json:"pps"`
	Device string `json:"device,omitempty"`
}

// Report is the body of a POLL response.
type Report struct {
	Time   string `json:"time"`
	Active Active `json:"active"`
	TPV    []TPV  `json:"tpv"`
	Sky    []Sky  `json:"sky"`
}

// Active is the POLL "active" member. gpsd sends the number of active
// devices; older clients and fixtures use a boolean.
type Active int

// UnmarshalJSON accepts a JSON number or boolean.
func (a *Active) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*a = 1
		return nil
	case "false", "null":
		*a = 0
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("gpsd: invalid active value %s", data)
	}
	*a = Active(n)
	return nil
}

// TPV is a time-position-velocity report. Optional members are pointers so
// that absence can be told apart from zero.
type TPV struct {
	Device string   `json:"device,omitempty"`
	Mode   int      `json:"mode"`
	Time   *string  `json:"time,omitempty"`
	Lat    *float64 `json:"lat,omitempty"`
	Lon    *float64 `json:"lon,omitempty"`
	Alt    *float64 `json:"alt,omitempty"`
	Track  *float64 `json:"track,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Climb  *float64 `json:"climb,omitempty"`
	Epc    *float64 `json:"epc,omitempty"`
	Eps    *float64 `json:"eps,omitempty"`
	Ept    *float64 `json:"ept,omitempty"`
	Epv    *float64 `json:"epv,omitempty"`
	Epx    *float64 `json:"epx,omitempty"`
	Epy    *float64 `json:"epy,omitempty"`
}

// Satellite is one entry of a sky view.
type Satellite struct {
	PRN  int     `json:"PRN"`
	El   float64 `json:"el"`
	Az   float64 `json:"az"`
	SS   float64 `json:"ss"`
	Used bool    `json:"used"`
}

// Sky is a sky-view report.
type Sky struct {
	Device     string      `json:"device,omitempty"`
	HDOP       *float64    `json:"hdop,omitempty"`
	VDOP       *float64    `json:"vdop,omitempty"`
	PDOP       *float64    `json:"pdop,omitempty"`
	Satellites []Satellite `json:"satellites,omitempty"`
}

func decodeClass(line []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return "", fmt.Errorf("gpsd: decode message: %w", err)
	}
	return env.Class, nil
}
