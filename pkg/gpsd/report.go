package gpsd

import (
	"encoding/json"
	"fmt"
)

// ParseReportJSON decodes a POLL message body and parses it with ParseReport.
func ParseReportJSON(data []byte) (Snapshot, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Snapshot{}, fmt.Errorf("gpsd: decode poll report: %w", err)
	}
	return ParseReport(r)
}

// ParseReport builds a Snapshot from the last tpv and the last sky entry of
// a POLL report. gpsd may batch reports of several devices in one message;
// the most recent one wins.
func ParseReport(r Report) (Snapshot, error) {
	if r.Active == 0 {
		return Snapshot{}, ErrNotActive
	}
	if len(r.TPV) == 0 || len(r.Sky) == 0 {
		return Snapshot{}, ErrIncompleteReport
	}
	tpv := r.TPV[len(r.TPV)-1]
	sky := r.Sky[len(r.Sky)-1]

	var s Snapshot

	s.Satellites = len(sky.Satellites)
	for _, sat := range sky.Satellites {
		if sat.Used {
			s.SatellitesUsed++
		}
	}
	s.HDOP = orZero(sky.HDOP)
	s.VDOP = orZero(sky.VDOP)
	s.PDOP = orZero(sky.PDOP)

	s.Mode = FixQuality(tpv.Mode)

	if s.Mode >= Fix2D {
		s.Longitude = orZero(tpv.Lon)
		s.Latitude = orZero(tpv.Lat)
		s.Track = orZero(tpv.Track)
		s.Speed = orZero(tpv.Speed)
		if tpv.Time != nil {
			s.Time = *tpv.Time
		}
		s.Error = ErrorMargins{
			Speed:     orZero(tpv.Eps),
			Time:      orZero(tpv.Ept),
			Longitude: orZero(tpv.Epx),
			Latitude:  orZero(tpv.Epy),
		}
	}

	if s.Mode >= Fix3D {
		s.Altitude = orZero(tpv.Alt)
		s.Climb = orZero(tpv.Climb)
		s.Error.Climb = orZero(tpv.Epc)
		s.Error.Vertical = orZero(tpv.Epv)
	}

	return s, nil
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
