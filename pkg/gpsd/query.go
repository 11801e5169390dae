package gpsd

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the gpsd timestamp format: UTC with millisecond fraction.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// parseLayout takes any fraction width; older gpsd releases send fewer
// than three digits (45.28Z).
const parseLayout = "2006-01-02T15:04:05.999999999Z"

// position of the fraction separator in a gpsd timestamp
const fractionIndex = len("2006-01-02T15:04:05")

var errNoFraction = errors.New("missing fractional seconds")

const mapURLFormat = "https://www.openstreetmap.org/?mlat=%s&mlon=%s&zoom=15"

// Movement is the horizontal speed, course and vertical rate of a 3D fix.
type Movement struct {
	Speed float64 `json:"speed"`
	Track float64 `json:"track"`
	Climb float64 `json:"climb"`
}

func (s Snapshot) require(min FixQuality) error {
	if s.Mode >= min {
		return nil
	}
	reason := "needs at least 2D fix"
	if min >= Fix3D {
		reason = "needs at least 3D fix"
	}
	return &InsufficientFixError{Required: min, Actual: s.Mode, Reason: reason}
}

// Position returns latitude and longitude in degrees. Needs a 2D fix.
func (s Snapshot) Position() (lat, lon float64, err error) {
	if err := s.require(Fix2D); err != nil {
		return 0, 0, err
	}
	return s.Latitude, s.Longitude, nil
}

// AltitudeMeters returns the altitude. Needs a 3D fix.
func (s Snapshot) AltitudeMeters() (float64, error) {
	if err := s.require(Fix3D); err != nil {
		return 0, err
	}
	return s.Altitude, nil
}

// Movement returns speed, track and climb. Needs a 3D fix.
func (s Snapshot) Movement() (Movement, error) {
	if err := s.require(Fix3D); err != nil {
		return Movement{}, err
	}
	return Movement{Speed: s.Speed, Track: s.Track, Climb: s.Climb}, nil
}

// VerticalSpeed returns the climb rate with movements inside the climb error
// margin filtered out. Needs a 2D fix.
//
// The climb margin is only populated for a 3D fix, so with a 2D fix the raw
// climb (zero) is returned.
func (s Snapshot) VerticalSpeed() (float64, error) {
	if err := s.require(Fix2D); err != nil {
		return 0, err
	}
	if math.Abs(s.Climb) < s.Error.Climb {
		return 0, nil
	}
	return s.Climb, nil
}

// GroundSpeed returns the horizontal speed with movements inside the speed
// error margin filtered out. Needs a 2D fix.
func (s Snapshot) GroundSpeed() (float64, error) {
	if err := s.require(Fix2D); err != nil {
		return 0, err
	}
	if math.Abs(s.Speed) < s.Error.Speed {
		return 0, nil
	}
	return s.Speed, nil
}

// PositionPrecision returns the horizontal error (the larger of the
// longitude and latitude errors) and the vertical error, in meters.
// Needs a 2D fix.
func (s Snapshot) PositionPrecision() (horizontal, vertical float64, err error) {
	if err := s.require(Fix2D); err != nil {
		return 0, 0, err
	}
	return math.Max(s.Error.Longitude, s.Error.Latitude), s.Error.Vertical, nil
}

// MapURL returns an OpenStreetMap link centred on the position. Needs a 2D fix.
func (s Snapshot) MapURL() (string, error) {
	if err := s.require(Fix2D); err != nil {
		return "", err
	}
	return fmt.Sprintf(mapURLFormat, formatDegrees(s.Latitude), formatDegrees(s.Longitude)), nil
}

// Timestamp parses the fix time. With useLocal the result is converted to
// the local time zone, otherwise it is UTC. Needs a 2D fix.
func (s Snapshot) Timestamp(useLocal bool) (time.Time, error) {
	if err := s.require(Fix2D); err != nil {
		return time.Time{}, err
	}
	t, err := parseTime(s.Time)
	if err != nil {
		return time.Time{}, &FormatError{Text: s.Time, Err: err}
	}
	if useLocal {
		return t.In(time.Local), nil
	}
	return t, nil
}

// FixLabel returns the human-readable fix quality.
func (s Snapshot) FixLabel() string {
	return s.Mode.String()
}

func parseTime(text string) (time.Time, error) {
	if len(text) <= fractionIndex || text[fractionIndex] != '.' {
		return time.Time{}, errNoFraction
	}
	return time.Parse(parseLayout, text)
}

// formatDegrees prints the shortest exact form, keeping ".0" on whole
// degrees (40.0, not 40).
func formatDegrees(v float64) string {
	out := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(out, ".") {
		out += ".0"
	}
	return out
}
