package gpsd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReportJSON_3DFix(t *testing.T) {
	data := []byte(`{"class":"POLL","active":true,` +
		`"tpv":[{"mode":3,"lat":40.0,"lon":-105.0,"alt":1609.0,"epc":0.1,"epv":0.2}],` +
		`"sky":[{"satellites":[{"used":true},{"used":false}]}]}`)

	s, err := ParseReportJSON(data)
	require.NoError(t, err)

	assert.Equal(t, Fix3D, s.Mode)
	assert.Equal(t, 2, s.Satellites)
	assert.Equal(t, 1, s.SatellitesUsed)
	assert.Equal(t, 1609.0, s.Altitude)
	assert.Equal(t, 0.2, s.Error.Vertical)
	assert.Equal(t, 0.1, s.Error.Climb)

	lat, lon, err := s.Position()
	require.NoError(t, err)
	assert.Equal(t, 40.0, lat)
	assert.Equal(t, -105.0, lon)
}

func TestParseReport_NotActive(t *testing.T) {
	for _, data := range []string{
		`{"class":"POLL","active":false,"tpv":[{"mode":3}],"sky":[{}]}`,
		`{"class":"POLL","active":0,"tpv":[{"mode":3}],"sky":[{}]}`,
		`{"class":"POLL","tpv":[],"sky":[]}`,
	} {
		s, err := ParseReportJSON([]byte(data))
		assert.ErrorIs(t, err, ErrNotActive, data)
		assert.Equal(t, Snapshot{}, s)
	}
}

func TestParseReport_ActiveCount(t *testing.T) {
	s, err := ParseReportJSON([]byte(`{"class":"POLL","active":2,"tpv":[{"mode":1}],"sky":[{}]}`))
	require.NoError(t, err)
	assert.Equal(t, NoFix, s.Mode)
}

func TestParseReport_Incomplete(t *testing.T) {
	_, err := ParseReportJSON([]byte(`{"class":"POLL","active":1,"tpv":[],"sky":[{}]}`))
	assert.ErrorIs(t, err, ErrIncompleteReport)

	_, err = ParseReportJSON([]byte(`{"class":"POLL","active":1,"tpv":[{"mode":2}]}`))
	assert.ErrorIs(t, err, ErrIncompleteReport)
}

func TestParseReport_Malformed(t *testing.T) {
	_, err := ParseReportJSON([]byte(`{"class":"POLL","active":"yes"}`))
	assert.Error(t, err)
}

func TestParseReport_LastEntryWins(t *testing.T) {
	data := []byte(`{"class":"POLL","active":2,` +
		`"tpv":[{"mode":3,"lat":1.0,"lon":2.0},{"mode":2,"lat":50.5,"lon":8.25}],` +
		`"sky":[{"hdop":9.9,"satellites":[{"used":true}]},{"hdop":1.1,"vdop":1.2,"pdop":1.3}]}`)

	s, err := ParseReportJSON(data)
	require.NoError(t, err)

	assert.Equal(t, Fix2D, s.Mode)
	assert.Equal(t, 50.5, s.Latitude)
	assert.Equal(t, 8.25, s.Longitude)
	assert.Equal(t, 1.1, s.HDOP)
	assert.Equal(t, 1.2, s.VDOP)
	assert.Equal(t, 1.3, s.PDOP)
	// last sky entry carries no satellite list
	assert.Equal(t, 0, s.Satellites)
	assert.Equal(t, 0, s.SatellitesUsed)
}

func TestParseReport_BelowFix2DKeepsDefaults(t *testing.T) {
	for _, mode := range []int{0, 1} {
		lat, lon, alt, speed, climb, track := 10.0, 20.0, 30.0, 4.0, 1.5, 90.0
		eps, epx := 0.5, 0.7
		ts := "2024-05-01T12:30:45.123Z"
		r := Report{
			Active: 1,
			TPV: []TPV{{
				Mode: mode, Lat: &lat, Lon: &lon, Alt: &alt, Speed: &speed,
				Climb: &climb, Track: &track, Eps: &eps, Epx: &epx, Time: &ts,
			}},
			Sky: []Sky{{}},
		}

		s, err := ParseReport(r)
		require.NoError(t, err)
		assert.Equal(t, Snapshot{Mode: FixQuality(mode)}, s)
	}
}

func TestParseReport_Fix2D(t *testing.T) {
	lat, lon, alt, climb, epc, epv := 48.1, 11.5, 520.0, 2.0, 0.3, 4.0
	speed, track, eps, ept, epx, epy := 12.5, 180.0, 0.4, 0.005, 3.1, 2.9
	ts := "2024-05-01T12:30:45.123Z"
	r := Report{
		Active: 1,
		TPV: []TPV{{
			Mode: 2, Lat: &lat, Lon: &lon, Alt: &alt, Climb: &climb, Epc: &epc, Epv: &epv,
			Speed: &speed, Track: &track, Eps: &eps, Ept: &ept, Epx: &epx, Epy: &epy, Time: &ts,
		}},
		Sky: []Sky{{}},
	}

	s, err := ParseReport(r)
	require.NoError(t, err)

	assert.Equal(t, lat, s.Latitude)
	assert.Equal(t, lon, s.Longitude)
	assert.Equal(t, speed, s.Speed)
	assert.Equal(t, track, s.Track)
	assert.Equal(t, ts, s.Time)
	assert.Equal(t, ErrorMargins{Speed: eps, Time: ept, Longitude: epx, Latitude: epy}, s.Error)

	// 3D-only fields are not taken from a 2D fix
	assert.Zero(t, s.Altitude)
	assert.Zero(t, s.Climb)
	assert.Zero(t, s.Error.Climb)
	assert.Zero(t, s.Error.Vertical)
}

func TestParseReport_Fix3DMissingFieldsDefault(t *testing.T) {
	s, err := ParseReportJSON([]byte(`{"class":"POLL","active":1,"tpv":[{"mode":3}],"sky":[{}]}`))
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Mode: Fix3D}, s)
}

func TestParseReport_ModePassThrough(t *testing.T) {
	s, err := ParseReportJSON([]byte(`{"class":"POLL","active":1,"tpv":[{"mode":7,"lat":1.5,"alt":3}],"sky":[{}]}`))
	require.NoError(t, err)
	assert.Equal(t, FixQuality(7), s.Mode)
	assert.Equal(t, 1.5, s.Latitude)
	assert.Equal(t, 3.0, s.Altitude)
	assert.Equal(t, "Unknown mode", s.FixLabel())
}

func TestParseReport_FixLabels(t *testing.T) {
	want := []string{"No mode", "No fix", "2D Fix", "3D Fix"}
	for mode, label := range want {
		s, err := ParseReport(Report{Active: 1, TPV: []TPV{{Mode: mode}}, Sky: []Sky{{}}})
		require.NoError(t, err)
		assert.Equal(t, label, s.FixLabel())
	}
}
