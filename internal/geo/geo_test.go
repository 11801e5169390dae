package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoords3857From4326_Origin(t *testing.T) {
	point, err := Coords3857From4326(0, 0)
	require.NoError(t, err)

	xy, ok := point.XY()
	require.True(t, ok)
	assert.InDelta(t, 0, xy.X, 1e-6)
	assert.InDelta(t, 0, xy.Y, 1e-6)
}

func TestCoords3857From4326_KnownValue(t *testing.T) {
	// Boulder, CO
	point, err := Coords3857From4326(-105, 40)
	require.NoError(t, err)

	xy, ok := point.XY()
	require.True(t, ok)
	assert.InDelta(t, -11688546.53, xy.X, 1)
	assert.InDelta(t, 4865942.28, xy.Y, 1)
}

func TestCoords3857From4326_Invalid(t *testing.T) {
	for _, c := range [][2]float64{{181, 0}, {0, 89}, {math.NaN(), 0}} {
		point, err := Coords3857From4326(c[0], c[1])
		assert.True(t, errors.Is(err, ErrInvalidCoordinates), "%v", c)
		assert.True(t, point.IsEmpty())
	}
}

func TestCoords4326From3857_RoundTrip(t *testing.T) {
	point, err := Coords3857From4326(-74.006, 40.7128)
	require.NoError(t, err)

	lon, lat, err := Coords4326From3857(point)
	require.NoError(t, err)
	assert.InDelta(t, -74.006, lon, 1e-9)
	assert.InDelta(t, 40.7128, lat, 1e-9)
}

func TestPointFromSnapshot(t *testing.T) {
	point, err := PointFromSnapshot(gpsd.Snapshot{Mode: gpsd.Fix2D, Latitude: 40, Longitude: -105})
	require.NoError(t, err)
	assert.False(t, point.IsEmpty())

	point, err = PointFromSnapshot(gpsd.Snapshot{Mode: gpsd.NoFix})
	var fixErr *gpsd.InsufficientFixError
	assert.ErrorAs(t, err, &fixErr)
	assert.True(t, point.IsEmpty())
}
