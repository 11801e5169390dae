package geo

import (
	"errors"
	"math"

	"github.com/progeek/gpsd-influxdb/pkg/gpsd"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Points are always stored as EPSG:3857. SQLite has no spatial awareness,
// so the column is plain WKB and both dialects share one representation.

// SRID is the spatial reference of stored points.
const SRID = 3857

// ErrInvalidCoordinates is returned for coordinates outside the WGS84 range.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// Web-Mercator is undefined at the poles
const maxMercatorLatitude = 85.05112878

// Coords3857From4326 projects a WGS84 longitude/latitude into a Web-Mercator
// point.
func Coords3857From4326(longitude, latitude float64) (geom.Point, error) {
	if math.IsNaN(longitude) || math.IsNaN(latitude) ||
		math.Abs(longitude) > 180 || math.Abs(latitude) > maxMercatorLatitude {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(4326, SRID)
	x, y, _ := f(longitude, latitude, 0)
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}}), nil
}

// Coords4326From3857 is the inverse of Coords3857From4326.
func Coords4326From3857(p geom.Point) (longitude, latitude float64, err error) {
	xy, ok := p.XY()
	if !ok {
		return 0, 0, ErrInvalidCoordinates
	}
	f := wgs84.EPSG().Transform(SRID, 4326)
	longitude, latitude, _ = f(xy.X, xy.Y, 0)
	return longitude, latitude, nil
}

// PointFromSnapshot returns the projected position of a snapshot. Snapshots
// below a 2D fix have no position and yield an empty point.
func PointFromSnapshot(s gpsd.Snapshot) (geom.Point, error) {
	lat, lon, err := s.Position()
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXY), err
	}
	return Coords3857From4326(lon, lat)
}
