// Package geo converts Ordnance Survey National Grid coordinates to WGS84.
//
// The conversion is EPSG:27700 to EPSG:4326, which matches the proj
// definitions
//
//	+proj=tmerc +lat_0=49 +lon_0=-2 +k=0.9996012717 +x_0=400000 +y_0=-100000 +ellps=airy +datum=OSGB36
//	+proj=longlat +ellps=WGS84 +towgs84=0,0,0
//
// using the OSGB36 seven-parameter Helmert shift, which is accurate to a few
// metres across Great Britain.
package geo

import (
	"errors"
	"math"

	"github.com/wroge/wgs84"
)

var (
	// ErrNonFinite is returned when a conversion yields NaN or infinity.
	ErrNonFinite = errors.New("geo: non-finite coordinate")

	// ErrOutOfRange is returned for grid references far outside the area the
	// projection series converge on.
	ErrOutOfRange = errors.New("geo: grid reference out of range")
)

// EPSG codes of the National Grid and of WGS84 longitude/latitude.
const (
	NationalGrid = 27700
	LonLat       = 4326
)

// Accepted grid extent in metres. The National Grid itself covers
// 0..700000 E and 0..1300000 N.
const (
	minEasting  = -1_000_000
	maxEasting  = 2_000_000
	minNorthing = -1_000_000
	maxNorthing = 3_000_000
)

var gridToLonLat = wgs84.EPSG().Transform(NationalGrid, LonLat)

// OSGB36ToWGS84 converts a National Grid easting/northing in metres to WGS84
// latitude and longitude in degrees.
func OSGB36ToWGS84(easting, northing float64) (lat, lng float64, err error) {
	if !finite(easting) || !finite(northing) {
		return 0, 0, ErrNonFinite
	}
	if easting < minEasting || easting > maxEasting || northing < minNorthing || northing > maxNorthing {
		return 0, 0, ErrOutOfRange
	}

	lng, lat, _ = gridToLonLat(easting, northing, 0)
	if !finite(lat) || !finite(lng) {
		return 0, 0, ErrNonFinite
	}
	if math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return 0, 0, ErrOutOfRange
	}
	return lat, lng, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
