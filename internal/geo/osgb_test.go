package geo

import (
	"errors"
	"math"
	"testing"
)

// Expected values come from the Ordnance Survey transverse Mercator series
// and Helmert shift computed independently; the Caister water tower point
// is the worked example from "A guide to coordinate systems in Great
// Britain".
func TestOSGB36ToWGS84(t *testing.T) {
	tests := []struct {
		name             string
		easting, north   float64
		wantLat, wantLng float64
	}{
		{"west sussex postcode", 493786, 99056, 50.783503783, -0.671001617},
		{"caister water tower", 651409.903, 313177.270, 52.657978598, 1.716051942},
		{"central meridian", 400000, 100000, 50.799560603, -2.001367156},
		{"hampshire", 439900, 127930, 51.049339009, -1.432164411},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lng, err := OSGB36ToWGS84(tt.easting, tt.north)
			if err != nil {
				t.Fatalf("OSGB36ToWGS84() error = %v", err)
			}
			if math.Abs(lat-tt.wantLat) > 1e-6 {
				t.Errorf("lat = %.10f, want %.10f", lat, tt.wantLat)
			}
			if math.Abs(lng-tt.wantLng) > 1e-6 {
				t.Errorf("lng = %.10f, want %.10f", lng, tt.wantLng)
			}
		})
	}
}

func TestOSGB36ToWGS84_Deterministic(t *testing.T) {
	lat1, lng1, _ := OSGB36ToWGS84(530000, 180000)
	lat2, lng2, _ := OSGB36ToWGS84(530000, 180000)
	if lat1 != lat2 || lng1 != lng2 {
		t.Error("conversion is not deterministic")
	}
}

func TestOSGB36ToWGS84_NonFinite(t *testing.T) {
	inputs := [][2]float64{
		{math.NaN(), 100000},
		{400000, math.NaN()},
		{math.Inf(1), 100000},
		{400000, math.Inf(-1)},
	}

	for _, in := range inputs {
		_, _, err := OSGB36ToWGS84(in[0], in[1])
		if !errors.Is(err, ErrNonFinite) {
			t.Errorf("OSGB36ToWGS84(%v, %v) error = %v, want ErrNonFinite", in[0], in[1], err)
		}
	}
}

func TestOSGB36ToWGS84_OutOfRange(t *testing.T) {
	_, _, err := OSGB36ToWGS84(9999999999, 99056)
	if !errors.Is(err, ErrOutOfRange) {
		t.Errorf("error = %v, want ErrOutOfRange", err)
	}
}
