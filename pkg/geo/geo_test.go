package geo_test

import (
	"math"
	"testing"

	"github.com/ButterJack07/Momentmap-web-final/pkg/geo"
)

func TestDistanceZeroForIdenticalPoints(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{40.0, -75.0},
		{-33.8688, 151.2093},
		{89.9, 179.9},
	}
	for _, p := range points {
		if d := geo.DistanceMeters(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("DistanceMeters(%v, %v, same) = %v, want 0", p[0], p[1], d)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{40.0, -75.0, 40.01, -75.01},
		{0, 0, 10, 10},
		{-45, 100, 45, -100},
	}
	for _, p := range pairs {
		ab := geo.DistanceMeters(p[0], p[1], p[2], p[3])
		ba := geo.DistanceMeters(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-6 {
			t.Errorf("asymmetric distance: %v vs %v", ab, ba)
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude is roughly 111.19 km on the 6371 km sphere.
	d := geo.DistanceMeters(0, 0, 1, 0)
	if math.Abs(d-111195) > 50 {
		t.Errorf("one degree of latitude = %v m, want ~111195 m", d)
	}

	// Paris -> London, roughly 344 km.
	d = geo.DistanceMeters(48.8566, 2.3522, 51.5074, -0.1278)
	if d < 330000 || d > 360000 {
		t.Errorf("Paris-London = %v m, want ~344 km", d)
	}
}

func TestDistanceNonNegative(t *testing.T) {
	if d := geo.DistanceMeters(40, -75, 40.0001, -75.0001); d <= 0 {
		t.Errorf("expected positive distance, got %v", d)
	}
}

func TestValidCoordinates(t *testing.T) {
	cases := []struct {
		lat, lng float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.1, 0, false},
		{0, 180.1, false},
		{math.NaN(), 0, false},
		{0, math.NaN(), false},
	}
	for _, c := range cases {
		if got := geo.ValidCoordinates(c.lat, c.lng); got != c.want {
			t.Errorf("ValidCoordinates(%v, %v) = %v, want %v", c.lat, c.lng, got, c.want)
		}
	}
}
