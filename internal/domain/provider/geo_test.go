package provider

import (
	"math"
	"testing"
)

func TestHaversineKm_KnownDistance(t *testing.T) {
	// Lagos to Abuja is roughly 525 km great-circle.
	d := haversineKm(6.5244, 3.3792, 9.0765, 7.3986)
	if d < 500 || d > 550 {
		t.Errorf("expected ~525 km, got %f", d)
	}
}

func TestHaversineKm_SamePoint(t *testing.T) {
	d := haversineKm(6.5244, 3.3792, 6.5244, 3.3792)
	if d != 0 {
		t.Errorf("expected 0, got %f", d)
	}
}

func TestHaversineKm_OneDegreeLongitudeAtEquator(t *testing.T) {
	d := haversineKm(0, 0, 0, 1)
	if math.Abs(d-111.19) > 0.5 {
		t.Errorf("expected ~111.19 km, got %f", d)
	}
}

func TestValidCoordinates(t *testing.T) {
	cases := []struct {
		lat, lng, radius float64
		want             bool
	}{
		{6.5, 3.4, 10, true},
		{-90, -180, 0.1, true},
		{90, 180, 1000, true},
		{100, 3.4, 10, false},
		{6.5, 200, 10, false},
		{-91, 0, 10, false},
		{0, -181, 10, false},
		{6.5, 3.4, 0, false},
		{6.5, 3.4, -5, false},
	}
	for _, tc := range cases {
		if got := validCoordinates(tc.lat, tc.lng, tc.radius); got != tc.want {
			t.Errorf("validCoordinates(%f, %f, %f) = %v, want %v", tc.lat, tc.lng, tc.radius, got, tc.want)
		}
	}
}
