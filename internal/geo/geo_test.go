package geo

import "testing"

func TestDistanceKmZero(t *testing.T) {
	if d := DistanceKm(12.9716, 77.5946, 12.9716, 77.5946); d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmOneDegreeLongitudeAtEquator(t *testing.T) {
	d := DistanceKm(0, 0, 0, 1)
	if d < 110.5 || d > 112.0 {
		t.Fatalf("expected ~111.2km, got %f", d)
	}
}

func TestDistanceKmCityScale(t *testing.T) {
	// Bangalore city center to a nearby mechanic, just over a kilometer.
	d := DistanceKm(12.9716, 77.5946, 12.98, 77.60)
	if d < 1.0 || d > 1.3 {
		t.Fatalf("expected ~1.1km, got %f", d)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(1.23456); got != 1.23 {
		t.Fatalf("expected 1.23, got %f", got)
	}
	if got := Round2(5.678); got != 5.68 {
		t.Fatalf("expected 5.68, got %f", got)
	}
}
