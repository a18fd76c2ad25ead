// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package geo

import "testing"

func TestDistanceKmZero(t *testing.T) {
	if d := DistanceKm(40, -74, 40, -74); d > 1e-9 {
		t.Fatalf("expected ~0, got %f", d)
	}
}

func TestDistanceKmKnown(t *testing.T) {
	// New York to London, roughly 5570km.
	d := DistanceKm(40.7128, -74.0060, 51.5074, -0.1278)
	if d < 5500 || d > 5650 {
		t.Fatalf("expected ~5570km, got %f", d)
	}
}

func TestDestinationRoundTrip(t *testing.T) {
	lat, lon := 10.0, 20.0
	destLat, destLon := Destination(lat, lon, 90, 100)
	back := DistanceKm(lat, lon, destLat, destLon)
	if back < 99 || back > 101 {
		t.Fatalf("expected ~100km, got %f", back)
	}
}

func TestBearingDegCardinal(t *testing.T) {
	// Due north.
	b := BearingDeg(0, 0, 1, 0)
	if b < -1e-6 || b > 1 {
		t.Fatalf("expected ~0deg, got %f", b)
	}
	// Due east.
	b = BearingDeg(0, 0, 0, 1)
	if b < 89 || b > 91 {
		t.Fatalf("expected ~90deg, got %f", b)
	}
}

func TestCircularMeanDeg(t *testing.T) {
	mean := CircularMeanDeg([]float64{350, 10}, []float64{1, 1})
	if mean > 1 && mean < 359 {
		t.Fatalf("expected mean near 0/360, got %f", mean)
	}
}

func TestHeadingDelta(t *testing.T) {
	if d := HeadingDelta(350, 10); d != 20 {
		t.Fatalf("expected 20, got %f", d)
	}
	if d := HeadingDelta(10, 350); d != 20 {
		t.Fatalf("expected 20, got %f", d)
	}
}

func TestClamp(t *testing.T) {
	if Clamp(5, 0, 1) != 1 {
		t.Fatal("expected clamp to hi")
	}
	if Clamp(-5, 0, 1) != 0 {
		t.Fatal("expected clamp to lo")
	}
	if Clamp(0.5, 0, 1) != 0.5 {
		t.Fatal("expected unchanged")
	}
}
