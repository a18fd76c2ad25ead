// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package balloon

import (
	"fmt"
	"time"
)

// Tunable constants from the tracking and prediction model. These are the
// hard gates and weights the Tracker and Predictor are built around.
const (
	MaxDistancePerHourKm = 600.0
	MaxAltDeltaKm        = 10.0
	MaxDirChangeDeg      = 45.0
	TypicalDriftKm       = 150.0

	WeightDistance = 0.15
	WeightHeading  = 0.55
	WeightSpeed    = 0.10
	WeightAltitude = 0.20

	GreedyCostThreshold    = 30.0
	GreedyAltDeltaKm       = 5.0
	HungarianCostThreshold = 70.0

	KmPerDegree = 111.0

	WindowHours = 24
)

// Status is the lifecycle state of a TrackedPosition.
type Status string

const (
	StatusActive Status = "active"
	StatusNew    Status = "new"
	StatusLost   Status = "lost"
)

// PredictionMethod selects how the Predictor extrapolates a trajectory.
type PredictionMethod string

const (
	MethodPersistence PredictionMethod = "persistence"
	MethodWind        PredictionMethod = "wind"
	MethodHybrid      PredictionMethod = "hybrid"
)

// RawObservation is an untyped position with no identity, as received from
// the upstream feed.
type RawObservation struct {
	Lat   float64
	Lon   float64
	AltKm float64
}

// Valid reports whether the observation satisfies the numeric invariants of
// the data model: finite lat/lon/alt within their physical ranges.
func (o RawObservation) Valid() bool {
	if isNaNOrInf(o.Lat) || isNaNOrInf(o.Lon) || isNaNOrInf(o.AltKm) {
		return false
	}
	if o.Lat < -90 || o.Lat > 90 {
		return false
	}
	if o.Lon < -180 || o.Lon > 180 {
		return false
	}
	if o.AltKm <= 0 || o.AltKm >= 50 {
		return false
	}
	return true
}

func isNaNOrInf(f float64) bool {
	return f != f || f > 1e308 || f < -1e308
}

// Snapshot is the full set of valid observations captured at one hour
// timestamp. HourTimestamp is the primary key.
type Snapshot struct {
	HourTimestamp time.Time
	Observations  []RawObservation
}

// BalloonID is an opaque, monotonically-issued identifier of the form
// "balloon_NNNN". Never reused.
type BalloonID string

// FormatBalloonID zero-pads n into the canonical balloon_NNNN form.
func FormatBalloonID(n int) BalloonID {
	return BalloonID(fmt.Sprintf("balloon_%04d", n))
}

// TrackedPosition is an observation that has been assigned a persistent
// identity. Primary key is (BalloonID, Timestamp).
type TrackedPosition struct {
	BalloonID  BalloonID `json:"balloon_id"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	AltKm      float64   `json:"alt_km"`
	SpeedKmh   *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	Status     Status    `json:"status"`
	Confidence float64   `json:"confidence"`
}

// WindVector is the wind observation/forecast at a quantized spatial and
// temporal bucket.
type WindVector struct {
	Lat              float64   `json:"lat"`
	Lon              float64   `json:"lon"`
	AltKm            float64   `json:"alt_km"`
	PressureHPa      int       `json:"pressure_hpa"`
	UMs              float64   `json:"u_ms"`
	VMs              float64   `json:"v_ms"`
	SpeedKmh         float64   `json:"speed_kmh"`
	DirectionFromDeg float64   `json:"direction_from_deg"`
	TimestampHour    time.Time `json:"timestamp_hour"`
}

// PredictedPosition is a never-persisted, always-recomputed future position.
type PredictedPosition struct {
	Lat        float64          `json:"lat"`
	Lon        float64          `json:"lon"`
	AltKm      float64          `json:"alt_km"`
	Timestamp  time.Time        `json:"timestamp"`
	Confidence float64          `json:"confidence"`
	Method     PredictionMethod `json:"method"`
}

// WindLocation is one query point for the Wind Client / Wind Cache.
type WindLocation struct {
	Lat       float64
	Lon       float64
	AltKm     float64
	Timestamp time.Time
}

// TruncateToHour truncates t to the start of its UTC hour.
func TruncateToHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
