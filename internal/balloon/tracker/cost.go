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

package tracker

import (
	"math"

	"balloontrack/internal/balloon"
	"balloontrack/pkg/geo"
)

// candidateCost is the result of scoring one (prev, curr) pair.
type candidateCost struct {
	cost          float64 // +Inf if hard-gated
	observedSpeed float64
	observedHead  float64
}

// scoreCandidate implements the tracker's hard gates and weighted soft cost
// for matching prev (a tracked position at t-1h, with its
// smoothed velocity from history) against curr (a raw observation at t).
func scoreCandidate(prev balloon.TrackedPosition, smoothedSpeed, smoothedHeading float64, hasSmoothed bool, curr balloon.RawObservation) candidateCost {
	distKm := geo.DistanceKm(prev.Lat, prev.Lon, curr.Lat, curr.Lon)
	altDelta := math.Abs(curr.AltKm - prev.AltKm)
	observedHead := geo.BearingDeg(prev.Lat, prev.Lon, curr.Lat, curr.Lon)
	observedSpeed := distKm // km in 1h = km/h

	if distKm > balloon.MaxDistancePerHourKm || altDelta > balloon.MaxAltDeltaKm {
		return candidateCost{cost: math.Inf(1), observedSpeed: observedSpeed, observedHead: observedHead}
	}

	prevHasVelocity := prev.SpeedKmh != nil && prev.HeadingDeg != nil
	if prevHasVelocity {
		headingChange := geo.HeadingDelta(observedHead, *prev.HeadingDeg)
		if headingChange > balloon.MaxDirChangeDeg {
			return candidateCost{cost: math.Inf(1), observedSpeed: observedSpeed, observedHead: observedHead}
		}
	}

	// Predicted point: project prev forward 1h along its smoothed velocity
	// (falling back to prev's own last recorded velocity, then to no
	// projection at all when neither is available).
	predLat, predLon := prev.Lat, prev.Lon
	speedAnchor, headingAnchor := smoothedSpeed, smoothedHeading
	haveAnchor := hasSmoothed
	if !haveAnchor && prevHasVelocity {
		speedAnchor, headingAnchor = *prev.SpeedKmh, *prev.HeadingDeg
		haveAnchor = true
	}
	if haveAnchor {
		predLat, predLon = geo.Destination(prev.Lat, prev.Lon, headingAnchor, speedAnchor)
	}
	dPred := geo.DistanceKm(curr.Lat, curr.Lon, predLat, predLon)

	distTerm := geo.Clamp(dPred/balloon.TypicalDriftKm, 0, 1)
	distTerm = distTerm * distTerm

	var headingTerm float64
	if prev.SpeedKmh != nil && *prev.SpeedKmh > 10 && haveAnchor {
		delta := geo.HeadingDelta(observedHead, headingAnchor)
		ratio := delta / balloon.MaxDirChangeDeg
		headingTerm = ratio * ratio * ratio
	}

	var speedTerm float64
	if haveAnchor && speedAnchor > 0 && observedSpeed > 0 {
		ratio := math.Abs(math.Log(observedSpeed/speedAnchor)) / math.Log(4)
		speedTerm = math.Min(1, ratio)
	}

	altTerm := altDelta / balloon.MaxAltDeltaKm
	altTerm = altTerm * altTerm

	cost := 100 * (balloon.WeightDistance*distTerm +
		balloon.WeightHeading*headingTerm +
		balloon.WeightSpeed*speedTerm +
		balloon.WeightAltitude*altTerm)

	return candidateCost{cost: cost, observedSpeed: observedSpeed, observedHead: observedHead}
}
