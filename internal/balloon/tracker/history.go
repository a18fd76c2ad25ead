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
	"balloontrack/internal/balloon"
	"balloontrack/pkg/geo"
)

// maxHistorySegments bounds the per-id deque used for smoothed velocity.
const maxHistorySegments = 3

// Segment is one hour-to-hour motion observation for a balloon id.
type Segment struct {
	SpeedKmh   float64
	HeadingDeg float64
}

// History is a pure, per-id cache of the most recent (up to 3) segments for
// every tracked id. Per SPEC_FULL.md's "in-memory cache vs. stored history"
// decision, this is always a derived cache: the Store remains canonical,
// and the Ingest Controller rebuilds this map from Store.Trajectory at
// startup and keeps it current tick over tick.
type History map[balloon.BalloonID][]Segment

// Push appends a new segment for id, keeping only the most recent
// maxHistorySegments entries (oldest first).
func (h History) Push(id balloon.BalloonID, seg Segment) {
	segs := append(h[id], seg)
	if len(segs) > maxHistorySegments {
		segs = segs[len(segs)-maxHistorySegments:]
	}
	h[id] = segs
}

// SmoothedVelocity computes the weight-i average (weights 1,2,3 most recent
// last) over up to the last 3 segments for id: arithmetic mean for speed,
// circular mean for heading. ok is false if no history exists for id.
func (h History) SmoothedVelocity(id balloon.BalloonID) (speedKmh, headingDeg float64, ok bool) {
	segs := h[id]
	if len(segs) == 0 {
		return 0, 0, false
	}

	n := len(segs)
	weights := make([]float64, n)
	speeds := make([]float64, n)
	headings := make([]float64, n)
	for i, s := range segs {
		// Oldest of the retained segments gets weight 1; most recent gets
		// weight n (up to 3).
		weights[i] = float64(i + 1)
		speeds[i] = s.SpeedKmh
		headings[i] = s.HeadingDeg
	}

	var weightedSpeedSum, weightSum float64
	for i := range speeds {
		weightedSpeedSum += speeds[i] * weights[i]
		weightSum += weights[i]
	}
	speedKmh = weightedSpeedSum / weightSum
	headingDeg = geo.CircularMeanDeg(headings, weights)
	return speedKmh, headingDeg, true
}

// BuildHistoryFromTrajectory reconstructs the bounded segment history for a
// single id from its full ascending trajectory, used to rehydrate History
// on controller startup (see Store.Trajectory).
func BuildHistoryFromTrajectory(traj []balloon.TrackedPosition) []Segment {
	var segs []Segment
	for _, p := range traj {
		if p.SpeedKmh == nil || p.HeadingDeg == nil {
			continue
		}
		segs = append(segs, Segment{SpeedKmh: *p.SpeedKmh, HeadingDeg: *p.HeadingDeg})
	}
	if len(segs) > maxHistorySegments {
		segs = segs[len(segs)-maxHistorySegments:]
	}
	return segs
}
