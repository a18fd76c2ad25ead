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

// Package tracker matches current-hour raw observations to previous-hour
// tracked balloons, preserving persistent identity across the hourly
// cadence. It is pure: given the same inputs it always returns the same
// output, and it performs no I/O — the Ingest Controller owns fetching and
// persistence.
package tracker

import (
	"math"
	"time"

	"balloontrack/internal/balloon"
)

// NextIDFunc mints the next monotonic balloon id. Owned by the Ingest
// Controller (the only writer, per SPEC_FULL.md's concurrency model); the
// Tracker calls it once per unmatched current observation.
type NextIDFunc func() balloon.BalloonID

// pairCost associates a scored candidate with the prevTracked index it was
// scored against.
type pairCost struct {
	prevIdx int
	score   candidateCost
}

// Track assigns identities to currentObs (raw, at timestamp t) by matching
// against prevTracked (identified positions at t-1h), returning the full
// set of TrackedPosition at t. Unmatched prevTracked ids are simply not
// re-emitted — their last row remains in the Store as their final
// "lost" state.
func Track(currentObs []balloon.RawObservation, prevTracked []balloon.TrackedPosition, history History, timestamp time.Time, nextID NextIDFunc) []balloon.TrackedPosition {
	if len(prevTracked) == 0 {
		return mintAllNew(currentObs, timestamp, nextID)
	}

	lons := make([]float64, len(prevTracked))
	lats := make([]float64, len(prevTracked))
	for i, p := range prevTracked {
		lons[i] = p.Lon
		lats[i] = p.Lat
	}
	index := NewSpatialIndex(lons, lats)

	halfWidthDeg := 1.5 * balloon.MaxDistancePerHourKm / balloon.KmPerDegree

	// candidates[i] = list of prevTracked indices within the bounding box of currentObs[i].
	candidates := make([][]int, len(currentObs))
	for i, o := range currentObs {
		candidates[i] = index.Query(o.Lon-halfWidthDeg, o.Lon+halfWidthDeg, o.Lat-halfWidthDeg, o.Lat+halfWidthDeg)
	}

	// Precompute, for every (curr, prev) candidate pair, the scored cost.
	perCurrent := make([][]pairCost, len(currentObs))
	for i, o := range currentObs {
		for _, pj := range candidates[i] {
			prev := prevTracked[pj]
			speed, heading, ok := history.SmoothedVelocity(prev.BalloonID)
			perCurrent[i] = append(perCurrent[i], pairCost{prevIdx: pj, score: scoreCandidate(prev, speed, heading, ok, o)})
		}
	}

	matchedCurrent := make([]bool, len(currentObs))
	matchedPrev := make([]bool, len(prevTracked))
	assignedPrevOf := make([]int, len(currentObs)) // -1 if unassigned
	for i := range assignedPrevOf {
		assignedPrevOf[i] = -1
	}
	assignedCost := make([]float64, len(currentObs))

	// Phase 1: greedy. For each current obs, find its best (lowest-cost)
	// candidate. Commit immediately if cost < 30, uncontested (no other
	// current's best points at the same prev), and altDelta < 5km.
	bestOf := make([]int, len(currentObs)) // index into perCurrent[i], -1 if none
	for i := range currentObs {
		best := -1
		bestCost := math.Inf(1)
		for k, pc := range perCurrent[i] {
			if pc.score.cost < bestCost {
				bestCost = pc.score.cost
				best = k
			}
		}
		bestOf[i] = best
	}

	bestPrevCount := make(map[int]int)
	for i, best := range bestOf {
		if best == -1 {
			continue
		}
		bestPrevCount[perCurrent[i][best].prevIdx]++
	}

	for i, best := range bestOf {
		if best == -1 {
			continue
		}
		pc := perCurrent[i][best]
		if pc.score.cost >= balloon.GreedyCostThreshold {
			continue
		}
		if bestPrevCount[pc.prevIdx] != 1 {
			continue
		}
		prev := prevTracked[pc.prevIdx]
		altDelta := math.Abs(currentObs[i].AltKm - prev.AltKm)
		if altDelta >= balloon.GreedyAltDeltaKm {
			continue
		}
		matchedCurrent[i] = true
		matchedPrev[pc.prevIdx] = true
		assignedPrevOf[i] = pc.prevIdx
		assignedCost[i] = pc.score.cost
	}

	// Phase 2: Hungarian over everything still deferred.
	var deferredCurrent []int
	for i := range currentObs {
		if !matchedCurrent[i] {
			deferredCurrent = append(deferredCurrent, i)
		}
	}
	var deferredPrev []int
	for j := range prevTracked {
		if !matchedPrev[j] {
			deferredPrev = append(deferredPrev, j)
		}
	}

	if len(deferredCurrent) > 0 && len(deferredPrev) > 0 {
		n := len(deferredCurrent)
		if len(deferredPrev) > n {
			n = len(deferredPrev)
		}
		matrix := make([][]float64, n)
		for r := range matrix {
			matrix[r] = make([]float64, n)
			for c := range matrix[r] {
				matrix[r][c] = sentinelCost
			}
		}
		for r, ci := range deferredCurrent {
			lookup := make(map[int]float64, len(perCurrent[ci]))
			for _, pc := range perCurrent[ci] {
				lookup[pc.prevIdx] = pc.score.cost
			}
			for c, pj := range deferredPrev {
				if cost, ok := lookup[pj]; ok && !math.IsInf(cost, 1) {
					matrix[r][c] = cost
				}
			}
		}

		assignment := hungarianAssign(matrix)
		for r, ci := range deferredCurrent {
			c := assignment[r]
			if c < 0 || c >= len(deferredPrev) {
				continue
			}
			pj := deferredPrev[c]
			cost := matrix[r][c]
			if cost >= balloon.HungarianCostThreshold || math.IsInf(cost, 1) || cost >= sentinelCost {
				continue
			}
			matchedCurrent[ci] = true
			matchedPrev[pj] = true
			assignedPrevOf[ci] = pj
			assignedCost[ci] = cost
		}
	}

	out := make([]balloon.TrackedPosition, 0, len(currentObs))
	t := balloon.TruncateToHour(timestamp)
	for i, o := range currentObs {
		if assignedPrevOf[i] == -1 {
			id := nextID()
			out = append(out, balloon.TrackedPosition{
				BalloonID: id, Timestamp: t, Lat: o.Lat, Lon: o.Lon, AltKm: o.AltKm,
				Status: balloon.StatusNew, Confidence: 0.5,
			})
			continue
		}
		prev := prevTracked[assignedPrevOf[i]]
		pc := findPairCost(perCurrent[i], assignedPrevOf[i])
		speed, heading := pc.observedSpeed, pc.observedHead
		confidence := math.Max(0.3, math.Exp(-2*assignedCost[i]/100))
		out = append(out, balloon.TrackedPosition{
			BalloonID: prev.BalloonID, Timestamp: t, Lat: o.Lat, Lon: o.Lon, AltKm: o.AltKm,
			SpeedKmh: &speed, HeadingDeg: &heading,
			Status: balloon.StatusActive, Confidence: confidence,
		})
	}
	return out
}

func findPairCost(pairs []pairCost, prevIdx int) candidateCost {
	for _, p := range pairs {
		if p.prevIdx == prevIdx {
			return p.score
		}
	}
	return candidateCost{}
}

func mintAllNew(currentObs []balloon.RawObservation, timestamp time.Time, nextID NextIDFunc) []balloon.TrackedPosition {
	t := balloon.TruncateToHour(timestamp)
	out := make([]balloon.TrackedPosition, 0, len(currentObs))
	for _, o := range currentObs {
		out = append(out, balloon.TrackedPosition{
			BalloonID: nextID(), Timestamp: t, Lat: o.Lat, Lon: o.Lon, AltKm: o.AltKm,
			Status: balloon.StatusNew, Confidence: 1.0,
		})
	}
	return out
}
