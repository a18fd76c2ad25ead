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

// Package predictor extrapolates a balloon's future trajectory under three
// models — persistence, wind, and hybrid — and scores a method's past
// accuracy against a held-out suffix of real trajectory. Pure with respect
// to the store; its only I/O is the injected WindSource.
package predictor

import (
	"context"
	"fmt"
	"math"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/store"
	"balloontrack/internal/balloon/telemetry"
	"balloontrack/internal/balloon/tracker"
	"balloontrack/internal/balloon/windcache"
	"balloontrack/pkg/geo"
)

// WindSource is the subset of windclient.Client the predictor needs.
type WindSource interface {
	WindFor(ctx context.Context, locations []balloon.WindLocation) (map[string]balloon.WindVector, error)
}

// anchor is the rolling point the predictor displaces from, one hour at a
// time; it is never persisted.
type anchor struct {
	lat, lon, alt float64
	t             time.Time
}

// Predictor computes forward trajectories and backward-looking accuracy
// scores for tracked balloons.
type Predictor struct {
	store store.Store
	wind  WindSource
}

// New constructs a Predictor reading trajectories from st and wind vectors
// from wind.
func New(st store.Store, wind WindSource) *Predictor {
	return &Predictor{store: st, wind: wind}
}

// Predict returns hours positions starting one hour after the trajectory's
// most recent point, under the requested method. The caller supplies a
// trajectory (oldest-first, at least one point); the smoothed velocity is
// derived from the speed/heading recorded on its points, and is zero when
// no point carries one.
func (p *Predictor) Predict(ctx context.Context, traj []balloon.TrackedPosition, hours int, method balloon.PredictionMethod) ([]balloon.PredictedPosition, error) {
	return p.predict(ctx, traj, hours, method, nil)
}

// predict is Predict's implementation, taking an optional preResolved wind
// lookup (keyed by windcache.Key) so Score can batch-fetch wind for many
// anchors in one WindFor call instead of one per step. When preResolved is
// nil, wind/hybrid steps fetch on demand, one location at a time.
func (p *Predictor) predict(ctx context.Context, traj []balloon.TrackedPosition, hours int, method balloon.PredictionMethod, preResolved map[string]balloon.WindVector) ([]balloon.PredictedPosition, error) {
	if len(traj) == 0 {
		return nil, balloon.Wrap(balloon.KindInvalidArgument, "predict requires a non-empty trajectory", nil)
	}

	last := traj[len(traj)-1]
	speedKmh, headingDeg, _ := smoothedVelocityFromTrajectory(traj)

	cur := anchor{lat: last.Lat, lon: last.Lon, alt: last.AltKm, t: last.Timestamp}
	out := make([]balloon.PredictedPosition, 0, hours)

	for k := 1; k <= hours; k++ {
		next, confidence, err := p.step(ctx, cur, speedKmh, headingDeg, k, method, preResolved)
		if err != nil {
			return out, err
		}
		out = append(out, balloon.PredictedPosition{
			Lat: next.lat, Lon: next.lon, AltKm: next.alt,
			Timestamp: next.t, Confidence: confidence, Method: method,
		})
		cur = next
	}
	return out, nil
}

// step advances cur by one hour under method, returning the new anchor and
// the confidence assigned to step k.
func (p *Predictor) step(ctx context.Context, cur anchor, speedKmh, headingDeg float64, k int, method balloon.PredictionMethod, preResolved map[string]balloon.WindVector) (anchor, float64, error) {
	switch method {
	case balloon.MethodPersistence:
		return p.persistenceStep(cur, speedKmh, headingDeg, k)
	case balloon.MethodWind:
		return p.windStep(ctx, cur, k, preResolved)
	case balloon.MethodHybrid:
		return p.hybridStep(ctx, cur, speedKmh, headingDeg, k, preResolved)
	default:
		return cur, 0, balloon.Wrap(balloon.KindInvalidArgument, fmt.Sprintf("unknown prediction method %q", method), nil)
	}
}

func (p *Predictor) persistenceStep(cur anchor, speedKmh, headingDeg float64, k int) (anchor, float64, error) {
	lat, lon := geo.Destination(cur.lat, cur.lon, headingDeg, speedKmh)
	confidence := math.Max(0.2, 0.8-0.15*float64(k))
	return anchor{lat: lat, lon: lon, alt: cur.alt, t: cur.t.Add(time.Hour)}, confidence, nil
}

func (p *Predictor) windStep(ctx context.Context, cur anchor, k int, preResolved map[string]balloon.WindVector) (anchor, float64, error) {
	vec, ok, err := p.lookupWind(ctx, cur, preResolved)
	if err != nil {
		return cur, 0, err
	}
	if !ok {
		return anchor{lat: cur.lat, lon: cur.lon, alt: cur.alt, t: cur.t.Add(time.Hour)}, 0.3, nil
	}
	lat, lon := geo.Destination(cur.lat, cur.lon, vec.DirectionFromDeg+180, vec.SpeedKmh)
	confidence := math.Max(0.3, 0.9-0.12*float64(k))
	return anchor{lat: lat, lon: lon, alt: cur.alt, t: cur.t.Add(time.Hour)}, confidence, nil
}

func (p *Predictor) hybridStep(ctx context.Context, cur anchor, speedKmh, headingDeg float64, k int, preResolved map[string]balloon.WindVector) (anchor, float64, error) {
	persist, _, err := p.persistenceStep(cur, speedKmh, headingDeg, k)
	if err != nil {
		return cur, 0, err
	}
	wind, _, err := p.windStep(ctx, cur, k, preResolved)
	if err != nil {
		return cur, 0, err
	}
	lat := 0.6*wind.lat + 0.4*persist.lat
	lon := 0.6*wind.lon + 0.4*persist.lon
	confidence := math.Max(0.4, 0.95-0.1*float64(k))
	return anchor{lat: lat, lon: lon, alt: cur.alt, t: cur.t.Add(time.Hour)}, confidence, nil
}

// lookupWind resolves the wind vector at cur's location/time. If
// preResolved is non-nil (Score's batched path), it is consulted first and
// no network call is made even on a miss; otherwise a single-location
// WindFor request is issued. ok is false if unavailable.
func (p *Predictor) lookupWind(ctx context.Context, cur anchor, preResolved map[string]balloon.WindVector) (balloon.WindVector, bool, error) {
	loc := balloon.WindLocation{Lat: cur.lat, Lon: cur.lon, AltKm: cur.alt, Timestamp: cur.t}
	if preResolved != nil {
		v, ok := preResolved[windcache.Key(loc)]
		return v, ok, nil
	}

	m, err := p.wind.WindFor(ctx, []balloon.WindLocation{loc})
	if err != nil {
		if balloon.KindOf(err) == balloon.KindWindRateLimited {
			return balloon.WindVector{}, false, nil
		}
		return balloon.WindVector{}, false, err
	}
	for _, v := range m {
		return v, true, nil
	}
	return balloon.WindVector{}, false, nil
}

// smoothedVelocityFromTrajectory derives the weight-i smoothed velocity
// (weights 1,2,3) from the tail of an ascending trajectory, matching the
// tracker's own history-based smoothing so persistence predictions agree
// with the cost function's notion of "current velocity".
func smoothedVelocityFromTrajectory(traj []balloon.TrackedPosition) (speedKmh, headingDeg float64, ok bool) {
	segs := tracker.BuildHistoryFromTrajectory(traj)
	h := tracker.History{}
	if len(segs) > 0 {
		last := traj[len(traj)-1]
		for _, s := range segs {
			h.Push(last.BalloonID, s)
		}
		return h.SmoothedVelocity(last.BalloonID)
	}
	return 0, 0, false
}

// ErrorPoint records one hour's held-out accuracy sample.
type ErrorPoint struct {
	Hour      int                       `json:"hour"`
	Actual    balloon.TrackedPosition   `json:"actual"`
	Predicted balloon.PredictedPosition `json:"predicted"`
	ErrorKm   float64                   `json:"error_km"`
}

// Score implements the value-scoring operation: for id's retained
// trajectory, predicts 1h ahead from each of the first n = min(hours,
// len-1) positions under method, and measures great-circle error against
// the position that actually followed. Overall score is the mean error;
// lower is better.
func (p *Predictor) Score(ctx context.Context, id balloon.BalloonID, hours int, method balloon.PredictionMethod) (float64, []ErrorPoint, error) {
	traj, err := p.store.Trajectory(ctx, id)
	if err != nil {
		return 0, nil, balloon.Wrap(balloon.KindStoreReadFailed, fmt.Sprintf("trajectory %s", id), err)
	}
	if len(traj) < 2 {
		return 0, nil, balloon.Wrap(balloon.KindInvalidArgument, "trajectory too short to score (need >= 2 points)", nil)
	}

	n := hours
	if n > len(traj)-1 {
		n = len(traj) - 1
	}

	var windLookup map[string]balloon.WindVector
	if method == balloon.MethodWind || method == balloon.MethodHybrid {
		locs := make([]balloon.WindLocation, n)
		for i := 0; i < n; i++ {
			locs[i] = balloon.WindLocation{Lat: traj[i].Lat, Lon: traj[i].Lon, AltKm: traj[i].AltKm, Timestamp: traj[i].Timestamp}
		}
		resolved, err := p.wind.WindFor(ctx, locs)
		if err != nil && balloon.KindOf(err) != balloon.KindWindRateLimited {
			return 0, nil, err
		}
		windLookup = resolved
		if windLookup == nil {
			windLookup = map[string]balloon.WindVector{}
		}
	}

	points := make([]ErrorPoint, 0, n)
	var sumErr float64
	for i := 0; i < n; i++ {
		predicted, err := p.predict(ctx, traj[:i+1], 1, method, windLookup)
		if err != nil {
			return 0, nil, err
		}
		if len(predicted) == 0 {
			continue
		}
		actual := traj[i+1]
		errKm := geo.DistanceKm(actual.Lat, actual.Lon, predicted[0].Lat, predicted[0].Lon)
		points = append(points, ErrorPoint{Hour: i, Actual: actual, Predicted: predicted[0], ErrorKm: errKm})
		telemetry.ObservePredictionError(string(method), errKm)
		sumErr += errKm
	}
	if len(points) == 0 {
		return 0, points, nil
	}
	return sumErr / float64(len(points)), points, nil
}
