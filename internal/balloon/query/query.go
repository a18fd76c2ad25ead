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

// Package query is the thin, read-only service behind the HTTP API: current
// positions, a balloon's historical/future trajectory split, and health
// classification. It never writes to the Store.
package query

import (
	"context"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/store"
)

// Service answers read-side questions against the Store.
type Service struct {
	store store.Store
	clock func() time.Time
}

// New constructs a Service reading from st. clock defaults to time.Now.
func New(st store.Store, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: st, clock: clock}
}

// PositionsResult is the response shape for positions_at.
type PositionsResult struct {
	UpdatedAt      time.Time                 `json:"updated_at"`
	DataAgeMinutes float64                   `json:"data_age_minutes"`
	BalloonCount   int                       `json:"balloon_count"`
	Balloons       []balloon.TrackedPosition `json:"balloons"`
}

// PositionsAt returns every tracked position whose timestamp equals
// now_hour - hourOffset*1h. hourOffset is resolved against the current
// wall clock on every call, never against a stored value.
func (s *Service) PositionsAt(ctx context.Context, hourOffset int) (PositionsResult, error) {
	if hourOffset < 0 || hourOffset > 23 {
		return PositionsResult{}, balloon.Wrap(balloon.KindInvalidArgument, "hour_offset must be in [0,23]", nil)
	}

	now := balloon.TruncateToHour(s.clock())
	target := now.Add(-time.Duration(hourOffset) * time.Hour)

	positions, err := s.store.TrackedAt(ctx, target)
	if err != nil {
		return PositionsResult{}, balloon.Wrap(balloon.KindStoreReadFailed, "tracked_at", err)
	}

	latest, ok, err := s.store.LatestSnapshotTime(ctx)
	if err != nil {
		return PositionsResult{}, balloon.Wrap(balloon.KindStoreReadFailed, "latest_snapshot_time", err)
	}
	ageMinutes := 0.0
	if ok {
		ageMinutes = s.clock().Sub(latest).Minutes()
	}

	return PositionsResult{
		UpdatedAt:      target,
		DataAgeMinutes: ageMinutes,
		BalloonCount:   len(positions),
		Balloons:       positions,
	}, nil
}

// TrajectoryResult partitions a balloon's retained history around a
// reference hour offset; the position at the reference hour belongs to
// both slices so a UI can draw one continuous line.
type TrajectoryResult struct {
	HistoricalPositions []balloon.TrackedPosition `json:"historical_positions"`
	FuturePositions     []balloon.TrackedPosition `json:"future_positions"`
	ReferenceHourOffset int                       `json:"reference_hour_offset"`
}

// Trajectory returns id's retained history split around hourOffset.
func (s *Service) Trajectory(ctx context.Context, id balloon.BalloonID, hourOffset int) (TrajectoryResult, error) {
	if hourOffset < 0 || hourOffset > 23 {
		return TrajectoryResult{}, balloon.Wrap(balloon.KindInvalidArgument, "hour_offset must be in [0,23]", nil)
	}

	traj, err := s.store.Trajectory(ctx, id)
	if err != nil {
		return TrajectoryResult{}, balloon.Wrap(balloon.KindStoreReadFailed, "trajectory", err)
	}
	if len(traj) == 0 {
		return TrajectoryResult{}, balloon.Wrap(balloon.KindNotFound, string(id), nil)
	}

	now := balloon.TruncateToHour(s.clock())
	reference := now.Add(-time.Duration(hourOffset) * time.Hour)

	var historical, future []balloon.TrackedPosition
	for _, p := range traj {
		switch {
		case p.Timestamp.Before(reference):
			historical = append(historical, p)
		case p.Timestamp.After(reference):
			future = append(future, p)
		default:
			historical = append(historical, p)
			future = append(future, p)
		}
	}

	return TrajectoryResult{
		HistoricalPositions: historical,
		FuturePositions:     future,
		ReferenceHourOffset: hourOffset,
	}, nil
}

// HealthStatus is the classification returned by Health.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthResult is the response shape for the /health endpoint.
type HealthResult struct {
	LastUpdate         time.Time    `json:"last_update"`
	DataAgeMinutes     float64      `json:"data_age_minutes"`
	PositionsAtOffset0 int          `json:"positions_at_offset_0"`
	AutoUpdate         bool         `json:"auto_update"`
	Status             HealthStatus `json:"status"`
}

// Health reports the freshness of the most recent ingest and classifies it
// healthy (<65min), degraded (<=90min), or unhealthy (otherwise).
// autoUpdate reflects whether the ingest controller's scheduling loop is
// currently running (vs. manual trigger_once-only operation).
func (s *Service) Health(ctx context.Context, autoUpdate bool) (HealthResult, error) {
	latest, ok, err := s.store.LatestSnapshotTime(ctx)
	if err != nil {
		return HealthResult{}, balloon.Wrap(balloon.KindStoreReadFailed, "latest_snapshot_time", err)
	}
	if !ok {
		return HealthResult{
			DataAgeMinutes: -1,
			AutoUpdate:     autoUpdate,
			Status:         HealthUnhealthy,
		}, nil
	}

	ageMinutes := s.clock().Sub(latest).Minutes()
	status := HealthUnhealthy
	switch {
	case ageMinutes < 65:
		status = HealthHealthy
	case ageMinutes <= 90:
		status = HealthDegraded
	}

	positions, err := s.store.TrackedAt(ctx, latest)
	if err != nil {
		return HealthResult{}, balloon.Wrap(balloon.KindStoreReadFailed, "tracked_at", err)
	}

	return HealthResult{
		LastUpdate:         latest,
		DataAgeMinutes:     ageMinutes,
		PositionsAtOffset0: len(positions),
		AutoUpdate:         autoUpdate,
		Status:             status,
	}, nil
}

// HistoryEntry is one balloon's lightweight trail as returned by History,
// suitable for bulk time-slider scrubs: the id's full retained (lat, lon,
// alt, timestamp) sequence, without the richer TrackedPosition fields the
// single-balloon endpoint returns.
type HistoryEntry struct {
	BalloonID balloon.BalloonID `json:"id"`
	Trail     []TrailPoint      `json:"trail"`
}

// TrailPoint is one point of a History trail.
type TrailPoint struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	AltKm     float64   `json:"alt_km"`
	Timestamp time.Time `json:"timestamp"`
}

// History builds the bulk trail view by scanning every id present across
// the retained snapshot window, starting from the hours still in the Store.
func (s *Service) History(ctx context.Context) ([]HistoryEntry, error) {
	hours, err := s.store.ListSnapshots(ctx)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindStoreReadFailed, "list_snapshots", err)
	}

	byID := map[balloon.BalloonID][]TrailPoint{}
	order := make([]balloon.BalloonID, 0)
	for i := len(hours) - 1; i >= 0; i-- { // ascending
		positions, err := s.store.TrackedAt(ctx, hours[i])
		if err != nil {
			return nil, balloon.Wrap(balloon.KindStoreReadFailed, "tracked_at", err)
		}
		for _, p := range positions {
			if _, seen := byID[p.BalloonID]; !seen {
				order = append(order, p.BalloonID)
			}
			byID[p.BalloonID] = append(byID[p.BalloonID], TrailPoint{Lat: p.Lat, Lon: p.Lon, AltKm: p.AltKm, Timestamp: p.Timestamp})
		}
	}

	out := make([]HistoryEntry, 0, len(order))
	for _, id := range order {
		out = append(out, HistoryEntry{BalloonID: id, Trail: byID[id]})
	}
	return out, nil
}
