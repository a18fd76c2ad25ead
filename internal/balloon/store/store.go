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

// Package store defines the durable contract shared by the ingest
// controller, the tracker's history rebuild, and the query service: raw
// hourly snapshots keyed by wall-clock hour, and tracked positions keyed by
// (balloon_id, timestamp).
package store

import (
	"context"
	"time"

	"balloontrack/internal/balloon"
)

// Store is the durable storage contract. All writes are idempotent upserts
// under the stated primary key. Any failure propagates to the caller, which
// decides whether to retry or degrade — the Store never retries internally.
type Store interface {
	// PutSnapshot upserts the snapshot for t. Idempotent.
	PutSnapshot(ctx context.Context, t time.Time, observations []balloon.RawObservation) error
	// GetSnapshot returns the snapshot at t, or ok=false if absent.
	GetSnapshot(ctx context.Context, t time.Time) (snap balloon.Snapshot, ok bool, err error)
	// LatestSnapshotTime returns the most recent snapshot hour, or ok=false
	// if the store is empty.
	LatestSnapshotTime(ctx context.Context) (t time.Time, ok bool, err error)
	// ListSnapshots returns all retained snapshot hours, descending.
	ListSnapshots(ctx context.Context) ([]time.Time, error)

	// PutTracked upserts a batch of tracked positions. Idempotent under
	// (BalloonID, Timestamp).
	PutTracked(ctx context.Context, batch []balloon.TrackedPosition) error
	// TrackedAt returns all tracked positions at hour t.
	TrackedAt(ctx context.Context, t time.Time) ([]balloon.TrackedPosition, error)
	// Trajectory returns the full retained history of id, ascending by time.
	Trajectory(ctx context.Context, id balloon.BalloonID) ([]balloon.TrackedPosition, error)
	// MaxNumericID returns the largest numeric suffix among the ids of the
	// tracked rows currently retained, or 0 if none exist. Used to rehydrate
	// the id counter floor.
	MaxNumericID(ctx context.Context) (int, error)

	// Cleanup removes every snapshot and tracked row with t < olderThan in
	// one logical operation, returning the counts removed.
	Cleanup(ctx context.Context, olderThan time.Time) (trackedDeleted, snapshotsDeleted int, err error)
	// ClearAll removes every row from the store.
	ClearAll(ctx context.Context) error
}
