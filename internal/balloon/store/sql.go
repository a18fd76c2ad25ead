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

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"balloontrack/internal/balloon"
)

// Reference schema (driver-agnostic; the raw database driver is an external
// collaborator referenced by interface only — callers inject an already
// opened *sql.DB, no concrete driver is imported here):
//
// CREATE TABLE IF NOT EXISTS snapshots (
//   hour_timestamp TIMESTAMPTZ PRIMARY KEY,
//   observations   JSONB NOT NULL
// );
//
// CREATE TABLE IF NOT EXISTS tracked (
//   balloon_id  TEXT NOT NULL,
//   timestamp   TIMESTAMPTZ NOT NULL,
//   lat         DOUBLE PRECISION NOT NULL,
//   lon         DOUBLE PRECISION NOT NULL,
//   alt_km      DOUBLE PRECISION NOT NULL,
//   speed_kmh   DOUBLE PRECISION,
//   heading_deg DOUBLE PRECISION,
//   status      TEXT NOT NULL,
//   confidence  DOUBLE PRECISION NOT NULL,
//   PRIMARY KEY (balloon_id, timestamp)
// );
// CREATE INDEX IF NOT EXISTS idx_tracked_timestamp ON tracked(timestamp);
// CREATE INDEX IF NOT EXISTS idx_tracked_id_timestamp ON tracked(balloon_id, timestamp);

// SQLStore is a database/sql-backed Store. It upserts under the primary keys
// described above using the idempotent ON CONFLICT pattern the teacher uses
// in its Postgres persister.
type SQLStore struct {
	db             *sql.DB
	defaultTimeout time.Duration
}

// NewSQLStore wraps an already-configured *sql.DB. The caller owns the
// driver and the connection lifecycle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, defaultTimeout: 10 * time.Second}
}

func (s *SQLStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.defaultTimeout)
}

func (s *SQLStore) PutSnapshot(ctx context.Context, t time.Time, observations []balloon.RawObservation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := json.Marshal(observations)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "marshal observations", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (hour_timestamp, observations) VALUES ($1, $2)
		ON CONFLICT (hour_timestamp) DO UPDATE SET observations = EXCLUDED.observations`,
		balloon.TruncateToHour(t), payload)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "put snapshot", err)
	}
	return nil
}

func (s *SQLStore) GetSnapshot(ctx context.Context, t time.Time) (balloon.Snapshot, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var payload []byte
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT hour_timestamp, observations FROM snapshots WHERE hour_timestamp = $1`,
		balloon.TruncateToHour(t)).Scan(&ts, &payload)
	if err == sql.ErrNoRows {
		return balloon.Snapshot{}, false, nil
	}
	if err != nil {
		return balloon.Snapshot{}, false, balloon.Wrap(balloon.KindStoreReadFailed, "get snapshot", err)
	}
	var obs []balloon.RawObservation
	if err := json.Unmarshal(payload, &obs); err != nil {
		return balloon.Snapshot{}, false, balloon.Wrap(balloon.KindStoreReadFailed, "unmarshal observations", err)
	}
	return balloon.Snapshot{HourTimestamp: ts, Observations: obs}, true, nil
}

func (s *SQLStore) LatestSnapshotTime(ctx context.Context) (time.Time, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ts time.Time
	err := s.db.QueryRowContext(ctx, `SELECT MAX(hour_timestamp) FROM snapshots`).Scan(&ts)
	if err == sql.ErrNoRows || ts.IsZero() {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, balloon.Wrap(balloon.KindStoreReadFailed, "latest snapshot time", err)
	}
	return ts, true, nil
}

func (s *SQLStore) ListSnapshots(ctx context.Context) ([]time.Time, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT hour_timestamp FROM snapshots ORDER BY hour_timestamp DESC`)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindStoreReadFailed, "list snapshots", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, balloon.Wrap(balloon.KindStoreReadFailed, "scan snapshot row", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutTracked(ctx context.Context, batch []balloon.TrackedPosition) error {
	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range batch {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracked (balloon_id, timestamp, lat, lon, alt_km, speed_kmh, heading_deg, status, confidence)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (balloon_id, timestamp) DO UPDATE SET
				lat = EXCLUDED.lat, lon = EXCLUDED.lon, alt_km = EXCLUDED.alt_km,
				speed_kmh = EXCLUDED.speed_kmh, heading_deg = EXCLUDED.heading_deg,
				status = EXCLUDED.status, confidence = EXCLUDED.confidence`,
			p.BalloonID, p.Timestamp, p.Lat, p.Lon, p.AltKm, p.SpeedKmh, p.HeadingDeg, p.Status, p.Confidence); err != nil {
			return balloon.Wrap(balloon.KindStoreWriteFailed, fmt.Sprintf("upsert tracked %s", p.BalloonID), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "commit tx", err)
	}
	return nil
}

func (s *SQLStore) TrackedAt(ctx context.Context, t time.Time) ([]balloon.TrackedPosition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT balloon_id, timestamp, lat, lon, alt_km, speed_kmh, heading_deg, status, confidence
		FROM tracked WHERE timestamp = $1 ORDER BY balloon_id`, balloon.TruncateToHour(t))
	if err != nil {
		return nil, balloon.Wrap(balloon.KindStoreReadFailed, "tracked at", err)
	}
	defer rows.Close()
	return scanTracked(rows)
}

func (s *SQLStore) Trajectory(ctx context.Context, id balloon.BalloonID) ([]balloon.TrackedPosition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT balloon_id, timestamp, lat, lon, alt_km, speed_kmh, heading_deg, status, confidence
		FROM tracked WHERE balloon_id = $1 ORDER BY timestamp ASC`, id)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindStoreReadFailed, "trajectory", err)
	}
	defer rows.Close()
	return scanTracked(rows)
}

func scanTracked(rows *sql.Rows) ([]balloon.TrackedPosition, error) {
	var out []balloon.TrackedPosition
	for rows.Next() {
		var p balloon.TrackedPosition
		if err := rows.Scan(&p.BalloonID, &p.Timestamp, &p.Lat, &p.Lon, &p.AltKm,
			&p.SpeedKmh, &p.HeadingDeg, &p.Status, &p.Confidence); err != nil {
			return nil, balloon.Wrap(balloon.KindStoreReadFailed, "scan tracked row", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLStore) MaxNumericID(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(CAST(SUBSTRING(balloon_id FROM 9) AS BIGINT)) FROM tracked WHERE balloon_id LIKE 'balloon_%'`).
		Scan(&max)
	if err != nil {
		return 0, balloon.Wrap(balloon.KindStoreReadFailed, "max numeric id", err)
	}
	return int(max.Int64), nil
}

func (s *SQLStore) Cleanup(ctx context.Context, olderThan time.Time) (int, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cutoff := balloon.TruncateToHour(olderThan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, balloon.Wrap(balloon.KindStoreWriteFailed, "begin cleanup tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	tr, err := tx.ExecContext(ctx, `DELETE FROM tracked WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, 0, balloon.Wrap(balloon.KindStoreWriteFailed, "delete tracked", err)
	}
	trackedDeleted, _ := tr.RowsAffected()

	sr, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE hour_timestamp < $1`, cutoff)
	if err != nil {
		return 0, 0, balloon.Wrap(balloon.KindStoreWriteFailed, "delete snapshots", err)
	}
	snapshotsDeleted, _ := sr.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, balloon.Wrap(balloon.KindStoreWriteFailed, "commit cleanup tx", err)
	}
	return int(trackedDeleted), int(snapshotsDeleted), nil
}

func (s *SQLStore) ClearAll(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tracked`); err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "clear tracked", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`); err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "clear snapshots", err)
	}
	return nil
}
