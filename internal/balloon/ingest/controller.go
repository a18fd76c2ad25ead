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

// Package ingest drives the orchestrator state machine: on start or on
// tick, it decides between an incremental step, a catch-up, or a full
// rebuild, pushing observations through the Source Client and Tracker into
// the Store. Grounded on the teacher lineage's background worker
// (core/worker.go): a ticker-driven loop with Start/Stop lifecycle and a
// single mutex serializing every write against the store.
package ingest

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/store"
	"balloontrack/internal/balloon/telemetry"
	"balloontrack/internal/balloon/tracker"
)

// State is a node of the ingest state machine.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateBootstrapping State = "bootstrapping"
	StateSteady        State = "steady"
	StateCatchUp       State = "catch_up"
	StateRebuilding    State = "rebuilding"
	StateFailed        State = "failed"
)

// tickOffset is how long after the wall-clock hour the controller waits
// before fetching, absorbing upstream publish latency.
const tickOffset = 90 * time.Second

// rebuildConcurrency bounds outbound parallel fetches during a full rebuild
// so as not to trigger upstream throttling.
const rebuildConcurrency = 6

// SourceFetcher is the subset of sourceclient.Client the controller needs.
type SourceFetcher interface {
	FetchHour(ctx context.Context, offset int) ([]balloon.RawObservation, error)
}

// droppedCounter is implemented by sourceclient.Client; detected via type
// assertion so the controller can report dropped-observation metrics
// without widening SourceFetcher for every caller/test double.
type droppedCounter interface {
	DroppedTotal() int64
}

// Clock abstracts wall-clock "now" for tests.
type Clock func() time.Time

// Counters summarizes the controller's ingest activity, returned to callers
// of POST /refresh and exposed via Status. LastRunAt and LastError describe
// the most recent trigger; the written/deleted counts are cumulative over
// the controller's lifetime.
type Counters struct {
	State            State     `json:"state"`
	LastRunAt        time.Time `json:"last_run_at"`
	LastError        string    `json:"last_error,omitempty"`
	SnapshotsWritten int       `json:"snapshots_written"`
	TrackedWritten   int       `json:"tracked_written"`
	TrackedDeleted   int       `json:"tracked_deleted"`
	SnapshotsDeleted int       `json:"snapshots_deleted"`
}

// Controller is the single logical writer against the Store. All state
// transitions and store writes are serialized on mu; trigger_once is
// reentrant-safe.
type Controller struct {
	store  store.Store
	source SourceFetcher
	clock  Clock

	mu              sync.Mutex
	state           State
	history         tracker.History
	idFloor         int64
	counters        Counters
	lastDroppedSeen int64

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  uint32
}

// New constructs a Controller in StateUninitialized. clock defaults to
// time.Now if nil.
func New(st store.Store, source SourceFetcher, clock Clock) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		store:    st,
		source:   source,
		clock:    clock,
		state:    StateUninitialized,
		history:  tracker.History{},
		stopChan: make(chan struct{}),
	}
}

// Start launches the background scheduling loop (next wall-clock hour +
// tickOffset) and performs an initial trigger_once inline.
func (c *Controller) Start(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&c.started, 0, 1) {
		return
	}
	if err := c.TriggerOnce(ctx); err != nil {
		log.Printf("ingest: initial trigger failed: %v", err)
	}
	c.wg.Add(1)
	go c.scheduleLoop(ctx)
}

// Stop halts the scheduling loop. Safe to call more than once.
func (c *Controller) Stop() {
	select {
	case <-c.stopChan:
		return
	default:
		close(c.stopChan)
	}
	c.wg.Wait()
}

func (c *Controller) scheduleLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		wait := nextTickDelay(c.clock())
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if err := c.TriggerOnce(ctx); err != nil {
				log.Printf("ingest: scheduled trigger failed: %v", err)
			}
		case <-c.stopChan:
			timer.Stop()
			return
		}
	}
}

// nextTickDelay returns the duration until the next wall-clock hour plus
// tickOffset, relative to now.
func nextTickDelay(now time.Time) time.Duration {
	nextHour := now.UTC().Truncate(time.Hour).Add(time.Hour).Add(tickOffset)
	d := nextHour.Sub(now.UTC())
	if d <= 0 {
		d = time.Hour
	}
	return d
}

// setState transitions the controller and records the transition in
// metrics. Must be called with mu held.
func (c *Controller) setState(s State) {
	c.state = s
	telemetry.ObserveIngestTransition(string(s))
}

// Running reports whether the background scheduling loop is active.
func (c *Controller) Running() bool {
	if atomic.LoadUint32(&c.started) == 0 {
		return false
	}
	select {
	case <-c.stopChan:
		return false
	default:
		return true
	}
}

// Status returns a snapshot of the controller's current state and the most
// recent run's counters, safe to call concurrently with TriggerOnce.
func (c *Controller) Status() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	cnt := c.counters
	cnt.State = c.state
	return cnt
}

// TriggerOnce runs one pass of the state machine to completion. Overlapping
// invocations serialize on mu; a later caller observes the already-updated
// latest_snapshot_time and typically no-ops.
func (c *Controller) TriggerOnce(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	runStart := c.clock()
	defer func() { telemetry.ObserveIngestRunSeconds(c.clock().Sub(runStart).Seconds()) }()

	now := balloon.TruncateToHour(c.clock())

	var err error
	switch c.state {
	case StateUninitialized, StateFailed:
		err = c.bootstrap(ctx, now)
	case StateBootstrapping:
		err = c.bootstrap(ctx, now)
	case StateSteady:
		err = c.incrementalStep(ctx, now)
	case StateCatchUp:
		err = c.rebuild(ctx, now)
	case StateRebuilding:
		err = c.rebuild(ctx, now)
	default:
		err = c.bootstrap(ctx, now)
	}

	c.counters.LastRunAt = c.clock()
	if err != nil {
		c.counters.LastError = err.Error()
		c.setState(StateFailed)
		return err
	}
	c.counters.LastError = ""
	return nil
}

// bootstrap reads latest_snapshot_time and routes to Steady (already
// current), CatchUp (a partial gap), or Rebuilding (cold or stale store).
func (c *Controller) bootstrap(ctx context.Context, now time.Time) error {
	c.setState(StateBootstrapping)

	if err := c.rehydrateIDFloor(ctx); err != nil {
		return err
	}

	latest, ok, err := c.store.LatestSnapshotTime(ctx)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreReadFailed, "latest_snapshot_time", err)
	}

	if !ok || latest.Before(now.Add(-(balloon.WindowHours-1)*time.Hour)) {
		return c.rebuild(ctx, now)
	}
	if latest.Equal(now) {
		if err := c.hydrateHistory(ctx, now); err != nil {
			return err
		}
		c.setState(StateSteady)
		return nil
	}
	// latest is somewhere in [now-23h, now): fill the gap hour by hour.
	c.setState(StateCatchUp)
	return c.catchUp(ctx, latest, now)
}

// catchUp fetches every missing hour strictly after latest, oldest first,
// tracking incrementally against whatever was last persisted.
func (c *Controller) catchUp(ctx context.Context, latest, now time.Time) error {
	if err := c.hydrateHistory(ctx, latest); err != nil {
		return err
	}

	hours := int(now.Sub(latest) / time.Hour)
	for h := hours - 1; h >= 0; h-- {
		t := now.Add(-time.Duration(h) * time.Hour)
		if err := c.stepTo(ctx, t); err != nil {
			return err
		}
	}
	c.setState(StateSteady)
	return nil
}

// incrementalStep is the Steady -> Steady action: fetch -> put_snapshot ->
// load prev -> track -> put_tracked -> cleanup.
func (c *Controller) incrementalStep(ctx context.Context, now time.Time) error {
	latest, ok, err := c.store.LatestSnapshotTime(ctx)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreReadFailed, "latest_snapshot_time", err)
	}
	if ok && latest.Equal(now) {
		return nil
	}

	obs, err := c.source.FetchHour(ctx, 0)
	c.observeDropped()
	if err != nil || len(obs) == 0 {
		c.setState(StateRebuilding)
		return c.rebuild(ctx, now)
	}

	if err := c.trackAndPersist(ctx, now, obs); err != nil {
		return err
	}
	return c.cleanup(ctx, now)
}

// rebuild performs the full 24h cold-start fetch, driven oldest to newest,
// in bounded-concurrency fetch batches of rebuildConcurrency.
func (c *Controller) rebuild(ctx context.Context, now time.Time) error {
	c.setState(StateRebuilding)

	obsByOffset := make([][]balloon.RawObservation, balloon.WindowHours)
	fetchErrs := make([]error, balloon.WindowHours)

	sem := make(chan struct{}, rebuildConcurrency)
	var wg sync.WaitGroup
	for offset := 0; offset < balloon.WindowHours; offset++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(offset int) {
			defer wg.Done()
			defer func() { <-sem }()
			obs, err := c.source.FetchHour(ctx, offset)
			obsByOffset[offset] = obs
			fetchErrs[offset] = err
		}(offset)
	}
	wg.Wait()
	c.observeDropped()

	c.history = tracker.History{}
	for offset := balloon.WindowHours - 1; offset >= 0; offset-- {
		if fetchErrs[offset] != nil {
			continue // hour genuinely unavailable upstream; leave the gap
		}
		t := now.Add(-time.Duration(offset) * time.Hour)
		if err := c.trackAndPersist(ctx, t, obsByOffset[offset]); err != nil {
			return err
		}
	}

	if err := c.cleanup(ctx, now); err != nil {
		return err
	}
	c.setState(StateSteady)
	return nil
}

// stepTo runs one hour's fetch-track-persist cycle for an arbitrary past
// hour t (used by catch-up), without the Steady-specific no-op short
// circuit incrementalStep has for "already current".
func (c *Controller) stepTo(ctx context.Context, t time.Time) error {
	offset := int(balloon.TruncateToHour(c.clock()).Sub(t) / time.Hour)
	obs, err := c.source.FetchHour(ctx, offset)
	c.observeDropped()
	if err != nil {
		return err
	}
	return c.trackAndPersist(ctx, t, obs)
}

// trackAndPersist runs the shared fetch -> put_snapshot -> load prev ->
// track -> put_tracked sequence for hour t given already-fetched obs.
func (c *Controller) trackAndPersist(ctx context.Context, t time.Time, obs []balloon.RawObservation) error {
	if err := c.store.PutSnapshot(ctx, t, obs); err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, fmt.Sprintf("put_snapshot %s", t), err)
	}

	prev, err := c.store.TrackedAt(ctx, t.Add(-time.Hour))
	if err != nil {
		return balloon.Wrap(balloon.KindStoreReadFailed, fmt.Sprintf("tracked_at %s", t.Add(-time.Hour)), err)
	}

	tracked := tracker.Track(obs, prev, c.history, t, c.nextID)
	for _, p := range tracked {
		if p.SpeedKmh != nil && p.HeadingDeg != nil {
			c.history.Push(p.BalloonID, tracker.Segment{SpeedKmh: *p.SpeedKmh, HeadingDeg: *p.HeadingDeg})
		}
		observeAssignment(p)
	}

	if err := c.store.PutTracked(ctx, tracked); err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, fmt.Sprintf("put_tracked %s", t), err)
	}

	c.counters.SnapshotsWritten++
	c.counters.TrackedWritten += len(tracked)
	return nil
}

// observeDropped reports the source client's cumulative dropped-observation
// count as a metric delta since the last call, if the configured
// SourceFetcher exposes one.
func (c *Controller) observeDropped() {
	dc, ok := c.source.(droppedCounter)
	if !ok {
		return
	}
	total := dc.DroppedTotal()
	delta := total - c.lastDroppedSeen
	c.lastDroppedSeen = total
	if delta > 0 {
		telemetry.ObserveSourceDropped(int(delta))
	}
}

// observeAssignment feeds the tracker metrics from a persisted tracked
// position. The Tracker does not return its raw cost, so for matched
// positions cost is reconstructed from confidence = max(0.3, exp(-2c/100));
// this underestimates costs above the 0.3 floor but is good enough for a
// distribution metric.
func observeAssignment(p balloon.TrackedPosition) {
	if p.Status == balloon.StatusNew {
		telemetry.ObserveTrackerAssignment(0, false)
		return
	}
	if p.Status == balloon.StatusActive && p.Confidence > 0 {
		cost := -50 * math.Log(p.Confidence)
		telemetry.ObserveTrackerAssignment(cost, true)
	}
}

func (c *Controller) cleanup(ctx context.Context, now time.Time) error {
	trackedDeleted, snapshotsDeleted, err := c.store.Cleanup(ctx, now.Add(-balloon.WindowHours*time.Hour))
	if err != nil {
		return balloon.Wrap(balloon.KindStoreWriteFailed, "cleanup", err)
	}
	c.counters.TrackedDeleted += trackedDeleted
	c.counters.SnapshotsDeleted += snapshotsDeleted
	return nil
}

// rehydrateIDFloor sets idFloor to max_numeric_id(), so the next id nextID
// mints is max_numeric_id() + 1.
func (c *Controller) rehydrateIDFloor(ctx context.Context) error {
	maxID, err := c.store.MaxNumericID(ctx)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreReadFailed, "max_numeric_id", err)
	}
	atomic.StoreInt64(&c.idFloor, int64(maxID))
	return nil
}

// nextID mints the next monotonic id. Only ever called while mu is held (it
// is passed to tracker.Track from within TriggerOnce's critical section).
func (c *Controller) nextID() balloon.BalloonID {
	n := atomic.AddInt64(&c.idFloor, 1)
	return balloon.FormatBalloonID(int(n))
}

// hydrateHistory rebuilds the per-id smoothed-velocity cache from the
// store's retained trajectories as of asOf, used when entering Steady
// without having just run a step that built it incrementally.
func (c *Controller) hydrateHistory(ctx context.Context, asOf time.Time) error {
	tracked, err := c.store.TrackedAt(ctx, asOf)
	if err != nil {
		return balloon.Wrap(balloon.KindStoreReadFailed, "tracked_at", err)
	}
	c.history = tracker.History{}
	for _, p := range tracked {
		traj, err := c.store.Trajectory(ctx, p.BalloonID)
		if err != nil {
			return balloon.Wrap(balloon.KindStoreReadFailed, fmt.Sprintf("trajectory %s", p.BalloonID), err)
		}
		sort.Slice(traj, func(i, j int) bool { return traj[i].Timestamp.Before(traj[j].Timestamp) })
		for _, seg := range tracker.BuildHistoryFromTrajectory(traj) {
			c.history.Push(p.BalloonID, seg)
		}
	}
	return nil
}
