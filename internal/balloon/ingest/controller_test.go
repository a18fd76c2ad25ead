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

package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/store"
)

// fakeSource is a scripted SourceFetcher: per-offset canned observations or
// errors, with a call counter for assertions.
type fakeSource struct {
	mu    sync.Mutex
	byOff map[int][]balloon.RawObservation
	errs  map[int]error
	calls map[int]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		byOff: map[int][]balloon.RawObservation{},
		errs:  map[int]error{},
		calls: map[int]int{},
	}
}

func (f *fakeSource) FetchHour(ctx context.Context, offset int) ([]balloon.RawObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[offset]++
	if err, ok := f.errs[offset]; ok {
		return nil, err
	}
	return f.byOff[offset], nil
}

func (f *fakeSource) callCount(offset int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[offset]
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestBootstrapColdStoreTriggersFullRebuild(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	src := newFakeSource()
	for off := 0; off < balloon.WindowHours; off++ {
		src.byOff[off] = []balloon.RawObservation{{Lat: 1, Lon: 1, AltKm: 15}}
	}

	c := New(st, src, fixedClock(now))
	if err := c.TriggerOnce(context.Background()); err != nil {
		t.Fatalf("TriggerOnce: %v", err)
	}

	if got := c.Status().State; got != StateSteady {
		t.Fatalf("expected Steady after rebuild, got %s", got)
	}
	latest, ok, err := st.LatestSnapshotTime(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a latest snapshot, err=%v ok=%v", err, ok)
	}
	if !latest.Equal(now) {
		t.Fatalf("expected latest snapshot == now, got %s", latest)
	}
	for off := 0; off < balloon.WindowHours; off++ {
		if src.callCount(off) != 1 {
			t.Fatalf("expected exactly 1 fetch for offset %d, got %d", off, src.callCount(off))
		}
	}
}

func TestBootstrapAlreadyCurrentGoesSteady(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	if err := st.PutSnapshot(context.Background(), now, []balloon.RawObservation{{Lat: 1, Lon: 1, AltKm: 15}}); err != nil {
		t.Fatalf("seed PutSnapshot: %v", err)
	}

	src := newFakeSource()
	c := New(st, src, fixedClock(now))
	if err := c.TriggerOnce(context.Background()); err != nil {
		t.Fatalf("TriggerOnce: %v", err)
	}
	if got := c.Status().State; got != StateSteady {
		t.Fatalf("expected Steady, got %s", got)
	}
	for off := 0; off < balloon.WindowHours; off++ {
		if src.callCount(off) != 0 {
			t.Fatalf("expected no fetches when already current, got %d at offset %d", src.callCount(off), off)
		}
	}
}

func TestIncrementalStepPersistsAndCleansUp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()

	// Seed latest == now - 1h, then set the state to Steady directly
	// (skipping bootstrap) to isolate incrementalStep.
	if err := st.PutSnapshot(context.Background(), now.Add(-time.Hour), []balloon.RawObservation{{Lat: 1, Lon: 1, AltKm: 15}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	src := newFakeSource()
	src.byOff[0] = []balloon.RawObservation{{Lat: 1.01, Lon: 1.01, AltKm: 15.1}}

	c := New(st, src, fixedClock(now))
	c.state = StateSteady // force Steady to test incrementalStep in isolation

	if err := c.TriggerOnce(context.Background()); err != nil {
		t.Fatalf("TriggerOnce: %v", err)
	}
	if got := c.Status().State; got != StateSteady {
		t.Fatalf("expected still Steady, got %s", got)
	}

	snap, ok, err := st.GetSnapshot(context.Background(), now)
	if err != nil || !ok {
		t.Fatalf("expected a snapshot at now, err=%v ok=%v", err, ok)
	}
	if len(snap.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(snap.Observations))
	}

	tracked, err := st.TrackedAt(context.Background(), now)
	if err != nil {
		t.Fatalf("TrackedAt: %v", err)
	}
	if len(tracked) != 1 {
		t.Fatalf("expected 1 tracked position, got %d", len(tracked))
	}
}

func TestIncrementalStepEmptyFetchFallsBackToRebuild(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	if err := st.PutSnapshot(context.Background(), now.Add(-time.Hour), []balloon.RawObservation{{Lat: 1, Lon: 1, AltKm: 15}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	src := newFakeSource()
	// offset 0 is empty -> triggers rebuild; populate every other offset
	// for the rebuild pass to succeed.
	for off := 1; off < balloon.WindowHours; off++ {
		src.byOff[off] = []balloon.RawObservation{{Lat: 2, Lon: 2, AltKm: 16}}
	}

	c := New(st, src, fixedClock(now))
	c.state = StateSteady

	if err := c.TriggerOnce(context.Background()); err != nil {
		t.Fatalf("TriggerOnce: %v", err)
	}
	if got := c.Status().State; got != StateSteady {
		t.Fatalf("expected Steady after rebuild fallback, got %s", got)
	}
	if src.callCount(0) == 0 {
		t.Fatalf("expected offset 0 to have been attempted")
	}
}

func TestTriggerOnceReentrantSerializesOnMutex(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	src := newFakeSource()
	for off := 0; off < balloon.WindowHours; off++ {
		src.byOff[off] = []balloon.RawObservation{{Lat: 1, Lon: 1, AltKm: 15}}
	}
	c := New(st, src, fixedClock(now))

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.TriggerOnce(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: unexpected error %v", i, err)
		}
	}
	if got := c.Status().State; got != StateSteady {
		t.Fatalf("expected Steady after overlapping triggers settle, got %s", got)
	}
}

func TestRehydrateIDFloorContinuesNumbering(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	seeded := []balloon.TrackedPosition{
		{BalloonID: balloon.FormatBalloonID(7), Timestamp: now.Add(-time.Hour), Lat: 0, Lon: 0, AltKm: 15, Status: balloon.StatusNew, Confidence: 1},
	}
	if err := st.PutSnapshot(context.Background(), now.Add(-time.Hour), []balloon.RawObservation{{Lat: 0, Lon: 0, AltKm: 15}}); err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}
	if err := st.PutTracked(context.Background(), seeded); err != nil {
		t.Fatalf("seed tracked: %v", err)
	}

	src := newFakeSource()
	for off := 0; off < balloon.WindowHours; off++ {
		src.byOff[off] = nil
	}
	// Make the store look stale enough to force a rebuild through bootstrap,
	// exercising rehydrateIDFloor.
	c := New(st, src, fixedClock(now.Add(30*time.Hour)))
	if err := c.TriggerOnce(context.Background()); err != nil {
		t.Fatalf("TriggerOnce: %v", err)
	}
	if c.idFloor < 7 {
		t.Fatalf("expected id floor rehydrated to at least 7, got %d", c.idFloor)
	}
}

func TestNextTickDelayIsPositiveAndBounded(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	d := nextTickDelay(now)
	if d <= 0 {
		t.Fatalf("expected a positive delay, got %v", d)
	}
	if d > 2*time.Hour {
		t.Fatalf("expected delay bounded near an hour, got %v", d)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	src := newFakeSource()
	for off := 0; off < balloon.WindowHours; off++ {
		src.byOff[off] = []balloon.RawObservation{{Lat: 1, Lon: 1, AltKm: 15}}
	}
	c := New(st, src, fixedClock(now))

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()
	<-done

	if got := c.Status().State; got != StateSteady {
		t.Fatalf("expected Steady after Start's inline trigger, got %s", got)
	}
	c.Stop()
	c.Stop() // must not panic or block on a second call
}

func TestTrackAndPersistErrorPropagatesAsStoreWriteFailed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := New(failingStore{}, newFakeSource(), fixedClock(now))
	err := c.trackAndPersist(context.Background(), now, nil)
	if err == nil {
		t.Fatalf("expected an error from a failing store")
	}
	if balloon.KindOf(err) != balloon.KindStoreWriteFailed {
		t.Fatalf("expected KindStoreWriteFailed, got %s", balloon.KindOf(err))
	}
}

// failingStore implements store.Store with every method failing, to
// exercise error-wrapping paths without a real backend.
type failingStore struct{ store.Store }

func (failingStore) PutSnapshot(ctx context.Context, t time.Time, observations []balloon.RawObservation) error {
	return fmt.Errorf("boom")
}
