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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/ingest"
	"balloontrack/internal/balloon/predictor"
	"balloontrack/internal/balloon/query"
	"balloontrack/internal/balloon/store"
	"balloontrack/internal/balloon/windcache"
)

// stubWind answers every WindFor call with a fixed vector for each location,
// never touching the network.
type stubWind struct{}

func (stubWind) WindFor(ctx context.Context, locations []balloon.WindLocation) (map[string]balloon.WindVector, error) {
	out := make(map[string]balloon.WindVector, len(locations))
	for _, l := range locations {
		out[windcache.Key(l)] = balloon.WindVector{
			Lat: l.Lat, Lon: l.Lon, AltKm: l.AltKm, SpeedKmh: 20, DirectionFromDeg: 270,
		}
	}
	return out, nil
}

// noSourceFetcher never succeeds; used where the test never expects an
// ingest fetch to actually run.
type noSourceFetcher struct{}

func (noSourceFetcher) FetchHour(ctx context.Context, offset int) ([]balloon.RawObservation, error) {
	return nil, balloon.Wrap(balloon.KindUpstreamUnavailable, "no source configured in this test", nil)
}

func seed(t *testing.T, st *store.MemoryStore, ts time.Time, id balloon.BalloonID, lat, lon float64) {
	t.Helper()
	ctx := context.Background()
	if err := st.PutSnapshot(ctx, ts, []balloon.RawObservation{{Lat: lat, Lon: lon, AltKm: 15}}); err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	if err := st.PutTracked(ctx, []balloon.TrackedPosition{{BalloonID: id, Timestamp: ts, Lat: lat, Lon: lon, AltKm: 15, Status: balloon.StatusActive, Confidence: 1}}); err != nil {
		t.Fatalf("PutTracked: %v", err)
	}
}

func newTestServer(t *testing.T, now time.Time) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	clock := func() time.Time { return now }
	qs := query.New(st, clock)
	pred := predictor.New(st, stubWind{})
	ic := ingest.New(st, noSourceFetcher{}, clock)
	return New(qs, pred, ic, stubWind{}), st
}

func TestHandlePositionsAtReturnsSeededBalloons(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv, st := newTestServer(t, now)
	seed(t, st, now, "balloon_0001", 10, 20)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/balloons?hour_offset=0")
	if err != nil {
		t.Fatalf("GET /balloons: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out query.PositionsResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.BalloonCount != 1 || out.Balloons[0].BalloonID != "balloon_0001" {
		t.Fatalf("unexpected positions result: %+v", out)
	}
}

func TestHandlePositionsAtRejectsBadOffset(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/balloons?hour_offset=99")
	if err != nil {
		t.Fatalf("GET /balloons: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range offset, got %d", resp.StatusCode)
	}
}

func TestHandleTrajectoryUnknownIDReturns404(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/balloons/balloon_9999")
	if err != nil {
		t.Fatalf("GET /balloons/:id: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown balloon, got %d", resp.StatusCode)
	}
}

func TestHandleValueRejectsBadMethod(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv, st := newTestServer(t, now)
	seed(t, st, now.Add(-time.Hour), "balloon_0001", 1, 1)
	seed(t, st, now, "balloon_0001", 2, 2)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/balloons/balloon_0001/value?hours=1&method=bogus")
	if err != nil {
		t.Fatalf("GET /balloons/:id/value: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown method, got %d", resp.StatusCode)
	}
}

func TestHandleValueScoresPersistence(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv, st := newTestServer(t, now)
	seed(t, st, now.Add(-time.Hour), "balloon_0001", 1, 1)
	seed(t, st, now, "balloon_0001", 1.1, 1.1)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/balloons/balloon_0001/value?hours=1&method=persistence")
	if err != nil {
		t.Fatalf("GET value: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandleHistoryReturnsEmptyArrayWhenNoData(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/balloons/history")
	if err != nil {
		t.Fatalf("GET /balloons/history: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestHandlePredictedTrajectoryRejectsOutOfRangeHours(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv, st := newTestServer(t, now)
	seed(t, st, now, "balloon_0001", 1, 1)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/trajectory/balloon_0001?hours=99&method=persistence")
	if err != nil {
		t.Fatalf("GET /trajectory/:id: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for hours out of [1,12], got %d", resp.StatusCode)
	}
}

func TestHandleHealthReportsUnhealthyForEmptyStore(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var out query.HealthResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != query.HealthUnhealthy {
		t.Fatalf("expected unhealthy status for an empty store, got %s", out.Status)
	}
}

func TestHandleRefreshTriggersIngestAndReturnsCounters(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/refresh", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("POST /refresh: %v", err)
	}
	defer resp.Body.Close()

	// A cold store routes to a full rebuild; per-hour fetch failures are
	// treated as retained gaps rather than surfaced errors, so the pass
	// still completes and reports 200 with zeroed counters.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var counters ingest.Counters
	if err := json.NewDecoder(resp.Body).Decode(&counters); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if counters.State != ingest.StateSteady {
		t.Fatalf("expected state steady after an all-gaps rebuild, got %s", counters.State)
	}
}

func TestHandleWindFieldRejectsOversizedGrid(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/trajectory/wind-field?latMin=0&latMax=10&lngMin=0&lngMax=10&gridSize=40")
	if err != nil {
		t.Fatalf("GET wind-field: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for gridSize^2 > 1000, got %d", resp.StatusCode)
	}
}

func TestHandleWindFieldReturnsGridVectors(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/trajectory/wind-field?latMin=0&latMax=1&lngMin=0&lngMax=1&gridSize=2")
	if err != nil {
		t.Fatalf("GET wind-field: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out struct {
		Grid  int                  `json:"grid"`
		Count int                  `json:"count"`
		Data  []balloon.WindVector `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Grid != 2 {
		t.Fatalf("expected grid=2, got %d", out.Grid)
	}
}

func TestMetricsRouteIsExposed(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestListenAndServeInvalidAddr(t *testing.T) {
	now := time.Now().UTC()
	srv, _ := newTestServer(t, now)
	if err := srv.ListenAndServe("127.0.0.1:notaport"); err == nil {
		t.Fatalf("expected ListenAndServe to return an error for an invalid addr")
	}
}
