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

// Package api implements the public-facing HTTP read API for the balloon
// tracker. It translates requests into calls against the Query Service, the
// Predictor, and the Ingest Controller, and has no logic of its own beyond
// parameter parsing and status-code selection.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/ingest"
	"balloontrack/internal/balloon/predictor"
	"balloontrack/internal/balloon/query"
	"balloontrack/internal/balloon/telemetry"
)

const (
	maxGridPoints = 1000
	windFieldAlt  = 10.0 // default altitude (km) when neither pressure nor altitude is given
	scaleHeightKm = 7.4
	seaLevelHPa   = 1013.25
)

// WindSource is the subset of windclient.Client the wind-field endpoint
// needs; it matches predictor.WindSource's shape so the same
// windclient.Client satisfies both.
type WindSource interface {
	WindFor(ctx context.Context, locations []balloon.WindLocation) (map[string]balloon.WindVector, error)
}

// Server wires the Query Service, Predictor, Ingest Controller, and Wind
// Client behind a thin HTTP surface.
type Server struct {
	query     *query.Service
	predictor *predictor.Predictor
	ingest    *ingest.Controller
	wind      WindSource
}

// New constructs a Server. wind may be nil; the wind-field endpoint then
// reports 503.
func New(qs *query.Service, pred *predictor.Predictor, ic *ingest.Controller, wind WindSource) *Server {
	return &Server{query: qs, predictor: pred, ingest: ic, wind: wind}
}

// RegisterRoutes mounts every endpoint from the read API on mux, plus
// /metrics for Prometheus scraping.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /balloons", s.handlePositionsAt)
	mux.HandleFunc("GET /balloons/history", s.handleHistory)
	mux.HandleFunc("GET /balloons/{id}", s.handleTrajectory)
	mux.HandleFunc("GET /balloons/{id}/value", s.handleValue)
	mux.HandleFunc("GET /trajectory/{id}", s.handlePredictedTrajectory)
	mux.HandleFunc("GET /trajectory/wind-field", s.handleWindField)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.Handle("GET /metrics", telemetry.Handler())
}

// ListenAndServe starts the HTTP server on addr with the same timeout
// profile used throughout this lineage.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("balloon tracker API listening on %s\n", addr)
	return httpServer.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr picks a status code from the error's Kind, matching the
// propagation policy: not-found/invalid-argument are client errors (404/400),
// a wind rate limit is 429, a timeout is 504, upstream and wind failures are
// 502, and everything else is 500.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch balloon.KindOf(err) {
	case balloon.KindInvalidArgument:
		status = http.StatusBadRequest
	case balloon.KindNotFound:
		status = http.StatusNotFound
	case balloon.KindUpstreamUnavailable, balloon.KindUpstreamCorrupt, balloon.KindWindUnavailable:
		status = http.StatusBadGateway
	case balloon.KindWindRateLimited:
		status = http.StatusTooManyRequests
	case balloon.KindTimeout:
		status = http.StatusGatewayTimeout
	}
	http.Error(w, err.Error(), status)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

// handlePositionsAt serves GET /balloons?hour_offset=N.
func (s *Server) handlePositionsAt(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "hour_offset", 0)
	if err != nil {
		http.Error(w, "hour_offset must be an integer", http.StatusBadRequest)
		return
	}
	res, err := s.query.PositionsAt(r.Context(), offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleTrajectory serves GET /balloons/{id}?hour_offset=N.
func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	id := balloon.BalloonID(r.PathValue("id"))
	offset, err := intParam(r, "hour_offset", 0)
	if err != nil {
		http.Error(w, "hour_offset must be an integer", http.StatusBadRequest)
		return
	}
	res, err := s.query.Trajectory(r.Context(), id, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		BalloonID           balloon.BalloonID      `json:"balloon_id"`
		Trajectory          query.TrajectoryResult `json:"trajectory"`
		ReferenceHourOffset int                    `json:"reference_hour_offset"`
	}{BalloonID: id, Trajectory: res, ReferenceHourOffset: res.ReferenceHourOffset})
}

// handleValue serves GET /balloons/{id}/value?hours=H&method=M.
func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	id := balloon.BalloonID(r.PathValue("id"))
	hours, err := intParam(r, "hours", 1)
	if err != nil || hours < 1 || hours > 24 {
		http.Error(w, "hours must be an integer in [1,24]", http.StatusBadRequest)
		return
	}
	method, err := parseMethod(r.URL.Query().Get("method"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	score, points, err := s.predictor.Score(r.Context(), id, hours, method)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		BalloonID   balloon.BalloonID        `json:"balloon_id"`
		Method      balloon.PredictionMethod `json:"method"`
		MeanErrorKm float64                  `json:"mean_error_km"`
		Points      []predictor.ErrorPoint   `json:"points"`
	}{BalloonID: id, Method: method, MeanErrorKm: score, Points: points})
}

// handleHistory serves GET /balloons/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.query.History(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handlePredictedTrajectory serves GET /trajectory/{id}?hours=H&method=M.
func (s *Server) handlePredictedTrajectory(w http.ResponseWriter, r *http.Request) {
	id := balloon.BalloonID(r.PathValue("id"))
	hours, err := intParam(r, "hours", 1)
	if err != nil || hours < 1 || hours > 12 {
		http.Error(w, "hours must be an integer in [1,12]", http.StatusBadRequest)
		return
	}
	method, err := parseMethod(r.URL.Query().Get("method"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	traj, err := s.query.Trajectory(r.Context(), id, 0)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(traj.HistoricalPositions) == 0 {
		http.Error(w, "no history retained for this balloon", http.StatusNotFound)
		return
	}

	predicted, err := s.predictor.Predict(r.Context(), traj.HistoricalPositions, hours, method)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		BalloonID balloon.BalloonID           `json:"balloon_id"`
		Method    balloon.PredictionMethod    `json:"method"`
		Predicted []balloon.PredictedPosition `json:"predicted_trajectory"`
	}{BalloonID: id, Method: method, Predicted: predicted})
}

func parseMethod(raw string) (balloon.PredictionMethod, error) {
	if raw == "" {
		return balloon.MethodPersistence, nil
	}
	m := balloon.PredictionMethod(raw)
	switch m {
	case balloon.MethodPersistence, balloon.MethodWind, balloon.MethodHybrid:
		return m, nil
	default:
		return "", fmt.Errorf("method must be one of persistence, wind, hybrid")
	}
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	autoUpdate := s.ingest != nil && s.ingest.Running()
	res, err := s.query.Health(r.Context(), autoUpdate)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRefresh serves POST /refresh, synchronously triggering one ingest
// pass and returning the resulting counters.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		http.Error(w, "ingest controller not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.ingest.TriggerOnce(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ingest.Status())
}

// handleWindField serves GET /trajectory/wind-field, sampling a lat/lon grid
// at a single altitude (or pressure level, converted to altitude) and
// batch-resolving the wind vector at each grid point.
func (s *Server) handleWindField(w http.ResponseWriter, r *http.Request) {
	if s.wind == nil {
		http.Error(w, "wind client not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	latMin, errA := parseFloat(q.Get("latMin"))
	latMax, errB := parseFloat(q.Get("latMax"))
	lngMin, errC := parseFloat(q.Get("lngMin"))
	lngMax, errD := parseFloat(q.Get("lngMax"))
	if errA != nil || errB != nil || errC != nil || errD != nil || latMin > latMax || lngMin > lngMax {
		http.Error(w, "latMin/latMax/lngMin/lngMax must be well-ordered floats", http.StatusBadRequest)
		return
	}

	gridSize, err := intParam(r, "gridSize", 10)
	if err != nil || gridSize < 1 {
		http.Error(w, "gridSize must be a positive integer", http.StatusBadRequest)
		return
	}
	if gridSize*gridSize > maxGridPoints {
		http.Error(w, fmt.Sprintf("gridSize^2 must not exceed %d", maxGridPoints), http.StatusBadRequest)
		return
	}

	altKm := windFieldAlt
	if raw := q.Get("altitude"); raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			http.Error(w, "altitude must be a float", http.StatusBadRequest)
			return
		}
		altKm = v
	} else if raw := q.Get("pressure"); raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			http.Error(w, "pressure must be a float", http.StatusBadRequest)
			return
		}
		altKm = pressureToAltitudeKm(v)
	}

	now := time.Now().UTC()
	locs := make([]balloon.WindLocation, 0, gridSize*gridSize)
	for i := 0; i < gridSize; i++ {
		for j := 0; j < gridSize; j++ {
			lat := latMin + (latMax-latMin)*float64(i)/float64(maxInt(gridSize-1, 1))
			lon := lngMin + (lngMax-lngMin)*float64(j)/float64(maxInt(gridSize-1, 1))
			locs = append(locs, balloon.WindLocation{Lat: lat, Lon: lon, AltKm: altKm, Timestamp: now})
		}
	}

	vectors, err := s.wind.WindFor(r.Context(), locs)
	if err != nil && balloon.KindOf(err) != balloon.KindWindRateLimited {
		writeErr(w, err)
		return
	}

	data := make([]balloon.WindVector, 0, len(vectors))
	for _, v := range vectors {
		data = append(data, v)
	}
	writeJSON(w, http.StatusOK, struct {
		Grid  int                  `json:"grid"`
		Count int                  `json:"count"`
		Data  []balloon.WindVector `json:"data"`
	}{Grid: gridSize, Count: len(data), Data: data})
}

func parseFloat(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("missing value")
	}
	return strconv.ParseFloat(raw, 64)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// pressureToAltitudeKm inverts the barometric approximation the Wind Client
// uses to go the other way (altitude -> pressure): P = P0 * exp(-h/H).
func pressureToAltitudeKm(pressureHPa float64) float64 {
	if pressureHPa <= 0 {
		return 0
	}
	return scaleHeightKm * math.Log(seaLevelHPa/pressureHPa)
}
