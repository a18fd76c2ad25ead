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

// Package windclient fetches upper-air wind vectors from the external
// atmospheric provider. Grounded on the teacher lineage's Open-Meteo client
// (pressure-level query construction, hourly-array JSON decode into a
// generic map), extended with the pressure-level grouping, spatial batching,
// and rate-limit handling this spec requires.
package windclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"balloontrack/internal/balloon"
	"balloontrack/internal/balloon/telemetry"
	"balloontrack/internal/balloon/windcache"
)

// pressureLadder is the fixed set of pressure levels (hPa) the provider
// supports, used to snap an altitude to its nearest supported level.
var pressureLadder = []int{
	1000, 975, 950, 925, 900, 850, 800, 700, 600, 500, 400, 300, 250, 200, 150, 100, 70, 50, 30,
}

const (
	seaLevelPressureHPa = 1013.25
	scaleHeightKm        = 7.4

	maxLocationsPerRequest = 300
	maxFramingDays         = 3
	maxResponseSkew        = 90 * time.Minute

	rateLimitSleep = 10 * time.Second
	batchPacing    = 1 * time.Second
)

// Client fetches wind vectors from the external atmospheric provider,
// consulting a Cache before issuing requests and populating it afterward.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      windcache.Cache

	// Sleep is overridable in tests to avoid real waiting.
	Sleep func(time.Duration)
}

// New constructs a Client against the given provider base URL (e.g.
// "https://api.open-meteo.com/v1/forecast"), consulting cache for hits.
func New(baseURL string, cache windcache.Cache) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Cache:      cache,
		Sleep:      time.Sleep,
	}
}

// altitudeToPressureHPa converts altitude (km) to the nearest supported
// pressure level using the barometric approximation P = P0 * exp(-h/H).
func altitudeToPressureHPa(altKm float64) int {
	p := seaLevelPressureHPa * math.Exp(-altKm/scaleHeightKm)
	best := pressureLadder[0]
	bestDiff := math.MaxFloat64
	for _, lvl := range pressureLadder {
		d := math.Abs(float64(lvl) - p)
		if d < bestDiff {
			bestDiff = d
			best = lvl
		}
	}
	return best
}

// WindFor resolves a wind vector for each requested location, consulting
// the cache first and batching cache misses by pressure level. The
// returned map is keyed by windcache.Key(loc) so callers can look up by
// the same quantized bucket they requested.
func (c *Client) WindFor(ctx context.Context, locations []balloon.WindLocation) (map[string]balloon.WindVector, error) {
	result := make(map[string]balloon.WindVector, len(locations))
	var misses []balloon.WindLocation

	for _, loc := range locations {
		if c.Cache != nil {
			if v, ok, err := c.Cache.Get(ctx, loc); err == nil && ok {
				result[windcache.Key(loc)] = v
				telemetry.ObserveWindCacheLookup(true)
				continue
			}
		}
		telemetry.ObserveWindCacheLookup(false)
		misses = append(misses, loc)
	}
	if len(misses) == 0 {
		return result, nil
	}

	groups := groupByPressure(misses)

	// Deterministic order keeps request pacing (and tests) reproducible.
	levels := make([]int, 0, len(groups))
	for lvl := range groups {
		levels = append(levels, lvl)
	}
	sort.Ints(levels)

	for i, lvl := range levels {
		locs := groups[lvl]
		for batchStart := 0; batchStart < len(locs); batchStart += maxLocationsPerRequest {
			end := batchStart + maxLocationsPerRequest
			if end > len(locs) {
				end = len(locs)
			}
			batch := locs[batchStart:end]

			vectors, err := c.fetchBatch(ctx, lvl, batch)
			if err != nil {
				if balloon.KindOf(err) == balloon.KindWindRateLimited {
					c.Sleep(rateLimitSleep)
					continue
				}
				return result, err
			}
			for key, v := range vectors {
				result[key] = v
				if c.Cache != nil {
					if loc, ok := findLocationForKey(batch, key); ok {
						_ = c.Cache.Put(ctx, loc, v)
					}
				}
			}
		}
		if i < len(levels)-1 {
			c.Sleep(batchPacing)
		}
	}

	return result, nil
}

func findLocationForKey(locs []balloon.WindLocation, key string) (balloon.WindLocation, bool) {
	for _, l := range locs {
		if windcache.Key(l) == key {
			return l, true
		}
	}
	return balloon.WindLocation{}, false
}

func groupByPressure(locs []balloon.WindLocation) map[int][]balloon.WindLocation {
	groups := make(map[int][]balloon.WindLocation)
	for _, l := range locs {
		lvl := altitudeToPressureHPa(l.AltKm)
		groups[lvl] = append(groups[lvl], l)
	}
	return groups
}

// framingDays returns (past_days, forecast_days) covering [minTs, maxTs],
// each capped to maxFramingDays.
func framingDays(now time.Time, minTs, maxTs time.Time) (pastDays, forecastDays int) {
	pastDays = int(math.Ceil(now.Sub(minTs).Hours() / 24))
	forecastDays = int(math.Ceil(maxTs.Sub(now).Hours() / 24))
	if pastDays < 0 {
		pastDays = 0
	}
	if forecastDays < 0 {
		forecastDays = 0
	}
	if pastDays > maxFramingDays {
		pastDays = maxFramingDays
	}
	if forecastDays > maxFramingDays {
		forecastDays = maxFramingDays
	}
	return pastDays, forecastDays
}

func (c *Client) fetchBatch(ctx context.Context, pressureHPa int, locs []balloon.WindLocation) (map[string]balloon.WindVector, error) {
	if len(locs) == 0 {
		return nil, nil
	}

	minTs, maxTs := locs[0].Timestamp, locs[0].Timestamp
	lats := make([]string, len(locs))
	lons := make([]string, len(locs))
	for i, l := range locs {
		lats[i] = strconv.FormatFloat(l.Lat, 'f', 4, 64)
		lons[i] = strconv.FormatFloat(l.Lon, 'f', 4, 64)
		if l.Timestamp.Before(minTs) {
			minTs = l.Timestamp
		}
		if l.Timestamp.After(maxTs) {
			maxTs = l.Timestamp
		}
	}
	pastDays, forecastDays := framingDays(time.Now().UTC(), minTs, maxTs)

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindWindUnavailable, "parse base url", err)
	}
	q := u.Query()
	q.Set("latitude", strings.Join(lats, ","))
	q.Set("longitude", strings.Join(lons, ","))
	q.Set("hourly", fmt.Sprintf("wind_speed_%dhPa,wind_direction_%dhPa", pressureHPa, pressureHPa))
	q.Set("past_days", strconv.Itoa(pastDays))
	q.Set("forecast_days", strconv.Itoa(forecastDays))
	q.Set("timezone", "UTC")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindWindUnavailable, "build request", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindWindUnavailable, "fetch wind batch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, balloon.Wrap(balloon.KindWindRateLimited, "provider returned 429", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, balloon.Wrap(balloon.KindWindUnavailable,
			fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)), nil)
	}

	var raw interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, balloon.Wrap(balloon.KindWindUnavailable, "decode response", err)
	}

	var elements []map[string]interface{}
	switch v := raw.(type) {
	case map[string]interface{}:
		elements = []map[string]interface{}{v}
	case []interface{}:
		for _, e := range v {
			if m, ok := e.(map[string]interface{}); ok {
				elements = append(elements, m)
			}
		}
	default:
		return nil, balloon.Wrap(balloon.KindWindUnavailable, "unexpected response shape", nil)
	}

	return bindResponses(elements, locs, pressureHPa)
}

// bindResponses pairs each location with the response element in the same
// position (Open-Meteo returns elements in request order) and picks the
// hourly entry closest to the requested timestamp.
func bindResponses(elements []map[string]interface{}, locs []balloon.WindLocation, pressureHPa int) (map[string]balloon.WindVector, error) {
	out := make(map[string]balloon.WindVector)
	for i, loc := range locs {
		if i >= len(elements) {
			continue
		}
		v, ok := bindOne(elements[i], loc, pressureHPa)
		if ok {
			out[windcache.Key(loc)] = v
		}
	}
	return out, nil
}

func bindOne(elem map[string]interface{}, loc balloon.WindLocation, pressureHPa int) (balloon.WindVector, bool) {
	hourly, ok := elem["hourly"].(map[string]interface{})
	if !ok {
		return balloon.WindVector{}, false
	}
	times, ok := hourly["time"].([]interface{})
	if !ok {
		return balloon.WindVector{}, false
	}
	speeds, _ := hourly[fmt.Sprintf("wind_speed_%dhPa", pressureHPa)].([]interface{})
	dirs, _ := hourly[fmt.Sprintf("wind_direction_%dhPa", pressureHPa)].([]interface{})

	want := loc.Timestamp
	if want.IsZero() {
		want = time.Now().UTC()
	}

	bestIdx := -1
	var bestDiff time.Duration
	for i, t := range times {
		s, ok := t.(string)
		if !ok {
			continue
		}
		ts, err := time.Parse("2006-01-02T15:04", s)
		if err != nil {
			continue
		}
		ts = ts.UTC()
		diff := ts.Sub(want)
		if diff < 0 {
			diff = -diff
		}
		if bestIdx == -1 || diff < bestDiff {
			bestIdx = i
			bestDiff = diff
		}
	}
	if bestIdx == -1 || bestDiff > maxResponseSkew {
		return balloon.WindVector{}, false
	}

	speedKmh := floatAt(speeds, bestIdx)
	dirFrom := floatAt(dirs, bestIdx)

	// Meteorological "from" bearing: derive the east/north vector the wind
	// is blowing toward.
	theta := dirFrom * math.Pi / 180
	speedMs := speedKmh / 3.6
	u := -speedMs * math.Sin(theta)
	v := -speedMs * math.Cos(theta)

	return balloon.WindVector{
		Lat: loc.Lat, Lon: loc.Lon, AltKm: loc.AltKm,
		PressureHPa: pressureHPa, UMs: u, VMs: v,
		SpeedKmh: speedKmh, DirectionFromDeg: dirFrom,
		TimestampHour: balloon.TruncateToHour(want),
	}, true
}

func floatAt(arr []interface{}, i int) float64 {
	if i < 0 || i >= len(arr) || arr[i] == nil {
		return 0
	}
	f, ok := arr[i].(float64)
	if !ok {
		return 0
	}
	return f
}
