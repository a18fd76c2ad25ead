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

// Package sourceclient fetches one hour's raw balloon snapshot from the
// upstream feed and defensively filters corrupted records. Grounded on the
// HTTP+JSON fetch pattern in the teacher lineage's weather client (one GET,
// one JSON decode, strict timeout, no retries — retries are the caller's
// job).
package sourceclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"balloontrack/internal/balloon"
)

const fetchTimeout = 30 * time.Second

// Client fetches hourly snapshots from the upstream balloon feed.
// BaseURL + "/<HH>.json" (HH zero-padded) is requested for each offset.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	droppedTotal atomic.Int64
}

// New constructs a Client pointed at baseURL, e.g. "https://example.com/feed".
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: fetchTimeout},
	}
}

// FetchHour fetches the raw snapshot for the hour offset hours before now
// (offset in [0,23]). On any failure (network, non-2xx, malformed body) it
// returns an empty slice and a non-nil error describing the failure; the
// caller (Ingest Controller) decides whether to retry or degrade. No retry
// happens inside FetchHour itself.
func (c *Client) FetchHour(ctx context.Context, offset int) ([]balloon.RawObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%02d.json", c.BaseURL, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindUpstreamUnavailable, "build request", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, balloon.Wrap(balloon.KindUpstreamUnavailable, fmt.Sprintf("fetch offset %d", offset), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, balloon.Wrap(balloon.KindUpstreamUnavailable,
			fmt.Sprintf("offset %d returned status %d: %s", offset, resp.StatusCode, string(body)), nil)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, balloon.Wrap(balloon.KindUpstreamCorrupt, fmt.Sprintf("decoding offset %d body", offset), err)
	}

	return c.filterValid(raw), nil
}

// filterValid parses each raw array element as a 3-tuple of finite numbers
// and keeps only those satisfying the data-model invariants. Corrupted
// records are dropped silently; droppedTotal tracks the count for callers
// that want to record it in metrics.
func (c *Client) filterValid(raw []json.RawMessage) []balloon.RawObservation {
	out := make([]balloon.RawObservation, 0, len(raw))
	for _, r := range raw {
		var tuple []float64
		if err := json.Unmarshal(r, &tuple); err != nil {
			c.droppedTotal.Add(1)
			continue
		}
		if len(tuple) != 3 {
			c.droppedTotal.Add(1)
			continue
		}
		obs := balloon.RawObservation{Lat: tuple[0], Lon: tuple[1], AltKm: tuple[2]}
		if !obs.Valid() {
			c.droppedTotal.Add(1)
			continue
		}
		out = append(out, obs)
	}
	return out
}

// DroppedTotal returns the cumulative count of records dropped for
// corruption across the client's lifetime.
func (c *Client) DroppedTotal() int64 {
	return c.droppedTotal.Load()
}
