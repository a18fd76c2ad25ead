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

package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveIngestTransitionIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(ingestTransitionsTotal.WithLabelValues("steady"))
	ObserveIngestTransition("steady")
	after := testutil.ToFloat64(ingestTransitionsTotal.WithLabelValues("steady"))
	if after-before != 1 {
		t.Fatalf("expected ingestTransitionsTotal[steady] to increase by 1, got delta %v", after-before)
	}
}

func TestObserveTrackerAssignmentMatchedVsNew(t *testing.T) {
	beforeNew := testutil.ToFloat64(trackerNewIDsTotal)
	ObserveTrackerAssignment(0, false)
	if got := testutil.ToFloat64(trackerNewIDsTotal); got-beforeNew != 1 {
		t.Fatalf("expected trackerNewIDsTotal to increase by 1, got delta %v", got-beforeNew)
	}

	// Matched path should not touch the new-id counter.
	beforeNew = testutil.ToFloat64(trackerNewIDsTotal)
	ObserveTrackerAssignment(42, true)
	if got := testutil.ToFloat64(trackerNewIDsTotal); got != beforeNew {
		t.Fatalf("expected trackerNewIDsTotal unchanged on a matched assignment")
	}
}

func TestObserveWindCacheLookupHitVsMiss(t *testing.T) {
	beforeHits := testutil.ToFloat64(windCacheHitsTotal)
	beforeMisses := testutil.ToFloat64(windCacheMissesTotal)

	ObserveWindCacheLookup(true)
	ObserveWindCacheLookup(false)

	if got := testutil.ToFloat64(windCacheHitsTotal); got-beforeHits != 1 {
		t.Fatalf("expected a hit recorded, delta=%v", got-beforeHits)
	}
	if got := testutil.ToFloat64(windCacheMissesTotal); got-beforeMisses != 1 {
		t.Fatalf("expected a miss recorded, delta=%v", got-beforeMisses)
	}
}

func TestObserveSourceDroppedAccumulates(t *testing.T) {
	before := testutil.ToFloat64(sourceDroppedTotal)
	ObserveSourceDropped(3)
	if got := testutil.ToFloat64(sourceDroppedTotal); got-before != 3 {
		t.Fatalf("expected sourceDroppedTotal to increase by 3, got delta %v", got-before)
	}
}

func TestHandlerIsNonNil(t *testing.T) {
	if Handler() == nil {
		t.Fatalf("expected a non-nil promhttp handler")
	}
}
