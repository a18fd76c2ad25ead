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

package tracker

import "sort"

// point2D is a 2-D (lon, lat) coordinate with an opaque index back into the
// caller's slice of previous-hour tracked positions.
type point2D struct {
	lon, lat float64
	idx      int
}

// kdNode is a node of a balanced 2-D k-d tree over longitude/latitude. The
// spec calls for "an R-tree (or equivalent 2-D index)"; no R-tree library
// appears anywhere in the example pack, while a hand-rolled k-d tree does
// (a sibling aviation codebase builds one over 2-D points the same way —
// SortFunc median split, recursive build), so that is the grounded choice.
type kdNode struct {
	p           point2D
	left, right *kdNode
}

// buildKDTree constructs a balanced k-d tree from pts, alternating the
// split axis (longitude, then latitude) at each depth.
func buildKDTree(pts []point2D) *kdNode {
	return buildKDTreeRecursive(pts, 0)
}

func buildKDTreeRecursive(pts []point2D, depth int) *kdNode {
	if len(pts) == 0 {
		return nil
	}
	if len(pts) == 1 {
		return &kdNode{p: pts[0]}
	}

	axis := depth % 2
	sort.Slice(pts, func(i, j int) bool {
		if axis == 0 {
			return pts[i].lon < pts[j].lon
		}
		return pts[i].lat < pts[j].lat
	})

	median := len(pts) / 2
	return &kdNode{
		p:     pts[median],
		left:  buildKDTreeRecursive(pts[:median], depth+1),
		right: buildKDTreeRecursive(pts[median+1:], depth+1),
	}
}

// rangeQuery returns the indices of every point within the axis-aligned box
// [lonMin,lonMax] x [latMin,latMax].
func (n *kdNode) rangeQuery(lonMin, lonMax, latMin, latMax float64, depth int, out *[]int) {
	if n == nil {
		return
	}
	if n.p.lon >= lonMin && n.p.lon <= lonMax && n.p.lat >= latMin && n.p.lat <= latMax {
		*out = append(*out, n.p.idx)
	}

	axis := depth % 2
	var nodeVal, lo, hi float64
	if axis == 0 {
		nodeVal, lo, hi = n.p.lon, lonMin, lonMax
	} else {
		nodeVal, lo, hi = n.p.lat, latMin, latMax
	}

	if lo <= nodeVal {
		n.left.rangeQuery(lonMin, lonMax, latMin, latMax, depth+1, out)
	}
	if hi >= nodeVal {
		n.right.rangeQuery(lonMin, lonMax, latMin, latMax, depth+1, out)
	}
}

// SpatialIndex answers bounding-box pre-filter queries over a fixed set of
// 2-D points, used to cut the candidate set before the per-pair cost
// function runs.
type SpatialIndex struct {
	root *kdNode
}

// NewSpatialIndex builds an index over lons/lats (parallel slices, one
// entry per candidate; idx i refers to lons[i]/lats[i]).
func NewSpatialIndex(lons, lats []float64) *SpatialIndex {
	pts := make([]point2D, len(lons))
	for i := range lons {
		pts[i] = point2D{lon: lons[i], lat: lats[i], idx: i}
	}
	return &SpatialIndex{root: buildKDTree(pts)}
}

// Query returns the indices of all points within the given lon/lat box.
func (s *SpatialIndex) Query(lonMin, lonMax, latMin, latMax float64) []int {
	var out []int
	s.root.rangeQuery(lonMin, lonMax, latMin, latMax, 0, &out)
	return out
}
