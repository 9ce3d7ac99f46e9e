// Package assoc solves the per-frame detection-to-track assignment problem.
//
// Given the bounding boxes of the live tracks and the new detections for one
// frame, it builds an IoU-based cost matrix and solves it with an optimal
// bipartite matcher. The result partitions the frame into matched pairs,
// unmatched tracks (missed this frame) and unmatched detections (candidate
// new tracks).
//
// Determinism: callers supply tracks in ascending track-id order and
// detections in input order. The solver is deterministic for a fixed matrix,
// so identical inputs always produce identical matchings.
package assoc

import (
	"github.com/beltline-data/conveyor.report/internal/geom"
)

// Config holds the association thresholds.
type Config struct {
	// CostCeiling is the maximum admissible cost for an overlapping pair.
	// Cost is 1-IoU, so a ceiling of 0.7 requires at least 0.3 IoU.
	CostCeiling float32

	// MaxCentroidDist is the maximum centroid distance for pairing boxes
	// with zero IoU (fast motion / low frame rate). Zero disables the
	// centroid fallback entirely.
	MaxCentroidDist float32
}

// Pair is one matched (track, detection) index pair.
type Pair struct {
	Track     int // Index into the tracks slice passed to Associate
	Detection int // Index into the detections slice passed to Associate
}

// Result is the three-way partition produced by Associate.
type Result struct {
	Pairs               []Pair
	UnmatchedTracks     []int
	UnmatchedDetections []int
}

// Cost returns the association cost for one track/detection box pair, or
// (0, false) when the pair is forbidden.
//
// Overlapping pairs cost 1-IoU and are subject to the cost ceiling.
// Disjoint pairs fall back to centroid distance, mapped into (1, 2] so that
// any overlapping pair always beats any disjoint pair; they are forbidden
// beyond MaxCentroidDist.
func (c Config) Cost(track, det geom.Box) (float32, bool) {
	iou := geom.IoU(track, det)
	if iou > 0 {
		cost := 1 - iou
		if cost > c.CostCeiling {
			return 0, false
		}
		return cost, true
	}

	if c.MaxCentroidDist <= 0 {
		return 0, false
	}
	dist := geom.Distance(track.Centroid(), det.Centroid())
	if dist > c.MaxCentroidDist {
		return 0, false
	}
	return 1 + dist/c.MaxCentroidDist, true
}

// Associate matches the frame's detections against the live tracks.
//
// tracks must be ordered by ascending track id and detections by input
// index; with that ordering the optimal matching is unique up to equal-cost
// ties, which the solver resolves by lowest detection index then lowest
// track index.
func Associate(tracks, detections []geom.Box, cfg Config) Result {
	res := Result{}

	if len(detections) == 0 {
		for ti := range tracks {
			res.UnmatchedTracks = append(res.UnmatchedTracks, ti)
		}
		return res
	}
	if len(tracks) == 0 {
		for di := range detections {
			res.UnmatchedDetections = append(res.UnmatchedDetections, di)
		}
		return res
	}

	// Cost matrix [detections × tracks]; forbidden pairs get forbiddenCost.
	cost := make([][]float32, len(detections))
	for di, det := range detections {
		cost[di] = make([]float32, len(tracks))
		for ti, trk := range tracks {
			if c, ok := cfg.Cost(trk, det); ok {
				cost[di][ti] = c
			} else {
				cost[di][ti] = forbiddenCost
			}
		}
	}

	assign := hungarianAssign(cost)

	matchedTracks := make([]bool, len(tracks))
	for di := range detections {
		ti := -1
		if di < len(assign) {
			ti = assign[di]
		}
		if ti >= 0 {
			res.Pairs = append(res.Pairs, Pair{Track: ti, Detection: di})
			matchedTracks[ti] = true
		} else {
			res.UnmatchedDetections = append(res.UnmatchedDetections, di)
		}
	}
	for ti := range tracks {
		if !matchedTracks[ti] {
			res.UnmatchedTracks = append(res.UnmatchedTracks, ti)
		}
	}
	return res
}
