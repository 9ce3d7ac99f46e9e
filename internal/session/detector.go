package session

import (
	"context"
	"fmt"
	"time"

	"github.com/beltline-data/conveyor.report/internal/track"
)

// Frame is one raw frame handed to a Detector. Data is opaque to the
// pipeline; only the detector interprets it.
type Frame struct {
	Index     int
	Timestamp time.Time
	Data      []byte
}

// Detector turns raw frames into per-frame detections. Implementations may
// batch internally; the returned slice is index-aligned with the input.
//
// Detect must honour ctx cancellation between batches.
type Detector interface {
	Detect(ctx context.Context, frames []Frame) ([][]track.Detection, error)
}

// FilterDetections drops detections scoring below minConfidence. The input
// slice is not modified; a nil result means the whole frame was rejected.
func FilterDetections(dets []track.Detection, minConfidence float32) []track.Detection {
	if minConfidence <= 0 {
		return dets
	}
	var kept []track.Detection
	for _, d := range dets {
		if d.Confidence >= minConfidence {
			kept = append(kept, d)
		}
	}
	return kept
}

// ScriptedDetector replays pre-recorded detections keyed by frame index.
// Frames without an entry yield no detections. Used by offline replays and
// tests; it stands in for a model-backed detector behind the same
// interface.
type ScriptedDetector struct {
	// ByIndex maps frame index to that frame's detections.
	ByIndex map[int][]track.Detection

	// FailAt, when >= 0, makes the batch containing that frame index fail.
	FailAt int
}

// NewScriptedDetector creates a detector replaying the given script.
func NewScriptedDetector(byIndex map[int][]track.Detection) *ScriptedDetector {
	return &ScriptedDetector{ByIndex: byIndex, FailAt: -1}
}

// Detect returns the scripted detections for each frame in the batch.
func (d *ScriptedDetector) Detect(ctx context.Context, frames []Frame) ([][]track.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]track.Detection, len(frames))
	for i, f := range frames {
		if d.FailAt >= 0 && f.Index == d.FailAt {
			return nil, fmt.Errorf("scripted failure at frame %d", f.Index)
		}
		out[i] = d.ByIndex[f.Index]
	}
	return out, nil
}
