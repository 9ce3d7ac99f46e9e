package track

import (
	"fmt"
	"time"

	"github.com/beltline-data/conveyor.report/internal/geom"
)

// State represents the lifecycle state of a track.
type State string

const (
	StateTentative State = "tentative" // New track, needs confirmation
	StateConfirmed State = "confirmed" // Stable track with sufficient history
	StateLost      State = "lost"      // Missed beyond patience, being removed
)

// Detection is one observed object in one frame. It is immutable once
// produced; the tracker borrows it for the duration of a single Update call
// and never retains a reference.
type Detection struct {
	Box        geom.Box `json:"box"`
	Confidence float32  `json:"confidence"` // Detector score in [0, 1]
	Class      string   `json:"class"`      // Object class label from the detector
}

// Track is a provisional or confirmed object identity. Track ids are
// monotonically increasing int64s scoped to one (camera, conveyor) context
// and are never reused for the lifetime of that context.
type Track struct {
	ID    int64 `json:"id"`
	State State `json:"state"`

	Box      geom.Box   `json:"box"`
	Centroid geom.Point `json:"centroid"`
	VX       float32    `json:"vx"` // Smoothed velocity, units per second
	VY       float32    `json:"vy"`

	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`

	Hits   int `json:"hits"`   // Consecutive successful associations
	Misses int `json:"misses"` // Consecutive missed associations

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// History holds the most recent centroids, oldest first, bounded by
	// Config.HistoryLength. Used for crossing interpolation downstream.
	History []geom.Point `json:"history,omitempty"`
}

// Update is the per-frame delta the tracker reports for every track it
// touched, delivered in ascending track-id order. The counter consumes the
// (PrevCentroid, Centroid) segment for crossing detection; Removed marks the
// final update a track will ever produce.
type Update struct {
	TrackID  int64
	State    State
	Class    string
	Box      geom.Box
	Centroid geom.Point

	// PrevCentroid is the centroid from the previous frame this track was
	// touched; valid only when HasPrev is true (false on first observation).
	PrevCentroid geom.Point
	HasPrev      bool

	// Coasted is true when this frame's position was extrapolated from the
	// last known velocity rather than observed (occlusion).
	Coasted bool

	// Removed is true when the track was discarded this frame; its state is
	// StateLost and downstream per-track state must be released.
	Removed bool

	Timestamp time.Time
}

// Config holds the per-context tracker parameters. Supplied once at context
// creation and immutable for the context's lifetime.
type Config struct {
	HitsToConfirm   int     `json:"hits_to_confirm"`   // Consecutive hits for tentative → confirmed
	Patience        int     `json:"patience"`          // Consecutive misses tolerated before removal
	CostCeiling     float32 `json:"cost_ceiling"`      // Association cost ceiling (1-IoU space)
	MaxCentroidDist float32 `json:"max_centroid_dist"` // Centroid-distance gate for zero-IoU pairs
	HistoryLength   int     `json:"history_length"`    // Bounded centroid history length
	SmoothingAlpha  float32 `json:"smoothing_alpha"`   // EMA weight of the newest velocity sample (0,1]
}

// Validate checks the parameter bounds. A zero-valued Config is invalid;
// callers that accept external configs must reject it rather than run a
// tracker that confirms every spawn and can never associate.
func (c Config) Validate() error {
	if c.HitsToConfirm < 1 {
		return fmt.Errorf("hits_to_confirm must be >= 1, got %d", c.HitsToConfirm)
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience must be non-negative, got %d", c.Patience)
	}
	if c.CostCeiling <= 0 || c.CostCeiling > 2 {
		return fmt.Errorf("cost_ceiling must be in (0, 2], got %f", c.CostCeiling)
	}
	if c.MaxCentroidDist < 0 {
		return fmt.Errorf("max_centroid_dist must be non-negative, got %f", c.MaxCentroidDist)
	}
	if c.HistoryLength < 2 {
		return fmt.Errorf("history_length must be >= 2, got %d", c.HistoryLength)
	}
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		return fmt.Errorf("smoothing_alpha must be in (0, 1], got %f", c.SmoothingAlpha)
	}
	return nil
}
