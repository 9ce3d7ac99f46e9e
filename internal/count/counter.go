// Package count turns track trajectories into count events.
//
// A Counter owns the configured counting lines for one (camera, conveyor)
// context and the per-track crossing state that guarantees the at-most-once
// invariant: however often a track oscillates across a line, each
// (track, line) pair emits at most one event, ever.
//
// The counter reads track updates but never mutates tracker state; data
// flows strictly tracker → counter → aggregator.
package count

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beltline-data/conveyor.report/internal/geom"
	"github.com/beltline-data/conveyor.report/internal/track"
)

// DirectionFilter restricts which crossing direction a line counts.
type DirectionFilter string

const (
	FilterPositive DirectionFilter = "positive"
	FilterNegative DirectionFilter = "negative"
	FilterEither   DirectionFilter = "either"
)

// Matches reports whether a crossing direction passes the filter.
func (f DirectionFilter) Matches(d geom.Direction) bool {
	switch f {
	case FilterEither:
		return true
	case FilterPositive:
		return d == geom.DirectionPositive
	case FilterNegative:
		return d == geom.DirectionNegative
	default:
		return false
	}
}

// Valid reports whether f is one of the recognised filters.
func (f DirectionFilter) Valid() bool {
	return f == FilterPositive || f == FilterNegative || f == FilterEither
}

// Line is one configured counting line. Lines are immutable for the
// lifetime of their context.
type Line struct {
	ID     string          `json:"id"`
	Geom   geom.Line       `json:"geom"`
	Filter DirectionFilter `json:"filter"`
}

// CountEvent is the immutable record of one qualifying line crossing.
// Created once, never mutated; safe to hand across a serialisation
// boundary.
type CountEvent struct {
	ID         string         `json:"id"`
	CameraID   string         `json:"camera_id"`
	ConveyorID string         `json:"conveyor_id"`
	TrackID    int64          `json:"track_id"`
	LineID     string         `json:"line_id"`
	Direction  geom.Direction `json:"direction"`
	Class      string         `json:"class"`
	Timestamp  time.Time      `json:"timestamp"`
}

// crossingState is the per-track, per-line state: the last definite side
// of the line, the centroid where that side was observed, and the permanent
// idempotency mark. The anchor lets a crossing complete even when an
// intermediate centroid lands exactly on the line, where neither side is
// definite.
type crossingState struct {
	lastSide geom.Side
	anchor   geom.Point
	counted  bool
}

// Counter owns crossing state for one (camera, conveyor) context. Like the
// tracker it is single-writer; the session registry serialises calls.
type Counter struct {
	cameraID   string
	conveyorID string
	lines      []Line

	// states[trackID][lineID]; created lazily, dropped when the track is
	// removed.
	states map[int64]map[string]*crossingState
}

// NewCounter creates a counter for one context with its configured lines.
func NewCounter(cameraID, conveyorID string, lines []Line) *Counter {
	return &Counter{
		cameraID:   cameraID,
		conveyorID: conveyorID,
		lines:      lines,
		states:     make(map[int64]map[string]*crossingState),
	}
}

// Lines returns the configured counting lines.
func (c *Counter) Lines() []Line { return c.lines }

// OnTrackUpdate consumes one track update and returns the count events it
// produced, if any.
//
// Only Confirmed tracks are eligible — a track removed while still
// Tentative emits nothing regardless of its trajectory (detector-noise
// rejection). A removed track's crossing state is dropped; removal itself
// never emits. Crossing is judged between the last centroid seen on a
// definite side and the current one, so a centroid that pauses exactly on
// the line and then continues across still produces its event.
func (c *Counter) OnTrackUpdate(u track.Update) []CountEvent {
	if u.Removed {
		delete(c.states, u.TrackID)
		return nil
	}

	if u.State != track.StateConfirmed {
		return nil
	}

	var events []CountEvent
	for i := range c.lines {
		line := &c.lines[i]
		st := c.state(u.TrackID, line.ID)

		side := geom.SideOfLine(u.Centroid, line.Geom)

		if st.counted {
			if side != geom.SideUnknown {
				st.lastSide, st.anchor = side, u.Centroid
			}
			continue
		}

		// First eligible update: the previous centroid seeds the anchor, so
		// a crossing that completes on the confirmation frame still counts.
		if st.lastSide == geom.SideUnknown && u.HasPrev {
			if prevSide := geom.SideOfLine(u.PrevCentroid, line.Geom); prevSide != geom.SideUnknown {
				st.lastSide, st.anchor = prevSide, u.PrevCentroid
			}
		}

		// On the line: neither side is definite. Hold the anchor so the
		// crossing registers once the centroid comes off the other side.
		if side == geom.SideUnknown {
			continue
		}
		if st.lastSide == geom.SideUnknown || side == st.lastSide {
			st.lastSide, st.anchor = side, u.Centroid
			continue
		}

		dir, crossed := geom.Crossed(st.anchor, u.Centroid, line.Geom)
		if crossed && line.Filter.Matches(dir) {
			events = append(events, CountEvent{
				ID:         fmt.Sprintf("evt_%s", uuid.NewString()),
				CameraID:   c.cameraID,
				ConveyorID: c.conveyorID,
				TrackID:    u.TrackID,
				LineID:     line.ID,
				Direction:  dir,
				Class:      u.Class,
				Timestamp:  u.Timestamp,
			})
			// Permanent for the track's lifetime: oscillation near the
			// line can never double-count.
			st.counted = true
		}
		st.lastSide, st.anchor = side, u.Centroid
	}
	return events
}

// TrackStateCount returns the number of tracks the counter currently holds
// crossing state for. Used by tests and diagnostics.
func (c *Counter) TrackStateCount() int {
	return len(c.states)
}

func (c *Counter) state(trackID int64, lineID string) *crossingState {
	byLine, ok := c.states[trackID]
	if !ok {
		byLine = make(map[string]*crossingState)
		c.states[trackID] = byLine
	}
	st, ok := byLine[lineID]
	if !ok {
		st = &crossingState{lastSide: geom.SideUnknown}
		byLine[lineID] = st
	}
	return st
}
