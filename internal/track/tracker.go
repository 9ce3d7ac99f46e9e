package track

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/beltline-data/conveyor.report/internal/assoc"
	"github.com/beltline-data/conveyor.report/internal/geom"
)

// ErrOutOfOrderFrame is returned when a frame timestamp precedes the last
// timestamp seen by the context. The offending Update call fails; the
// tracker's state is untouched and the caller may retry with corrected
// ordering or skip the frame.
var ErrOutOfOrderFrame = errors.New("out-of-order frame")

// Tracker owns the set of live tracks for one (camera, conveyor) context.
// It is not safe for concurrent use; callers serialise Update per context.
type Tracker struct {
	cameraID   string
	conveyorID string
	cfg        Config

	tracks map[int64]*Track
	nextID int64

	lastTimestamp time.Time
	hasTimestamp  bool
}

// NewTracker creates a tracker for one context with the given configuration.
func NewTracker(cameraID, conveyorID string, cfg Config) *Tracker {
	return &Tracker{
		cameraID:   cameraID,
		conveyorID: conveyorID,
		cfg:        cfg,
		tracks:     make(map[int64]*Track),
		nextID:     1,
	}
}

// CameraID returns the camera this tracker's context belongs to.
func (t *Tracker) CameraID() string { return t.cameraID }

// ConveyorID returns the conveyor this tracker's context belongs to.
func (t *Tracker) ConveyorID() string { return t.conveyorID }

// Update consumes one frame's detections and advances every live track.
//
// timestamp must be ≥ the last timestamp seen by this context, otherwise
// the call fails with ErrOutOfOrderFrame and no state changes.
//
// The returned updates cover every track touched this frame — matched,
// coasting, newly created, and removed — in ascending track-id order, so
// downstream crossing state can always be finalised.
func (t *Tracker) Update(detections []Detection, timestamp time.Time) ([]Update, error) {
	if t.hasTimestamp && timestamp.Before(t.lastTimestamp) {
		return nil, fmt.Errorf("%w: %s precedes %s",
			ErrOutOfOrderFrame,
			timestamp.Format(time.RFC3339Nano),
			t.lastTimestamp.Format(time.RFC3339Nano))
	}

	var dt float32
	if t.hasTimestamp {
		dt = float32(timestamp.Sub(t.lastTimestamp).Seconds())
	}

	// Step 1: associate detections to live tracks. Track order is ascending
	// id so the matching is deterministic.
	ids := t.sortedIDs()
	trackBoxes := make([]geom.Box, len(ids))
	for i, id := range ids {
		trackBoxes[i] = t.tracks[id].Box
	}
	detBoxes := make([]geom.Box, len(detections))
	for i, d := range detections {
		detBoxes[i] = d.Box
	}
	res := assoc.Associate(trackBoxes, detBoxes, assoc.Config{
		CostCeiling:     t.cfg.CostCeiling,
		MaxCentroidDist: t.cfg.MaxCentroidDist,
	})

	updates := make([]Update, 0, len(ids)+len(res.UnmatchedDetections))

	// Step 2: matched pairs — observe, smooth velocity, maybe confirm.
	for _, pair := range res.Pairs {
		trk := t.tracks[ids[pair.Track]]
		det := detections[pair.Detection]
		updates = append(updates, t.observe(trk, det, dt, timestamp))
	}

	// Step 3: unmatched tracks — coast through the gap, drop past patience.
	for _, ti := range res.UnmatchedTracks {
		trk := t.tracks[ids[ti]]
		updates = append(updates, t.coast(trk, dt, timestamp))
	}

	// Step 4: unmatched detections spawn tentative tracks.
	for _, di := range res.UnmatchedDetections {
		updates = append(updates, t.spawn(detections[di], timestamp))
	}

	sort.Slice(updates, func(i, j int) bool { return updates[i].TrackID < updates[j].TrackID })

	t.lastTimestamp = timestamp
	t.hasTimestamp = true
	return updates, nil
}

// observe applies a matched detection to a track.
func (t *Tracker) observe(trk *Track, det Detection, dt float32, now time.Time) Update {
	prev := trk.Centroid
	curr := det.Box.Centroid()

	// Exponential velocity smoothing. The instantaneous velocity of a noisy
	// centroid is itself noisy; the EMA keeps coasting extrapolation sane.
	if dt > 0 {
		instVX := (curr.X - prev.X) / dt
		instVY := (curr.Y - prev.Y) / dt
		a := t.cfg.SmoothingAlpha
		trk.VX = a*instVX + (1-a)*trk.VX
		trk.VY = a*instVY + (1-a)*trk.VY
	}

	trk.Box = det.Box
	trk.Centroid = curr
	trk.Class = det.Class
	trk.Confidence = det.Confidence
	trk.Hits++
	trk.Misses = 0
	trk.LastSeen = now
	t.pushHistory(trk, curr)

	if trk.State == StateTentative && trk.Hits >= t.cfg.HitsToConfirm {
		trk.State = StateConfirmed
	}

	return Update{
		TrackID:      trk.ID,
		State:        trk.State,
		Class:        trk.Class,
		Box:          trk.Box,
		Centroid:     curr,
		PrevCentroid: prev,
		HasPrev:      true,
		Timestamp:    now,
	}
}

// coast advances an unmatched track by its last known velocity.
//
// Extrapolation policy: last-known-velocity, not linear interpolation —
// during a gap there is no future observation to interpolate towards, and
// conveyor motion is near-constant over patience-length gaps. The coasted
// centroid is appended to history so a crossing that happens entirely
// inside an occlusion gap is still detected.
func (t *Tracker) coast(trk *Track, dt float32, now time.Time) Update {
	prev := trk.Centroid

	trk.Misses++
	trk.Hits = 0

	if dt > 0 {
		dx := trk.VX * dt
		dy := trk.VY * dt
		trk.Centroid = geom.Point{X: prev.X + dx, Y: prev.Y + dy}
		trk.Box.X += dx
		trk.Box.Y += dy
		t.pushHistory(trk, trk.Centroid)
	}

	removed := trk.Misses > t.cfg.Patience
	if removed {
		trk.State = StateLost
		delete(t.tracks, trk.ID)
	}

	return Update{
		TrackID:      trk.ID,
		State:        trk.State,
		Class:        trk.Class,
		Box:          trk.Box,
		Centroid:     trk.Centroid,
		PrevCentroid: prev,
		HasPrev:      true,
		Coasted:      true,
		Removed:      removed,
		Timestamp:    now,
	}
}

// spawn creates a tentative track from an unmatched detection.
func (t *Tracker) spawn(det Detection, now time.Time) Update {
	id := t.nextID
	t.nextID++

	trk := &Track{
		ID:         id,
		State:      StateTentative,
		Box:        det.Box,
		Centroid:   det.Box.Centroid(),
		Class:      det.Class,
		Confidence: det.Confidence,
		Hits:       1,
		FirstSeen:  now,
		LastSeen:   now,
		History:    []geom.Point{det.Box.Centroid()},
	}
	if trk.Hits >= t.cfg.HitsToConfirm {
		trk.State = StateConfirmed
	}
	t.tracks[id] = trk

	return Update{
		TrackID:   id,
		State:     trk.State,
		Class:     trk.Class,
		Box:       trk.Box,
		Centroid:  trk.Centroid,
		Timestamp: now,
	}
}

func (t *Tracker) pushHistory(trk *Track, p geom.Point) {
	trk.History = append(trk.History, p)
	if t.cfg.HistoryLength > 0 && len(trk.History) > t.cfg.HistoryLength {
		trk.History = trk.History[len(trk.History)-t.cfg.HistoryLength:]
	}
}

func (t *Tracker) sortedIDs() []int64 {
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get returns a copy of the track with the given id, or false if it does
// not exist. The History slice is deep-copied so callers can hold it.
func (t *Tracker) Get(id int64) (Track, bool) {
	trk, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return snapshot(trk), true
}

// ActiveTracks returns copies of all live tracks in ascending id order.
func (t *Tracker) ActiveTracks() []Track {
	ids := t.sortedIDs()
	out := make([]Track, 0, len(ids))
	for _, id := range ids {
		out = append(out, snapshot(t.tracks[id]))
	}
	return out
}

// TrackCount returns counts of live tracks by state.
func (t *Tracker) TrackCount() (total, tentative, confirmed int) {
	for _, trk := range t.tracks {
		total++
		switch trk.State {
		case StateTentative:
			tentative++
		case StateConfirmed:
			confirmed++
		}
	}
	return
}

func snapshot(trk *Track) Track {
	copied := *trk
	if len(trk.History) > 0 {
		copied.History = make([]geom.Point, len(trk.History))
		copy(copied.History, trk.History)
	}
	return copied
}
