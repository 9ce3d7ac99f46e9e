package track

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline-data/conveyor.report/internal/geom"
)

func testConfig() Config {
	return Config{
		HitsToConfirm:   3,
		Patience:        5,
		CostCeiling:     0.7,
		MaxCentroidDist: 100,
		HistoryLength:   32,
		SmoothingAlpha:  1.0, // Exact velocity for predictable coasting in tests
	}
}

func ts(frame int) time.Time {
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(frame) * 100 * time.Millisecond)
}

func det(x, y float32) Detection {
	return Detection{
		Box:        geom.Box{X: x, Y: y, W: 20, H: 20},
		Confidence: 0.9,
		Class:      "box",
	}
}

func TestTracker_NewDetectionSpawnsTentative(t *testing.T) {
	t.Parallel()

	tr := NewTracker("cam-1", "belt-1", testConfig())
	updates, err := tr.Update([]Detection{det(0, 0)}, ts(0))
	require.NoError(t, err)
	require.Len(t, updates, 1)

	assert.Equal(t, int64(1), updates[0].TrackID)
	assert.Equal(t, StateTentative, updates[0].State)
	assert.False(t, updates[0].HasPrev)
	assert.False(t, updates[0].Removed)
}

func TestTracker_ConfirmationThreshold(t *testing.T) {
	t.Parallel()

	tr := NewTracker("cam-1", "belt-1", testConfig())

	// Frames 0 and 1: still tentative.
	for frame := 0; frame < 2; frame++ {
		updates, err := tr.Update([]Detection{det(float32(frame), 0)}, ts(frame))
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.Equal(t, StateTentative, updates[0].State, "frame %d", frame)
	}

	// Frame 2: third consecutive hit confirms.
	updates, err := tr.Update([]Detection{det(2, 0)}, ts(2))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, StateConfirmed, updates[0].State)
	assert.Equal(t, int64(1), updates[0].TrackID)
}

func TestTracker_OutOfOrderFrame(t *testing.T) {
	t.Parallel()

	tr := NewTracker("cam-1", "belt-1", testConfig())
	_, err := tr.Update([]Detection{det(0, 0)}, ts(5))
	require.NoError(t, err)

	// Regressing timestamp fails the call only; state is untouched.
	_, err = tr.Update([]Detection{det(1, 0)}, ts(4))
	require.ErrorIs(t, err, ErrOutOfOrderFrame)

	total, tentative, _ := tr.TrackCount()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, tentative)

	// Equal timestamp is allowed, and the context continues.
	updates, err := tr.Update([]Detection{det(1, 0)}, ts(5))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1), updates[0].TrackID)
}

func TestTracker_MissedTrackCoasts(t *testing.T) {
	t.Parallel()

	tr := NewTracker("cam-1", "belt-1", testConfig())

	// Establish a track moving +200 units/s in x (20 per 100ms frame).
	for frame := 0; frame < 3; frame++ {
		_, err := tr.Update([]Detection{det(float32(frame*20), 0)}, ts(frame))
		require.NoError(t, err)
	}

	// Empty frame: the track coasts along its velocity.
	updates, err := tr.Update(nil, ts(3))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Coasted)
	assert.False(t, updates[0].Removed)
	assert.InDelta(t, 70.0, float64(updates[0].Centroid.X), 0.01) // 50 + 20
	assert.True(t, updates[0].HasPrev)
	assert.InDelta(t, 50.0, float64(updates[0].PrevCentroid.X), 0.01)
}

func TestTracker_OcclusionTolerance(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	tr := NewTracker("cam-1", "belt-1", cfg)

	// Establish a confirmed track moving 20 per frame.
	for frame := 0; frame < 3; frame++ {
		_, err := tr.Update([]Detection{det(float32(frame*20), 0)}, ts(frame))
		require.NoError(t, err)
	}

	// Miss patience-1 consecutive frames.
	for frame := 3; frame < 3+cfg.Patience-1; frame++ {
		updates, err := tr.Update(nil, ts(frame))
		require.NoError(t, err)
		require.Len(t, updates, 1)
		require.False(t, updates[0].Removed, "frame %d", frame)
	}

	// Reappear where the velocity put it: the same track resumes — no new
	// identity is spawned.
	reappearFrame := 3 + cfg.Patience - 1
	x := float32(reappearFrame * 20)
	updates, err := tr.Update([]Detection{det(x, 0)}, ts(reappearFrame))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(1), updates[0].TrackID)
	assert.Equal(t, StateConfirmed, updates[0].State)
	assert.False(t, updates[0].Coasted)

	total, _, confirmed := tr.TrackCount()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, confirmed)
}

func TestTracker_RemovalPastPatience(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	tr := NewTracker("cam-1", "belt-1", cfg)

	_, err := tr.Update([]Detection{det(0, 0)}, ts(0))
	require.NoError(t, err)

	var final Update
	for frame := 1; ; frame++ {
		updates, err := tr.Update(nil, ts(frame))
		require.NoError(t, err)
		if len(updates) == 0 {
			break
		}
		final = updates[0]
	}

	assert.True(t, final.Removed)
	assert.Equal(t, StateLost, final.State)

	total, _, _ := tr.TrackCount()
	assert.Equal(t, 0, total)
}

func TestTracker_IDsNeverReused(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Patience = 0 // Remove on first miss
	tr := NewTracker("cam-1", "belt-1", cfg)

	_, err := tr.Update([]Detection{det(0, 0)}, ts(0))
	require.NoError(t, err)
	_, err = tr.Update(nil, ts(1)) // Track 1 removed
	require.NoError(t, err)

	// A fresh detection in the same place gets a fresh id.
	updates, err := tr.Update([]Detection{det(0, 0)}, ts(2))
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(2), updates[0].TrackID)
}

func TestTracker_UpdatesAscendingByTrackID(t *testing.T) {
	t.Parallel()

	tr := NewTracker("cam-1", "belt-1", testConfig())

	dets := []Detection{det(0, 0), det(100, 0), det(200, 0), det(300, 0)}
	_, err := tr.Update(dets, ts(0))
	require.NoError(t, err)

	// Shuffle the detection order; update order must stay ascending by id.
	shuffled := []Detection{det(300, 0), det(0, 0), det(200, 0), det(100, 0)}
	updates, err := tr.Update(shuffled, ts(1))
	require.NoError(t, err)
	require.Len(t, updates, 4)
	for i := 1; i < len(updates); i++ {
		assert.Less(t, updates[i-1].TrackID, updates[i].TrackID)
	}
}

func TestTracker_ParallelTracksKeepIdentity(t *testing.T) {
	t.Parallel()

	tr := NewTracker("cam-1", "belt-1", testConfig())

	// Two objects approaching each other; each frame the self-match keeps a
	// high IoU (~0.8-0.9) while the cross pairs stay disjoint, so the cost
	// ceiling forbids the wrong cross-match and ids never swap.
	positions := [][2]float32{
		{0, 60},
		{2, 56},
		{4, 52}, // Closest approach of the two boxes
		{6, 48},
		{8, 44},
	}

	for frame, pos := range positions {
		updates, err := tr.Update([]Detection{det(pos[0], 0), det(pos[1], 0)}, ts(frame))
		require.NoError(t, err)
		require.Len(t, updates, 2)
	}

	tracks := tr.ActiveTracks()
	require.Len(t, tracks, 2)
	// Track 1 drifted right from x=0, track 2 drifted left from x=60.
	assert.Equal(t, int64(1), tracks[0].ID)
	assert.InDelta(t, 18.0, float64(tracks[0].Centroid.X), 0.01) // 8 + W/2
	assert.Equal(t, int64(2), tracks[1].ID)
	assert.InDelta(t, 54.0, float64(tracks[1].Centroid.X), 0.01) // 44 + W/2
}

func TestTracker_HistoryBounded(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HistoryLength = 4
	tr := NewTracker("cam-1", "belt-1", cfg)

	for frame := 0; frame < 10; frame++ {
		_, err := tr.Update([]Detection{det(float32(frame), 0)}, ts(frame))
		require.NoError(t, err)
	}

	trk, ok := tr.Get(1)
	require.True(t, ok)
	assert.Len(t, trk.History, 4)
	// Newest entry last.
	assert.InDelta(t, 19.0, float64(trk.History[3].X), 0.01) // 9 + W/2
}
