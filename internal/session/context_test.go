package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/geom"
	"github.com/beltline-data/conveyor.report/internal/track"
)

func testContextConfig() ContextConfig {
	return ContextConfig{
		Lines: []count.Line{{
			ID:     "line-1",
			Geom:   geom.Line{A: geom.Point{X: 40, Y: 100}, B: geom.Point{X: 40, Y: 0}},
			Filter: count.FilterPositive,
		}},
		Tracker: track.Config{
			HitsToConfirm:   2,
			Patience:        3,
			CostCeiling:     0.7,
			MaxCentroidDist: 100,
			HistoryLength:   32,
			SmoothingAlpha:  1.0,
		},
	}
}

func frameTime(frame int) time.Time {
	base := time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(frame) * 100 * time.Millisecond)
}

func detAt(x float32) track.Detection {
	return track.Detection{
		Box:        geom.Box{X: x, Y: 40, W: 20, H: 20},
		Confidence: 0.9,
		Class:      "box",
	}
}

func TestRegistry_CreateAndDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}

	require.NoError(t, r.Create(id, testContextConfig()))
	err := r.Create(id, testContextConfig())
	assert.ErrorIs(t, err, ErrContextExists)

	// Missing components are rejected.
	assert.Error(t, r.Create(ContextID{CameraID: "cam-1"}, testContextConfig()))

	// Bad line filters are rejected.
	bad := testContextConfig()
	bad.Lines[0].Filter = "sideways"
	assert.Error(t, r.Create(ContextID{CameraID: "cam-2", ConveyorID: "belt-1"}, bad))
}

func TestRegistry_CreateRejectsInvalidTrackerConfig(t *testing.T) {
	t.Parallel()

	r := NewRegistry()

	// A zero-valued tracker config would confirm every spawn instantly and
	// forbid all association; it must never reach a live context.
	zero := testContextConfig()
	zero.Tracker = track.Config{}
	err := r.Create(ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}, zero)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracker config")

	tests := []struct {
		name   string
		mutate func(c *track.Config)
	}{
		{"zero hits to confirm", func(c *track.Config) { c.HitsToConfirm = 0 }},
		{"negative patience", func(c *track.Config) { c.Patience = -1 }},
		{"zero cost ceiling", func(c *track.Config) { c.CostCeiling = 0 }},
		{"cost ceiling above 2", func(c *track.Config) { c.CostCeiling = 2.5 }},
		{"negative centroid gate", func(c *track.Config) { c.MaxCentroidDist = -1 }},
		{"history too short", func(c *track.Config) { c.HistoryLength = 1 }},
		{"zero smoothing alpha", func(c *track.Config) { c.SmoothingAlpha = 0 }},
		{"smoothing alpha above 1", func(c *track.Config) { c.SmoothingAlpha = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testContextConfig()
			tt.mutate(&cfg.Tracker)
			assert.Error(t, r.Create(ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}, cfg))
		})
	}

	// The registry stayed empty throughout.
	assert.Empty(t, r.List())
}

func TestRegistry_UnknownContext(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := ContextID{CameraID: "cam-9", ConveyorID: "belt-9"}

	_, err := r.ProcessFrame(id, nil, frameTime(0))
	assert.ErrorIs(t, err, ErrUnknownContext)

	_, err = r.Info(id)
	assert.ErrorIs(t, err, ErrUnknownContext)

	assert.ErrorIs(t, r.Remove(id), ErrUnknownContext)
}

func TestRegistry_FrameToEventPipeline(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}
	require.NoError(t, r.Create(id, testContextConfig()))

	// Object moves left to right across x=40; confirmed on the second
	// frame, crosses on the third.
	var all []count.CountEvent
	for frame, x := range []float32{0, 20, 50} {
		events, err := r.ProcessFrame(id, []track.Detection{detAt(x)}, frameTime(frame))
		require.NoError(t, err)
		all = append(all, events...)
	}

	require.Len(t, all, 1)
	assert.Equal(t, "cam-1", all[0].CameraID)
	assert.Equal(t, "belt-1", all[0].ConveyorID)
	assert.Equal(t, "line-1", all[0].LineID)
	assert.Equal(t, geom.DirectionPositive, all[0].Direction)

	info, err := r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.FramesProcessed)
	assert.Equal(t, 1, info.ActiveTracks)
	assert.Equal(t, frameTime(2), info.LastFrameAt)
}

func TestRegistry_OutOfOrderFrameLeavesStateIntact(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}
	require.NoError(t, r.Create(id, testContextConfig()))

	_, err := r.ProcessFrame(id, []track.Detection{detAt(0)}, frameTime(5))
	require.NoError(t, err)

	_, err = r.ProcessFrame(id, []track.Detection{detAt(10)}, frameTime(3))
	assert.ErrorIs(t, err, track.ErrOutOfOrderFrame)

	info, err := r.Info(id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.FramesProcessed)
}

func TestRegistry_ContextsAreIsolated(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}
	b := ContextID{CameraID: "cam-1", ConveyorID: "belt-2"}
	require.NoError(t, r.Create(a, testContextConfig()))
	require.NoError(t, r.Create(b, testContextConfig()))

	// Feed only context a.
	for frame, x := range []float32{0, 20, 50} {
		_, err := r.ProcessFrame(a, []track.Detection{detAt(x)}, frameTime(frame))
		require.NoError(t, err)
	}

	infoA, err := r.Info(a)
	require.NoError(t, err)
	infoB, err := r.Info(b)
	require.NoError(t, err)
	assert.Equal(t, int64(3), infoA.FramesProcessed)
	assert.Equal(t, int64(0), infoB.FramesProcessed)

	// Track ids are per context: a fresh track in b also gets id 1.
	_, err = r.ProcessFrame(b, []track.Detection{detAt(0)}, frameTime(0))
	require.NoError(t, err)
	tracks, err := r.Tracks(b)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.Equal(t, int64(1), tracks[0].ID)
}

func TestRegistry_ConcurrentContexts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ids := make([]ContextID, 8)
	for i := range ids {
		ids[i] = ContextID{CameraID: "cam-1", ConveyorID: string(rune('a' + i))}
		require.NoError(t, r.Create(ids[i], testContextConfig()))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id ContextID) {
			defer wg.Done()
			for frame := 0; frame < 50; frame++ {
				_, err := r.ProcessFrame(id,
					[]track.Detection{detAt(float32(frame))}, frameTime(frame))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		info, err := r.Info(id)
		require.NoError(t, err)
		assert.Equal(t, int64(50), info.FramesProcessed)
	}
}

func TestRegistry_ListOrdered(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Create(ContextID{CameraID: "cam-2", ConveyorID: "belt-1"}, testContextConfig()))
	require.NoError(t, r.Create(ContextID{CameraID: "cam-1", ConveyorID: "belt-2"}, testContextConfig()))
	require.NoError(t, r.Create(ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}, testContextConfig()))

	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}, infos[0].ID)
	assert.Equal(t, ContextID{CameraID: "cam-1", ConveyorID: "belt-2"}, infos[1].ID)
	assert.Equal(t, ContextID{CameraID: "cam-2", ConveyorID: "belt-1"}, infos[2].ID)
}

func TestRegistry_Remove(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	id := ContextID{CameraID: "cam-1", ConveyorID: "belt-1"}
	require.NoError(t, r.Create(id, testContextConfig()))
	require.NoError(t, r.Remove(id))

	_, err := r.ProcessFrame(id, nil, frameTime(0))
	assert.ErrorIs(t, err, ErrUnknownContext)

	// The id can be reused with fresh state.
	require.NoError(t, r.Create(id, testContextConfig()))
}
