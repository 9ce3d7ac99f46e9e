package geom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIoU(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Box
		want float32
	}{
		{
			name: "identical boxes",
			a:    Box{X: 0, Y: 0, W: 10, H: 10},
			b:    Box{X: 0, Y: 0, W: 10, H: 10},
			want: 1.0,
		},
		{
			name: "disjoint boxes",
			a:    Box{X: 0, Y: 0, W: 10, H: 10},
			b:    Box{X: 20, Y: 20, W: 10, H: 10},
			want: 0.0,
		},
		{
			name: "touching edges is not overlap",
			a:    Box{X: 0, Y: 0, W: 10, H: 10},
			b:    Box{X: 10, Y: 0, W: 10, H: 10},
			want: 0.0,
		},
		{
			name: "half overlap",
			a:    Box{X: 0, Y: 0, W: 10, H: 10},
			b:    Box{X: 5, Y: 0, W: 10, H: 10},
			// intersection 50, union 150
			want: 1.0 / 3.0,
		},
		{
			name: "contained box",
			a:    Box{X: 0, Y: 0, W: 10, H: 10},
			b:    Box{X: 2, Y: 2, W: 5, H: 5},
			want: 25.0 / 100.0,
		},
		{
			name: "degenerate box",
			a:    Box{X: 0, Y: 0, W: 0, H: 10},
			b:    Box{X: 0, Y: 0, W: 10, H: 10},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, IoU(tt.a, tt.b), 1e-5)
			// IoU is symmetric.
			assert.InDelta(t, tt.want, IoU(tt.b, tt.a), 1e-5)
		})
	}
}

func TestCentroid(t *testing.T) {
	t.Parallel()

	b := Box{X: 10, Y: 20, W: 30, H: 40}
	c := b.Centroid()
	assert.InDelta(t, 25.0, float64(c.X), 1e-6)
	assert.InDelta(t, 40.0, float64(c.Y), 1e-6)
}

func TestSideOfLine(t *testing.T) {
	t.Parallel()

	// Vertical line at x=40 pointing downward (A above B): the positive
	// normal points towards +x, so points right of the line are After.
	line := Line{A: Point{X: 40, Y: 100}, B: Point{X: 40, Y: 0}}

	assert.Equal(t, SideAfter, SideOfLine(Point{X: 55, Y: 50}, line))
	assert.Equal(t, SideBefore, SideOfLine(Point{X: 10, Y: 50}, line))
	assert.Equal(t, SideUnknown, SideOfLine(Point{X: 40, Y: 50}, line))

	// Determinism: same input, same output.
	for i := 0; i < 10; i++ {
		assert.Equal(t, SideAfter, SideOfLine(Point{X: 55, Y: 50}, line))
	}
}

func TestCrossed(t *testing.T) {
	t.Parallel()

	// Vertical counting line at x=40, positive direction = left→right.
	line := Line{A: Point{X: 40, Y: 100}, B: Point{X: 40, Y: 0}}

	t.Run("simple positive crossing", func(t *testing.T) {
		t.Parallel()
		dir, ok := Crossed(Point{X: 30, Y: 50}, Point{X: 55, Y: 50}, line)
		require.True(t, ok)
		assert.Equal(t, DirectionPositive, dir)
	})

	t.Run("simple negative crossing", func(t *testing.T) {
		t.Parallel()
		dir, ok := Crossed(Point{X: 55, Y: 50}, Point{X: 30, Y: 50}, line)
		require.True(t, ok)
		assert.Equal(t, DirectionNegative, dir)
	})

	t.Run("no crossing when staying on one side", func(t *testing.T) {
		t.Parallel()
		_, ok := Crossed(Point{X: 10, Y: 50}, Point{X: 30, Y: 50}, line)
		assert.False(t, ok)
	})

	t.Run("large jump across the line is still a crossing", func(t *testing.T) {
		t.Parallel()
		// Simulates missed frames: one step from far left to far right.
		dir, ok := Crossed(Point{X: 1, Y: 50}, Point{X: 500, Y: 50}, line)
		require.True(t, ok)
		assert.Equal(t, DirectionPositive, dir)
	})

	t.Run("side change beyond the segment extent is not a crossing", func(t *testing.T) {
		t.Parallel()
		// Passes the infinite line at y=300, well below the segment.
		_, ok := Crossed(Point{X: 30, Y: 300}, Point{X: 55, Y: 300}, line)
		assert.False(t, ok)
	})

	t.Run("motion ending exactly on the line does not count", func(t *testing.T) {
		t.Parallel()
		_, ok := Crossed(Point{X: 30, Y: 50}, Point{X: 40, Y: 50}, line)
		assert.False(t, ok)
	})

	t.Run("diagonal crossing", func(t *testing.T) {
		t.Parallel()
		dir, ok := Crossed(Point{X: 35, Y: 10}, Point{X: 45, Y: 90}, line)
		require.True(t, ok)
		assert.Equal(t, DirectionPositive, dir)
	})
}

func TestDistance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 5.0, float64(Distance(Point{X: 0, Y: 0}, Point{X: 3, Y: 4})), 1e-6)
	assert.InDelta(t, 0.0, float64(Distance(Point{X: 1, Y: 1}, Point{X: 1, Y: 1})), 1e-6)
}
