package geometry_test

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleqd/sitemap/internal/geometry"
)

func TestIntersects(t *testing.T) {
	tests := []struct {
		name string
		a, b geometry.Rect
		want bool
	}{
		{"overlapping", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 5, Y: 5, Width: 10, Height: 10}, true},
		{"touching edge", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 10, Y: 0, Width: 10, Height: 10}, false},
		{"touching corner", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 10, Y: 10, Width: 10, Height: 10}, false},
		{"disjoint", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 50, Y: 50, Width: 10, Height: 10}, false},
		{"nested", geometry.Rect{X: 0, Y: 0, Width: 100, Height: 100}, geometry.Rect{X: 10, Y: 10, Width: 5, Height: 5}, true},
		{"rotated vertex pokes in", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 11, Y: 0, Width: 10, Height: 10, Rotation: 45}, true},
		{"envelopes overlap but rotated diamond is clear", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 12, Y: 12, Width: 10, Height: 10, Rotation: 45}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, geometry.Intersects(tt.a, tt.b))
			assert.Equal(t, tt.want, geometry.Intersects(tt.b, tt.a))
		})
	}
}

func TestContains(t *testing.T) {
	outer := geometry.Rect{X: 0, Y: 0, Width: 100, Height: 100}

	assert.True(t, geometry.Contains(outer, geometry.Rect{X: 10, Y: 10, Width: 20, Height: 20, Rotation: 45}))
	assert.True(t, geometry.Contains(outer, outer), "a rectangle contains itself")
	assert.False(t, geometry.Contains(outer, geometry.Rect{X: 85, Y: 85, Width: 20, Height: 20}))

	// A square rotated 45 degrees inside a box that only fits it unrotated.
	assert.False(t, geometry.Contains(geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}, geometry.Rect{X: 1, Y: 1, Width: 8, Height: 8, Rotation: 45}))

	rotatedOuter := geometry.Rect{X: 0, Y: 0, Width: 100, Height: 20, Rotation: 90}
	assert.True(t, geometry.Contains(rotatedOuter, geometry.Rect{X: 45, Y: -30, Width: 10, Height: 10}))
	assert.False(t, geometry.Contains(rotatedOuter, geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10}))
}

func TestWithinCanvas(t *testing.T) {
	assert.True(t, geometry.WithinCanvas(geometry.Rect{X: 400, Y: 400, Width: 100, Height: 100}, 500, 500))
	assert.False(t, geometry.WithinCanvas(geometry.Rect{X: 401, Y: 400, Width: 100, Height: 100}, 500, 500))
	assert.False(t, geometry.WithinCanvas(geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10, Rotation: 45}, 500, 500))
	assert.True(t, geometry.WithinCanvas(geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10, Rotation: 180}, 500, 500))
}

func TestValidate(t *testing.T) {
	require.NoError(t, geometry.Rect{Width: 1, Height: 1}.Validate())
	assert.ErrorIs(t, geometry.Rect{Width: 0, Height: 1}.Validate(), geometry.ErrInvalidRect)
	assert.ErrorIs(t, geometry.Rect{Width: 1, Height: -2}.Validate(), geometry.ErrInvalidRect)
	assert.ErrorIs(t, geometry.Rect{X: math.NaN(), Width: 1, Height: 1}.Validate(), geometry.ErrInvalidRect)
	assert.ErrorIs(t, geometry.Rect{Width: math.Inf(1), Height: 1}.Validate(), geometry.ErrInvalidRect)
}

func TestCornersRotateAboutCenter(t *testing.T) {
	r := geometry.Rect{X: 0, Y: 0, Width: 20, Height: 10, Rotation: 90}
	cs := r.Corners()

	// Rotating 90 degrees clockwise swaps the footprint's extents.
	box := r.Envelope()
	assert.InDelta(t, 5, box.MinX, 1e-9)
	assert.InDelta(t, 15, box.MaxX, 1e-9)
	assert.InDelta(t, -5, box.MinY, 1e-9)
	assert.InDelta(t, 15, box.MaxY, 1e-9)

	// Top-left of the unrotated box ends up top-right.
	assert.InDelta(t, 15, cs[0].X, 1e-9)
	assert.InDelta(t, -5, cs[0].Y, 1e-9)
}

func genRect() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(-200, 200),
		gen.Float64Range(-200, 200),
		gen.Float64Range(1, 150),
		gen.Float64Range(1, 150),
		gen.Float64Range(0, 360),
	).Map(func(v []interface{}) geometry.Rect {
		return geometry.Rect{
			X:        v[0].(float64),
			Y:        v[1].(float64),
			Width:    v[2].(float64),
			Height:   v[3].(float64),
			Rotation: v[4].(float64),
		}
	})
}

func TestGeometryProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("intersects is symmetric", prop.ForAll(
		func(a, b geometry.Rect) bool {
			return geometry.Intersects(a, b) == geometry.Intersects(b, a)
		},
		genRect(), genRect(),
	))

	properties.Property("a rectangle intersects itself", prop.ForAll(
		func(a geometry.Rect) bool {
			return geometry.Intersects(a, a)
		},
		genRect(),
	))

	properties.Property("a shrunken copy is contained and intersects", prop.ForAll(
		func(a geometry.Rect, f float64) bool {
			c := a.Center()
			inner := geometry.Rect{
				X:        c.X - a.Width*f/2,
				Y:        c.Y - a.Height*f/2,
				Width:    a.Width * f,
				Height:   a.Height * f,
				Rotation: a.Rotation,
			}
			return geometry.Contains(a, inner) && geometry.Intersects(a, inner)
		},
		genRect(), gen.Float64Range(0.05, 0.95),
	))

	properties.Property("envelope holds every corner", prop.ForAll(
		func(a geometry.Rect) bool {
			box := a.Envelope()
			for _, p := range a.Corners() {
				if p.X < box.MinX || p.X > box.MaxX || p.Y < box.MinY || p.Y > box.MaxY {
					return false
				}
			}
			return true
		},
		genRect(),
	))

	properties.TestingRun(t)
}
