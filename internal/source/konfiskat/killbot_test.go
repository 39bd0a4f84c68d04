// Package konfiskat includes tests for the slider drag path.
package konfiskat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/carwatch/internal/browser"
)

// TestSliderPath checks the drag path geometry with and without jitter.
func TestSliderPath(t *testing.T) {
	t.Parallel()

	s := slider{
		Found: true,
		Thumb: rect{X: 10, Y: 100, Width: 40, Height: 40},
		Track: rect{X: 10, Y: 100, Width: 300, Height: 40},
	}

	t.Run("no noise", func(t *testing.T) {
		t.Parallel()
		path := sliderPath(s, 4, func() float64 { return 0.5 })
		assert.Equal(t, []browser.Point{
			{X: 30, Y: 120},
			{X: 95, Y: 120},
			{X: 160, Y: 120},
			{X: 225, Y: 120},
			{X: 290, Y: 120},
		}, path)
	})

	t.Run("noise spares the endpoints", func(t *testing.T) {
		t.Parallel()
		path := sliderPath(s, 4, func() float64 { return 0 })
		require.Len(t, path, 5)
		assert.Equal(t, browser.Point{X: 30, Y: 120}, path[0])
		assert.Equal(t, browser.Point{X: 93, Y: 120}, path[1])
		assert.Equal(t, browser.Point{X: 290, Y: 120}, path[4])
	})

	t.Run("at least one step", func(t *testing.T) {
		t.Parallel()
		path := sliderPath(s, 0, func() float64 { return 0.5 })
		assert.Equal(t, []browser.Point{{X: 30, Y: 120}, {X: 290, Y: 120}}, path)
	})
}
