package konfiskat

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/browser"
	"github.com/JakeFAU/carwatch/internal/source"
)

// findThumbScript tags the real KillBot slider thumb and returns its geometry.
// Decoy thumbs use cursor:unset; only the real one is cursor:pointer. The
// track size is matched by range because KillBot randomizes it.
const findThumbScript = `(() => {
	const id = "carwatch-kb-thumb";
	const prev = document.getElementById(id);
	if (prev) prev.removeAttribute("id");
	for (const div of document.querySelectorAll("div")) {
		if (getComputedStyle(div).cursor !== "pointer") continue;
		const parent = div.parentElement;
		if (!parent) continue;
		const track = parent.getBoundingClientRect();
		if (track.width < 200 || track.width > 400 || track.height < 40 || track.height > 60) continue;
		const thumb = div.getBoundingClientRect();
		if (thumb.width > 80) continue;
		div.id = id;
		return {
			found: true,
			thumb: {x: thumb.x, y: thumb.y, width: thumb.width, height: thumb.height},
			track: {x: track.x, y: track.y, width: track.width, height: track.height},
		};
	}
	return {found: false};
})()`

type rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type slider struct {
	Found bool `json:"found"`
	Thumb rect `json:"thumb"`
	Track rect `json:"track"`
}

// sliderPath drags from the thumb center across the track in steps with a
// little horizontal noise. jitter returns values in [0, 1).
func sliderPath(s slider, steps int, jitter func() float64) []browser.Point {
	if steps < 1 {
		steps = 1
	}
	startX := s.Thumb.X + s.Thumb.Width/2
	startY := s.Thumb.Y + s.Thumb.Height/2
	endX := startX + (s.Track.Width - s.Thumb.Width)

	path := make([]browser.Point, 0, steps+1)
	path = append(path, browser.Point{X: startX, Y: startY})
	for i := 1; i <= steps; i++ {
		x := startX + (endX-startX)*float64(i)/float64(steps)
		if i < steps {
			x += jitter()*4 - 2
		}
		path = append(path, browser.Point{X: x, Y: startY})
	}
	return path
}

// passSlider tries to clear the KillBot "swipe right" overlay. It reports
// whether the search form became visible afterwards.
func (c *Checker) passSlider(ctx context.Context, page source.Page) bool {
	var s slider
	if err := page.Eval(ctx, findThumbScript, &s); err != nil {
		c.logger.Debug("slider lookup failed", zap.Error(err))
		return false
	}
	if !s.Found {
		return false
	}

	steps := 12 + rand.IntN(6)
	path := sliderPath(s, steps, rand.Float64)
	if err := page.Drag(ctx, path, 20*time.Millisecond+time.Duration(rand.IntN(30))*time.Millisecond); err != nil {
		c.logger.Warn("slider drag failed", zap.Error(err))
		return false
	}
	if err := page.WaitVisible(ctx, formSelector, c.cfg.FormTimeout); err != nil {
		c.logger.Warn("verification overlay still present after drag", zap.Error(err))
		return false
	}
	c.logger.Info("passed KillBot verification")
	return true
}
