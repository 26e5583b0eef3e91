package engine

import (
	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
	"github.com/dokzlo13/ambientd/internal/strip"
)

// sequential reveals the target color one LED at a time. Each LED ramps up
// over Steps refreshes before the next one starts; a final full paint removes
// the truncation left by the integer ramp.
func (e *Engine) sequential(a command.Sequential) {
	steps := max(a.Steps, 1)

	e.check(e.strip.Clear())
	e.current = a.Color

	n := e.strip.Len()
	for i := 0; i < n; i++ {
		idx := i
		if a.Reverse {
			idx = n - 1 - i
		}
		for k := 1; k <= steps; k++ {
			e.check(e.strip.SetPixel(idx, a.Color.Scale(k, steps)))
			e.check(e.strip.Refresh())
			e.sleep(a.Delay)
		}
	}

	e.check(strip.Fill(e.strip, a.Color))
	e.check(e.strip.Refresh())
}

// fadeTo moves every LED from the current color to the target with a constant
// per-channel step. The step truncates toward zero, so the last frame is
// snapped to the exact target.
func (e *Engine) fadeTo(a command.FadeTo) {
	steps := max(a.Steps, 1)
	from := e.current

	dr := (int(a.Color.R) - int(from.R)) / steps
	dg := (int(a.Color.G) - int(from.G)) / steps
	db := (int(a.Color.B) - int(from.B)) / steps

	for k := 1; k <= steps; k++ {
		c := color.RGB(
			uint8(int(from.R)+dr*k),
			uint8(int(from.G)+dg*k),
			uint8(int(from.B)+db*k),
		)
		e.check(strip.Fill(e.strip, c))
		e.check(e.strip.Refresh())
		e.sleep(a.Delay)
	}

	e.current = a.Color
	e.check(strip.Fill(e.strip, a.Color))
	e.check(e.strip.Refresh())
}
