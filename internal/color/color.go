// Package color provides the RGB value type shared by strips, commands and the API.
package color

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is three independent 8-bit channel intensities.
type Color struct {
	R uint8 `json:"red"`
	G uint8 `json:"green"`
	B uint8 `json:"blue"`
}

// Zero is the "off" color.
var Zero = Color{}

// RGB builds a Color from its components.
func RGB(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// IsZero reports whether every channel is 0.
func (c Color) IsZero() bool {
	return c == Zero
}

// Scale returns c*k/steps per channel using integer division.
func (c Color) Scale(k, steps int) Color {
	if steps <= 0 {
		return c
	}
	return Color{
		R: uint8(int(c.R) * k / steps),
		G: uint8(int(c.G) * k / steps),
		B: uint8(int(c.B) * k / steps),
	}
}

// Hex renders the color as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// String implements fmt.Stringer.
func (c Color) String() string {
	return c.Hex()
}

// ParseHex parses "#rrggbb" or "#rgb".
func ParseHex(s string) (Color, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return Color{R: r, G: g, B: b}, nil
}
