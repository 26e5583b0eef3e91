// Package strip abstracts addressable LED strip hardware.
//
// SetPixel only stages a color; Refresh is the only call that changes the
// physical output. Clear blanks the strip immediately.
package strip

import (
	"fmt"

	"github.com/dokzlo13/ambientd/internal/color"
)

// Strip is one addressable LED strip. Implementations are not safe for
// concurrent use; each strip is owned by a single animation engine.
type Strip interface {
	// Len returns the number of LEDs.
	Len() int
	// SetPixel stages the color of LED i.
	SetPixel(i int, c color.Color) error
	// Refresh pushes the staged pixels to the hardware.
	Refresh() error
	// Clear turns every LED off and resets the staged pixels.
	Clear() error
	// Close releases the hardware.
	Close() error
}

// Fill stages c on every LED of s.
func Fill(s Strip, c color.Color) error {
	for i := 0; i < s.Len(); i++ {
		if err := s.SetPixel(i, c); err != nil {
			return err
		}
	}
	return nil
}

// pixelBuffer is the staged RGB state shared by the byte-oriented drivers.
type pixelBuffer struct {
	pixels []byte
}

func newPixelBuffer(n int) pixelBuffer {
	return pixelBuffer{pixels: make([]byte, n*3)}
}

func (b *pixelBuffer) Len() int {
	return len(b.pixels) / 3
}

func (b *pixelBuffer) set(i int, c color.Color) error {
	if i < 0 || i >= b.Len() {
		return fmt.Errorf("pixel %d out of range [0,%d)", i, b.Len())
	}
	b.pixels[i*3] = c.R
	b.pixels[i*3+1] = c.G
	b.pixels[i*3+2] = c.B
	return nil
}

func (b *pixelBuffer) reset() {
	for i := range b.pixels {
		b.pixels[i] = 0
	}
}
