package strip

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/nrzled"
	"periph.io/x/host/v3"

	"github.com/dokzlo13/ambientd/internal/color"
)

// SPI drives a WS2812 strip by NRZ-encoding the pixel stream on an SPI port.
type SPI struct {
	pixelBuffer
	port spi.PortCloser
	dev  *nrzled.Dev
}

// OpenSPI initializes the host drivers and opens a WS2812 strip of n LEDs on
// the named SPI port ("" selects the first available port).
func OpenSPI(port string, n int, freq physic.Frequency) (*SPI, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}

	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", port, err)
	}

	opts := nrzled.DefaultOpts
	opts.NumPixels = n
	opts.Channels = 3
	if freq != 0 {
		opts.Freq = freq
	}

	dev, err := nrzled.NewSPI(p, &opts)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create nrzled device on %q: %w", port, err)
	}

	s := &SPI{
		pixelBuffer: newPixelBuffer(n),
		port:        p,
		dev:         dev,
	}
	if err := s.Clear(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SPI) SetPixel(i int, c color.Color) error {
	return s.set(i, c)
}

func (s *SPI) Refresh() error {
	_, err := s.dev.Write(s.pixels)
	return err
}

func (s *SPI) Clear() error {
	s.reset()
	return s.Refresh()
}

func (s *SPI) Close() error {
	if err := s.dev.Halt(); err != nil {
		s.port.Close()
		return err
	}
	return s.port.Close()
}
