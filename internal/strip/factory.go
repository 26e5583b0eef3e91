package strip

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/physic"
)

// Driver names accepted by Open.
const (
	DriverSPI    = "spi"
	DriverOPC    = "opc"
	DriverMemory = "memory"
)

// Options selects and configures a strip driver.
type Options struct {
	Driver     string
	LEDs       int
	SPIPort    string
	SPIFreqKHz int
	OPCAddr    string
	OPCChannel uint8
	OPCTimeout time.Duration
}

// Open creates the strip described by opts. Failures are fatal for startup.
func Open(name string, opts Options) (Strip, error) {
	if opts.LEDs <= 0 {
		return nil, fmt.Errorf("strip %s: leds must be positive, got %d", name, opts.LEDs)
	}

	log.Info().
		Str("channel", name).
		Str("driver", opts.Driver).
		Int("leds", opts.LEDs).
		Msg("Opening LED strip")

	switch opts.Driver {
	case DriverSPI:
		freq := physic.Frequency(opts.SPIFreqKHz) * physic.KiloHertz
		return OpenSPI(opts.SPIPort, opts.LEDs, freq)
	case DriverOPC:
		return OpenOPC(opts.OPCAddr, opts.OPCChannel, opts.LEDs, opts.OPCTimeout)
	case DriverMemory, "":
		return NewMemory(opts.LEDs), nil
	default:
		return nil, fmt.Errorf("strip %s: unknown driver %q", name, opts.Driver)
	}
}
