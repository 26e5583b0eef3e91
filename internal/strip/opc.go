package strip

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/color"
)

// opcSetPixels is the Open Pixel Control "set pixel colours" command.
const opcSetPixels = 0x00

// OPC sends pixels to an Open Pixel Control server (fadecandy, gl_server).
// A dropped connection is re-dialed on the next Refresh.
type OPC struct {
	pixelBuffer
	addr    string
	channel uint8
	timeout time.Duration
	conn    net.Conn
	frame   []byte
}

// OpenOPC connects to the OPC server at addr and drives n LEDs on channel.
func OpenOPC(addr string, channel uint8, n int, timeout time.Duration) (*OPC, error) {
	o := &OPC{
		pixelBuffer: newPixelBuffer(n),
		addr:        addr,
		channel:     channel,
		timeout:     timeout,
		frame:       make([]byte, 4+n*3),
	}
	if err := o.dial(); err != nil {
		return nil, err
	}
	if err := o.Clear(); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func (o *OPC) dial() error {
	conn, err := net.DialTimeout("tcp", o.addr, o.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to OPC server %s: %w", o.addr, err)
	}
	o.conn = conn
	return nil
}

func (o *OPC) SetPixel(i int, c color.Color) error {
	return o.set(i, c)
}

func (o *OPC) Refresh() error {
	if o.conn == nil {
		if err := o.dial(); err != nil {
			return err
		}
		log.Info().Str("addr", o.addr).Msg("Reconnected to OPC server")
	}

	o.frame[0] = o.channel
	o.frame[1] = opcSetPixels
	binary.BigEndian.PutUint16(o.frame[2:4], uint16(len(o.pixels)))
	copy(o.frame[4:], o.pixels)

	if o.timeout > 0 {
		_ = o.conn.SetWriteDeadline(time.Now().Add(o.timeout))
	}
	if _, err := o.conn.Write(o.frame); err != nil {
		o.conn.Close()
		o.conn = nil
		return fmt.Errorf("failed to write OPC frame: %w", err)
	}
	return nil
}

func (o *OPC) Clear() error {
	o.reset()
	return o.Refresh()
}

func (o *OPC) Close() error {
	if o.conn == nil {
		return nil
	}
	err := o.conn.Close()
	o.conn = nil
	return err
}
