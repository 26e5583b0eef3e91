package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCAN receives frames from a Linux SocketCAN interface.
type SocketCAN struct {
	iface  string
	conn   net.Conn
	rx     *socketcan.Receiver
	closed atomic.Bool
}

// OpenSocketCAN opens a raw CAN socket bound to iface (e.g. "can0").
// Bitrate and filters are configured on the interface itself.
func OpenSocketCAN(ctx context.Context, iface string) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("failed to open CAN interface %s: %w", iface, err)
	}

	log.Info().Str("iface", iface).Msg("CAN interface opened")

	return &SocketCAN{
		iface: iface,
		conn:  conn,
		rx:    socketcan.NewReceiver(conn),
	}, nil
}

// Receive waits up to timeout for the next data frame. Error frames reported
// by the controller are logged and skipped.
func (s *SocketCAN) Receive(ctx context.Context, timeout time.Duration) (Frame, error) {
	if s.closed.Load() {
		return Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return Frame{}, fmt.Errorf("set read deadline: %w", err)
	}

	for s.rx.Receive() {
		if s.rx.HasErrorFrame() {
			log.Debug().Str("iface", s.iface).Msg("CAN error frame received")
			continue
		}
		return fromCAN(s.rx.Frame()), nil
	}

	err := s.rx.Err()
	// The receiver keeps its first error forever, so start a fresh one.
	s.rx = socketcan.NewReceiver(s.conn)

	switch {
	case s.closed.Load():
		return Frame{}, ErrClosed
	case isTimeout(err):
		return Frame{}, ErrTimeout
	case err == nil:
		return Frame{}, fmt.Errorf("CAN interface %s: receiver stopped", s.iface)
	default:
		return Frame{}, fmt.Errorf("CAN interface %s: %w", s.iface, err)
	}
}

// Close closes the socket. A blocked Receive returns ErrClosed.
func (s *SocketCAN) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func fromCAN(f can.Frame) Frame {
	return Frame{
		ID:       f.ID,
		Data:     f.Data,
		Length:   f.Length,
		Extended: f.IsExtended,
		Remote:   f.IsRemote,
	}
}
