// Package canbus is the boundary to the vehicle bus: a frame model and
// receivers for a live SocketCAN interface or a recorded candump log.
package canbus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned by Receive when no frame arrived in time. It is a
	// normal poll outcome, not a transport failure.
	ErrTimeout = errors.New("canbus: receive timeout")

	// ErrClosed indicates the receiver has been closed.
	ErrClosed = errors.New("canbus: closed")
)

// Frame is one classic CAN frame. Only Data[:Length] is meaningful.
type Frame struct {
	ID       uint32
	Data     [8]byte
	Length   uint8
	Extended bool
	Remote   bool
}

// Payload returns the meaningful data bytes.
func (f Frame) Payload() []byte {
	n := min(int(f.Length), len(f.Data))
	return f.Data[:n]
}

// String renders the frame in candump compact notation, e.g. 3F5#0001.
func (f Frame) String() string {
	var b strings.Builder
	if f.Extended {
		fmt.Fprintf(&b, "%08X#", f.ID)
	} else {
		fmt.Fprintf(&b, "%03X#", f.ID)
	}
	if f.Remote {
		b.WriteString("R")
		return b.String()
	}
	b.WriteString(strings.ToUpper(hex.EncodeToString(f.Payload())))
	return b.String()
}

// Receiver yields frames from a bus.
type Receiver interface {
	// Receive waits up to timeout for the next frame. It returns ErrTimeout
	// when none arrived, ErrClosed after Close, and io.EOF when a finite
	// source is exhausted.
	Receive(ctx context.Context, timeout time.Duration) (Frame, error)

	// Close releases the underlying resources.
	Close() error
}
