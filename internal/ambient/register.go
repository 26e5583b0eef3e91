// Package ambient holds the process-wide ambient color shared between the
// HTTP API, which writes it, and the CAN interpreter, which reads it.
package ambient

import (
	"sync"

	"github.com/dokzlo13/ambientd/internal/color"
)

// Register is a single Color guarded by a mutex. The lock is held only for
// the copy; callers never see the lock or a pointer to the value.
type Register struct {
	mu sync.Mutex
	c  color.Color
}

// New creates a register holding the startup color.
func New(startup color.Color) *Register {
	return &Register{c: startup}
}

// Read returns the current ambient color.
func (r *Register) Read() color.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

// Write replaces the ambient color.
func (r *Register) Write(c color.Color) {
	r.mu.Lock()
	r.c = c
	r.mu.Unlock()
}
