package strip

import (
	"fmt"
	"sync"

	"github.com/dokzlo13/ambientd/internal/color"
)

// Memory is an in-process strip. It keeps the staged and the displayed pixels
// apart so callers can observe exactly what a Refresh made visible.
//
// It is used by tests and by dry-run replays; its accessors are safe to call
// from other goroutines while an engine drives it.
type Memory struct {
	mu        sync.Mutex
	staged    []color.Color
	shown     []color.Color
	refreshes int
	clears    int
	onRefresh func(shown []color.Color)
}

// NewMemory creates an in-memory strip of n LEDs.
func NewMemory(n int) *Memory {
	return &Memory{
		staged: make([]color.Color, n),
		shown:  make([]color.Color, n),
	}
}

// OnRefresh registers a callback invoked with a copy of the displayed pixels
// after every Refresh. It must be set before the strip is used.
func (m *Memory) OnRefresh(fn func(shown []color.Color)) {
	m.onRefresh = fn
}

func (m *Memory) Len() int {
	return len(m.staged)
}

func (m *Memory) SetPixel(i int, c color.Color) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.staged) {
		return fmt.Errorf("pixel %d out of range [0,%d)", i, len(m.staged))
	}
	m.staged[i] = c
	return nil
}

func (m *Memory) Refresh() error {
	m.mu.Lock()
	copy(m.shown, m.staged)
	m.refreshes++
	var snapshot []color.Color
	if m.onRefresh != nil {
		snapshot = append([]color.Color(nil), m.shown...)
	}
	m.mu.Unlock()

	if snapshot != nil {
		m.onRefresh(snapshot)
	}
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.staged {
		m.staged[i] = color.Zero
		m.shown[i] = color.Zero
	}
	m.clears++
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Shown returns a copy of the pixels made visible by the last Refresh or Clear.
func (m *Memory) Shown() []color.Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]color.Color(nil), m.shown...)
}

// Staged returns a copy of the staged pixels.
func (m *Memory) Staged() []color.Color {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]color.Color(nil), m.staged...)
}

// Refreshes returns how many times Refresh was called.
func (m *Memory) Refreshes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

// Clears returns how many times Clear was called.
func (m *Memory) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}
