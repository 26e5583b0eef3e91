// Package command defines the animation commands exchanged between the CAN
// interpreter and the per-strip animation engines, and the bounded queues that
// carry them.
//
// A Command is owned by exactly one party at a time: the producer until it is
// sent, the queue while pending, and the executing engine after Receive. A
// chained follow-up Command is detached with TakeChain by the engine that
// executed its parent, so it is forwarded (or dropped) exactly once.
package command

import (
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/ambientd/internal/color"
)

// Kind identifies an Action variant.
type Kind string

const (
	KindTurnOff    Kind = "turn_off"
	KindTurnOn     Kind = "turn_on"
	KindSetColor   Kind = "set_color"
	KindSequential Kind = "sequential"
	KindFadeTo     Kind = "fade_to"
)

// Action is the closed set of animation/state changes a Command can carry.
type Action interface {
	Kind() Kind
	action()
}

// TurnOff clears the strip.
type TurnOff struct{}

// TurnOn paints every pixel with Color and refreshes once.
type TurnOn struct {
	Color color.Color
}

// SetColor updates the channel's current color without touching the strip.
type SetColor struct {
	Color color.Color
}

// Sequential reveals Color one LED at a time, ramping each LED over Steps refreshes.
type Sequential struct {
	Color   color.Color
	Steps   int
	Delay   time.Duration
	Reverse bool
}

// FadeTo moves the whole strip from the current color to Color over Steps refreshes.
type FadeTo struct {
	Color color.Color
	Steps int
	Delay time.Duration
}

func (TurnOff) Kind() Kind    { return KindTurnOff }
func (TurnOn) Kind() Kind     { return KindTurnOn }
func (SetColor) Kind() Kind   { return KindSetColor }
func (Sequential) Kind() Kind { return KindSequential }
func (FadeTo) Kind() Kind     { return KindFadeTo }

func (TurnOff) action()    {}
func (TurnOn) action()     {}
func (SetColor) action()   {}
func (Sequential) action() {}
func (FadeTo) action()     {}

// TargetColor returns the color an action leaves the strip at.
func TargetColor(a Action) color.Color {
	switch a := a.(type) {
	case TurnOn:
		return a.Color
	case SetColor:
		return a.Color
	case Sequential:
		return a.Color
	case FadeTo:
		return a.Color
	default:
		return color.Zero
	}
}

// link is the (target queue, next command) pair of a chained Command.
type link struct {
	target *Queue
	next   *Command
}

// Command is one animation step for exactly one light channel.
type Command struct {
	ID       uuid.UUID
	ParentID uuid.UUID // zero unless this Command was chained behind another
	Action   Action

	chain *link
}

// New wraps an action into a Command with a fresh ID.
func New(a Action) *Command {
	return &Command{
		ID:     uuid.New(),
		Action: a,
	}
}

// Kind returns the kind of the wrapped action.
func (c *Command) Kind() Kind {
	return c.Action.Kind()
}

// Then chains next onto c. After c has been executed, next is sent to target.
// It returns c so calls can be nested.
func (c *Command) Then(target *Queue, next *Command) *Command {
	next.ParentID = c.ID
	c.chain = &link{target: target, next: next}
	return c
}

// HasChain reports whether a follow-up Command is still attached.
func (c *Command) HasChain() bool {
	return c.chain != nil
}

// TakeChain detaches and returns the chained Command and its target queue.
// Subsequent calls return nil.
func (c *Command) TakeChain() (*Queue, *Command) {
	if c.chain == nil {
		return nil, nil
	}
	l := c.chain
	c.chain = nil
	return l.target, l.next
}

// ChainLength returns the number of Commands chained behind c.
func (c *Command) ChainLength() int {
	n := 0
	for l := c.chain; l != nil; l = l.next.chain {
		n++
	}
	return n
}
