package command

import (
	"time"

	"github.com/dokzlo13/ambientd/internal/color"
)

// Defaults for factory-built commands.
const (
	DefaultFadeSteps       = 20
	DefaultFadeDelay       = 20 * time.Millisecond
	DefaultSequentialSteps = 2
	DefaultSequentialDelay = 20 * time.Millisecond
)

// Timing holds the step counts and delays used by the factories.
type Timing struct {
	FadeSteps       int
	FadeDelay       time.Duration
	SequentialSteps int
	SequentialDelay time.Duration
}

// DefaultTiming is the timing used by the package-level factories.
var DefaultTiming = Timing{
	FadeSteps:       DefaultFadeSteps,
	FadeDelay:       DefaultFadeDelay,
	SequentialSteps: DefaultSequentialSteps,
	SequentialDelay: DefaultSequentialDelay,
}

// FadeTo builds a FadeTo command with t's fade timing.
func (t Timing) FadeTo(c color.Color) *Command {
	return New(FadeTo{Color: c, Steps: t.FadeSteps, Delay: t.FadeDelay})
}

// Sequential builds a Sequential command with t's sequential timing.
func (t Timing) Sequential(c color.Color, reverse bool) *Command {
	return New(Sequential{Color: c, Steps: t.SequentialSteps, Delay: t.SequentialDelay, Reverse: reverse})
}

// NewFadeTo builds a FadeTo command with DefaultTiming.
func NewFadeTo(c color.Color) *Command {
	return DefaultTiming.FadeTo(c)
}

// NewSequential builds a Sequential command with DefaultTiming.
func NewSequential(c color.Color, reverse bool) *Command {
	return DefaultTiming.Sequential(c, reverse)
}

// NewSetColor builds a SetColor command.
func NewSetColor(c color.Color) *Command {
	return New(SetColor{Color: c})
}

// NewTurnOn builds a TurnOn command.
func NewTurnOn(c color.Color) *Command {
	return New(TurnOn{Color: c})
}

// NewTurnOff builds a TurnOff command.
func NewTurnOff() *Command {
	return New(TurnOff{})
}
