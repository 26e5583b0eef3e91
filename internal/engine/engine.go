// Package engine runs the per-channel animation loop: it executes queued
// Commands against one LED strip and forwards chained Commands once their
// parent has finished.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
	"github.com/dokzlo13/ambientd/internal/strip"
)

// Observer receives execution outcomes. Calls happen on the engine goroutine
// and must not block.
type Observer interface {
	CommandExecuted(channel string, cmd *command.Command, final color.Color, elapsed time.Duration)
	CommandDropped(channel string, cmd *command.Command, err error)
}

type nopObserver struct{}

func (nopObserver) CommandExecuted(string, *command.Command, color.Color, time.Duration) {}
func (nopObserver) CommandDropped(string, *command.Command, error)                      {}

// Engine owns one light channel: its strip, its queue and its current color.
// Only the goroutine running Run touches the strip and the current color.
type Engine struct {
	name     string
	queue    *command.Queue
	strip    strip.Strip
	observer Observer
	sleep    func(time.Duration)

	current color.Color
	warned  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the execution observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithSleep replaces the delay function used between animation steps.
func WithSleep(fn func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// New creates an engine for the channel name, consuming queue and driving s.
func New(name string, queue *command.Queue, s strip.Strip, opts ...Option) *Engine {
	e := &Engine{
		name:     name,
		queue:    queue,
		strip:    s,
		observer: nopObserver{},
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the channel name.
func (e *Engine) Name() string {
	return e.name
}

// Queue returns the channel's command queue.
func (e *Engine) Queue() *command.Queue {
	return e.queue
}

// Current returns the channel's current color. It must not be called while
// Run is active on another goroutine.
func (e *Engine) Current() color.Color {
	return e.current
}

// Idle reports whether every command sent to the queue has finished,
// including the forwarding of its chain.
func (e *Engine) Idle() bool {
	return e.queue.Outstanding() == 0
}

// Run processes commands until ctx is cancelled. A command that has started
// executing always runs to completion.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().Str("channel", e.name).Int("leds", e.strip.Len()).Msg("Animation engine started")

	for {
		cmd, err := e.queue.Receive(ctx)
		if err != nil {
			log.Info().Str("channel", e.name).Msg("Animation engine stopping")
			return nil
		}

		e.process(ctx, cmd)
		e.queue.Done()
	}
}

// process executes cmd, then forwards its chained command, if any.
func (e *Engine) process(ctx context.Context, cmd *command.Command) {
	start := time.Now()

	log.Debug().
		Str("channel", e.name).
		Str("command_id", cmd.ID.String()).
		Str("kind", string(cmd.Kind())).
		Msg("Executing command")

	e.Execute(cmd)
	e.observer.CommandExecuted(e.name, cmd, e.current, time.Since(start))

	target, next := cmd.TakeChain()
	if next == nil {
		return
	}

	log.Debug().
		Str("channel", e.name).
		Str("target", target.Name()).
		Str("command_id", next.ID.String()).
		Msg("Forwarding chained command")

	err := target.Send(ctx, next)
	if err == nil {
		return
	}

	// Shutting down: hand the chain off only if the target has room.
	terr := target.TrySend(next)
	if terr == nil {
		return
	}
	err = errors.Join(err, terr)

	log.Error().Err(err).
		Str("channel", e.name).
		Str("target", target.Name()).
		Str("command_id", next.ID.String()).
		Int("orphaned_chain", next.ChainLength()).
		Msg("Failed to forward chained command, dropping")
	e.observer.CommandDropped(target.Name(), next, err)
}

// Execute runs cmd synchronously against the strip. The chain link is left
// untouched.
func (e *Engine) Execute(cmd *command.Command) {
	e.warned = false

	switch a := cmd.Action.(type) {
	case command.TurnOff:
		e.check(e.strip.Clear())
		e.current = color.Zero
	case command.TurnOn:
		e.current = a.Color
		e.check(strip.Fill(e.strip, a.Color))
		e.check(e.strip.Refresh())
	case command.SetColor:
		e.current = a.Color
	case command.Sequential:
		e.sequential(a)
	case command.FadeTo:
		e.fadeTo(a)
	default:
		log.Warn().Str("channel", e.name).Str("kind", string(cmd.Kind())).Msg("Unknown command kind, ignoring")
	}
}

// check logs the first strip error of a command. Runtime strip failures are
// otherwise ignored.
func (e *Engine) check(err error) {
	if err == nil || e.warned {
		return
	}
	e.warned = true
	log.Warn().Err(err).Str("channel", e.name).Msg("LED strip operation failed")
}
