// Package interpreter turns raw CAN frames into light Commands. It keeps the
// last payload seen for each monitored identifier, detects bit edges between
// consecutive payloads and enqueues animations on the channel queues.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
)

// ColorSource provides the ambient color used for turn-on animations.
type ColorSource interface {
	Read() color.Color
}

// Observer receives interpreter telemetry. Calls happen on the interpreter
// goroutine and must not block.
type Observer interface {
	FrameReceived(f canbus.Frame)
	EdgeDetected(edge Edge, f canbus.Frame)
	CommandEnqueued(channel string, cmd *command.Command)
	CommandDropped(channel string, cmd *command.Command, err error)
	ReceiveFailed(err error)
}

type nopObserver struct{}

func (nopObserver) FrameReceived(canbus.Frame)                     {}
func (nopObserver) EdgeDetected(Edge, canbus.Frame)                {}
func (nopObserver) CommandEnqueued(string, *command.Command)       {}
func (nopObserver) CommandDropped(string, *command.Command, error) {}
func (nopObserver) ReceiveFailed(error)                            {}

// Interpreter is not safe for concurrent use; one goroutine feeds it frames.
type Interpreter struct {
	dashboard *command.Queue
	door      *command.Queue
	colors    ColorSource
	timing    command.Timing
	observer  Observer

	prevDisplay [8]byte
	prevLights  [8]byte

	// Lit state as last commanded by this interpreter.
	dashboardLit bool
	doorLit      bool

	errLog rate.Sometimes
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTiming overrides the step counts and delays of synthesized Commands.
func WithTiming(t command.Timing) Option {
	return func(i *Interpreter) {
		i.timing = t
	}
}

// WithObserver sets the telemetry observer.
func WithObserver(o Observer) Option {
	return func(i *Interpreter) {
		if o != nil {
			i.observer = o
		}
	}
}

// New creates an interpreter feeding the dashboard and door queues.
func New(dashboard, door *command.Queue, colors ColorSource, opts ...Option) *Interpreter {
	i := &Interpreter{
		dashboard: dashboard,
		door:      door,
		colors:    colors,
		timing:    command.DefaultTiming,
		observer:  nopObserver{},
		errLog:    rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run receives frames until ctx is cancelled or the receiver is exhausted.
// A timeout is a normal poll; other receive errors are logged and skipped.
func (i *Interpreter) Run(ctx context.Context, rx canbus.Receiver, timeout time.Duration) error {
	log.Info().Dur("timeout", timeout).Msg("CAN interpreter started")

	failures := 0
	for {
		if ctx.Err() != nil {
			log.Info().Msg("CAN interpreter stopping")
			return nil
		}

		f, err := rx.Receive(ctx, timeout)
		switch {
		case err == nil:
			failures = 0
			i.HandleFrame(ctx, f)
		case errors.Is(err, canbus.ErrTimeout):
			log.Debug().Msg("Timed out waiting for CAN frame")
		case errors.Is(err, io.EOF):
			log.Info().Msg("CAN source exhausted")
			return nil
		case errors.Is(err, canbus.ErrClosed), ctx.Err() != nil:
			log.Info().Msg("CAN interpreter stopping")
			return nil
		default:
			failures++
			i.observer.ReceiveFailed(err)
			i.errLog.Do(func() {
				log.Error().Err(err).Int("consecutive", failures).Msg("Error receiving CAN frame")
			})
			if failures > 1 {
				backoff := min(time.Duration(failures)*10*time.Millisecond, time.Second)
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
			}
		}
	}
}

// HandleFrame processes one frame. Frames with unmonitored identifiers,
// remote requests and payloads identical to the previous one are ignored.
func (i *Interpreter) HandleFrame(ctx context.Context, f canbus.Frame) {
	i.observer.FrameReceived(f)

	var prev *[8]byte
	switch f.ID {
	case DisplayID:
		prev = &i.prevDisplay
	case LightsID:
		prev = &i.prevLights
	default:
		return
	}
	// An extended identifier such as 0x000003B3 is a different identifier
	// from the standard 0x3B3, so it is not monitored. Remote frames carry
	// no payload.
	if f.Remote || f.Extended {
		return
	}

	cur := *prev
	copy(cur[:], f.Payload())
	if cur == *prev {
		return
	}

	log.Debug().Str("can_id", canID(f.ID)).Str("frame", f.String()).Msg("CAN payload changed")

	if f.ID == DisplayID {
		i.displayChanged(ctx, f, cur, *prev)
	} else {
		i.lightsChanged(ctx, f, cur, *prev)
	}

	*prev = cur
}

func (i *Interpreter) displayChanged(ctx context.Context, f canbus.Frame, cur, prev [8]byte) {
	c, p := cur[DisplayStatusByte], prev[DisplayStatusByte]

	switch {
	case Rising(c, p, DisplayStandardUIMask):
		i.edge(EdgeDisplayOn, f)
		if i.dashboardLit && i.doorLit {
			log.Debug().Msg("Lights already on, skipping reveal")
			return
		}
		col := i.colors.Read()
		door := i.timing.Sequential(col, false)
		dashboard := i.timing.Sequential(col, false).Then(i.door, door)
		if i.send(ctx, i.dashboard, dashboard) {
			i.dashboardLit = !col.IsZero()
			i.doorLit = !col.IsZero()
		}

	case Falling(c, p, DisplayStandardUIMask):
		i.edge(EdgeDisplayOff, f)
		i.fadeBoth(ctx, color.Zero)
	}
}

func (i *Interpreter) lightsChanged(ctx context.Context, f canbus.Frame, cur, prev [8]byte) {
	c, p := cur[AmbientByte], prev[AmbientByte]

	switch {
	case Rising(c, p, AmbientMask):
		i.edge(EdgeAmbientOn, f)
		if i.prevDisplay[DisplayStatusByte]&DisplayStandardUIMask != 0 {
			i.fadeBoth(ctx, i.colors.Read())
		} else {
			log.Debug().Msg("Display not in standard UI, ambient change deferred")
		}
	case Falling(c, p, AmbientMask):
		i.edge(EdgeAmbientOff, f)
		i.fadeBoth(ctx, color.Zero)
	}

	ts, pts := cur[TurnSignalByte], prev[TurnSignalByte]
	if Rising(ts, pts, LeftTurnSignalMask) {
		i.edge(EdgeLeftTurnSignalOn, f)
	} else if Falling(ts, pts, LeftTurnSignalMask) {
		i.edge(EdgeLeftTurnSignalOff, f)
	}
	if Rising(ts, pts, RightTurnSignalMask) {
		i.edge(EdgeRightTurnSignalOn, f)
	} else if Falling(ts, pts, RightTurnSignalMask) {
		i.edge(EdgeRightTurnSignalOff, f)
	}
}

// fadeBoth sends a FadeTo(c) to the dashboard and then the door queue.
func (i *Interpreter) fadeBoth(ctx context.Context, c color.Color) {
	if i.send(ctx, i.dashboard, i.timing.FadeTo(c)) {
		i.dashboardLit = !c.IsZero()
	}
	if i.send(ctx, i.door, i.timing.FadeTo(c)) {
		i.doorLit = !c.IsZero()
	}
}

func (i *Interpreter) edge(e Edge, f canbus.Frame) {
	log.Info().Str("edge", string(e)).Str("can_id", canID(f.ID)).Msg("CAN edge detected")
	i.observer.EdgeDetected(e, f)
}

// send enqueues cmd, blocking while q is full. It reports whether the
// command was accepted.
func (i *Interpreter) send(ctx context.Context, q *command.Queue, cmd *command.Command) bool {
	if err := q.Send(ctx, cmd); err != nil {
		log.Error().Err(err).
			Str("channel", q.Name()).
			Str("command_id", cmd.ID.String()).
			Int("orphaned_chain", cmd.ChainLength()).
			Msg("Failed to send command to queue, dropping")
		i.observer.CommandDropped(q.Name(), cmd, err)
		return false
	}

	log.Debug().
		Str("channel", q.Name()).
		Str("command_id", cmd.ID.String()).
		Str("kind", string(cmd.Kind())).
		Msg("Command enqueued")
	i.observer.CommandEnqueued(q.Name(), cmd)
	return true
}

func canID(id uint32) string {
	return fmt.Sprintf("0x%03X", id)
}
