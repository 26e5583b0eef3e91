package app

import (
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
	"github.com/dokzlo13/ambientd/internal/eventbus"
	"github.com/dokzlo13/ambientd/internal/interpreter"
	"github.com/dokzlo13/ambientd/internal/metrics"
)

// Event sources.
const (
	sourceCAN    = "can"
	sourceLights = "lights"
)

// telemetry turns engine and interpreter callbacks into metrics and bus
// events. It never blocks: the bus drops events when its queue is full.
type telemetry struct {
	bus    *eventbus.Bus
	queues map[string]*command.Queue
}

func (t *telemetry) publish(typ eventbus.EventType, source string, cmd *command.Command, data map[string]any) {
	if t.bus == nil {
		return
	}

	corr := ""
	if cmd != nil {
		corr = cmd.ID.String()
		data["kind"] = string(cmd.Kind())
		data["color"] = command.TargetColor(cmd.Action).Hex()
		if cmd.ParentID != uuid.Nil {
			data["parent_id"] = cmd.ParentID.String()
		}
	}

	t.bus.Publish(eventbus.Event{
		Type:          typ,
		Source:        source,
		CorrelationID: corr,
		Time:          time.Now(),
		Data:          data,
	})
}

func (t *telemetry) depth(channel string) int {
	if q, ok := t.queues[channel]; ok {
		return q.Len()
	}
	return 0
}

// lightTelemetry observes the animation engines.
type lightTelemetry struct{ *telemetry }

func (t lightTelemetry) CommandExecuted(channel string, cmd *command.Command, final color.Color, elapsed time.Duration) {
	metrics.CommandExecuted(channel, string(cmd.Kind()), final, elapsed, t.depth(channel))
	t.publish(eventbus.EventTypeCommandExecuted, sourceLights, cmd, map[string]any{
		"channel":    channel,
		"final":      final.Hex(),
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (t lightTelemetry) CommandDropped(channel string, cmd *command.Command, err error) {
	metrics.CommandDropped(channel)
	t.publish(eventbus.EventTypeCommandDropped, sourceLights, cmd, map[string]any{
		"channel": channel,
		"error":   err.Error(),
	})
}

// canTelemetry observes the interpreter.
type canTelemetry struct{ *telemetry }

func (t canTelemetry) FrameReceived(f canbus.Frame) {
	metrics.FrameReceived(interpreter.FrameLabel(f))
}

func (t canTelemetry) EdgeDetected(edge interpreter.Edge, f canbus.Frame) {
	metrics.EdgeDetected(string(edge))
	t.publish(eventbus.EventTypeEdge, sourceCAN, nil, map[string]any{
		"edge":  string(edge),
		"frame": f.String(),
	})
}

func (t canTelemetry) CommandEnqueued(channel string, cmd *command.Command) {
	metrics.CommandEnqueued(channel, string(cmd.Kind()), t.depth(channel))
	t.publish(eventbus.EventTypeCommandEnqueued, sourceCAN, cmd, map[string]any{
		"channel": channel,
		"chain":   cmd.ChainLength(),
	})
}

func (t canTelemetry) CommandDropped(channel string, cmd *command.Command, err error) {
	metrics.CommandDropped(channel)
	t.publish(eventbus.EventTypeCommandDropped, sourceCAN, cmd, map[string]any{
		"channel": channel,
		"error":   err.Error(),
	})
}

func (t canTelemetry) ReceiveFailed(err error) {
	metrics.ReceiveFailed()
}
