package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
	"github.com/dokzlo13/ambientd/internal/config"
	"github.com/dokzlo13/ambientd/internal/engine"
	"github.com/dokzlo13/ambientd/internal/strip"
)

// Channel names.
const (
	ChannelDashboard = "dashboard"
	ChannelDoor      = "door"
)

// Channel is one light: its strip, its queue and the engine that owns both.
type Channel struct {
	Name   string
	Strip  strip.Strip
	Queue  *command.Queue
	Engine *engine.Engine
}

// LightService owns the light channels and runs one engine goroutine each.
type LightService struct {
	channels []*Channel
	wg       sync.WaitGroup
}

// NewLightService opens every strip. A strip that cannot be opened fails startup.
func NewLightService(lights config.LightsConfig, memoryStrips bool, observer engine.Observer) (*LightService, error) {
	s := &LightService{}

	for _, def := range []struct {
		name string
		cfg  config.StripConfig
	}{
		{ChannelDashboard, lights.Dashboard},
		{ChannelDoor, lights.Door},
	} {
		opts := def.cfg.Options()
		if memoryStrips {
			opts.Driver = strip.DriverMemory
		}

		st, err := strip.Open(def.name, opts)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s strip: %w", def.name, err)
		}

		queue := command.NewQueue(def.name)
		s.channels = append(s.channels, &Channel{
			Name:   def.name,
			Strip:  st,
			Queue:  queue,
			Engine: engine.New(def.name, queue, st, engine.WithObserver(observer)),
		})
	}

	return s, nil
}

// Channel returns the channel with the given name, or nil.
func (s *LightService) Channel(name string) *Channel {
	for _, ch := range s.channels {
		if ch.Name == name {
			return ch
		}
	}
	return nil
}

// Queues returns every channel queue by name.
func (s *LightService) Queues() map[string]*command.Queue {
	queues := make(map[string]*command.Queue, len(s.channels))
	for _, ch := range s.channels {
		queues[ch.Name] = ch.Queue
	}
	return queues
}

// Start launches the engines. They stop when ctx is cancelled.
func (s *LightService) Start(ctx context.Context) {
	for _, ch := range s.channels {
		s.wg.Add(1)
		go func(ch *Channel) {
			defer s.wg.Done()
			if err := ch.Engine.Run(ctx); err != nil {
				log.Error().Err(err).Str("channel", ch.Name).Msg("Animation engine error")
			}
		}(ch)
	}
}

// Idle reports whether every engine is idle. Channels are checked in chain
// order, so a command forwarded from the dashboard is counted on the door
// before it stops counting on the dashboard.
func (s *LightService) Idle() bool {
	for _, ch := range s.channels {
		if !ch.Engine.Idle() {
			return false
		}
	}
	return true
}

// WaitIdle blocks until every engine is idle.
func (s *LightService) WaitIdle(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for !s.Idle() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Wait blocks until every engine goroutine has returned.
func (s *LightService) Wait() {
	s.wg.Wait()
}

// Colors returns each channel's current color. Call only after Wait.
func (s *LightService) Colors() map[string]color.Color {
	colors := make(map[string]color.Color, len(s.channels))
	for _, ch := range s.channels {
		colors[ch.Name] = ch.Engine.Current()
	}
	return colors
}

// Close turns every strip off and releases it.
func (s *LightService) Close() {
	for _, ch := range s.channels {
		if err := ch.Strip.Clear(); err != nil {
			log.Warn().Err(err).Str("channel", ch.Name).Msg("Failed to clear strip")
		}
		if err := ch.Strip.Close(); err != nil {
			log.Warn().Err(err).Str("channel", ch.Name).Msg("Failed to close strip")
		}
	}
}
