// Package app wires the ambient lighting daemon together and owns its lifecycle.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/config"
)

const idlePoll = 10 * time.Millisecond

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
	ready    atomic.Bool
	stopped  atomic.Bool
}

// Option configures an App.
type Option func(*settings)

// WithReceiver feeds frames from rx instead of the configured SocketCAN
// interface. The App treats the end of rx as the end of input.
func WithReceiver(rx canbus.Receiver) Option {
	return func(s *settings) {
		s.rx = rx
	}
}

// WithMemoryStrips replaces every configured strip driver with an in-memory strip.
func WithMemoryStrips() Option {
	return func(s *settings) {
		s.memoryStrips = true
	}
}

// Headless disables the HTTP API, the ledger and systemd notifications.
func Headless() Option {
	return func(s *settings) {
		s.headless = true
	}
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}

	st := settings{restart: RequestRestart}
	for _, opt := range opts {
		opt(&st)
	}

	services, err := NewServices(cfg, st, a.ready.Load)
	if err != nil {
		return nil, err
	}
	a.services = services

	return a, nil
}

// Services exposes the service container.
func (a *App) Services() *Services {
	return a.services
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	// Fatal error handler - cancels the app context to trigger shutdown
	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel()
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel()
		return err
	}

	a.ready.Store(true)
	log.Info().
		Str("can", a.cfg.CAN.Interface).
		Str("ambient", a.services.Register.Read().Hex()).
		Msg("ambientd started")
	return nil
}

// Stop gracefully shuts down all services. It is safe to call more than once.
func (a *App) Stop() error {
	if a.stopped.Swap(true) {
		return nil
	}

	log.Info().Msg("Shutting down...")
	a.ready.Store(false)
	a.services.Systemd.Stopping()

	if a.cancel != nil {
		a.cancel()
	}

	return a.services.Stop()
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// RunReplay starts the App, waits until its receiver is exhausted and every
// light has finished animating, then stops it. It returns the final color of
// each channel.
func (a *App) RunReplay(ctx context.Context) (map[string]color.Color, error) {
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return nil, err
	}

	select {
	case <-a.services.CAN.Done():
	case <-a.ctx.Done():
	}

	err := a.services.Lights.WaitIdle(a.ctx, idlePoll)
	a.Stop()
	if err != nil {
		return nil, fmt.Errorf("replay interrupted: %w", err)
	}

	return a.services.Lights.Colors(), nil
}

// RequestRestart asks the service manager for a restart by terminating the
// process gracefully. The unit is expected to run with Restart=always.
func RequestRestart() {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		log.Error().Err(err).Msg("Failed to find own process")
		return
	}

	log.Info().Msg("Sending SIGTERM to trigger restart")
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		log.Error().Err(err).Msg("Failed to send SIGTERM")
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
