package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/ambient"
	"github.com/dokzlo13/ambientd/internal/api"
	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/config"
	"github.com/dokzlo13/ambientd/internal/db"
	"github.com/dokzlo13/ambientd/internal/eventbus"
	"github.com/dokzlo13/ambientd/internal/interpreter"
	"github.com/dokzlo13/ambientd/internal/ledger"
	"github.com/dokzlo13/ambientd/internal/metrics"
)

// settings collects the App options.
type settings struct {
	rx           canbus.Receiver
	memoryStrips bool
	headless     bool
	restart      func()
}

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	Register *ambient.Register
	Bus      *eventbus.Bus
	DB       *db.DB
	Ledger   *ledger.Ledger

	// Command path
	Lights *LightService
	CAN    *CANService

	// Outer surfaces
	API      *APIService
	Recorder *RecorderService
	Systemd  *SystemdNotifier

	canStarted bool
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, st settings, ready func() bool) (*Services, error) {
	s := &Services{
		cfg:      cfg,
		Register: ambient.New(cfg.Ambient.Color()),
		Bus:      eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize()),
		Systemd:  NewSystemdNotifier(!st.headless && cfg.Systemd.NotifyEnabled()),
	}

	// Initialize ledger (opt-in)
	if cfg.Ledger.Enabled && !st.headless {
		database, err := db.Open(cfg.Ledger.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
		s.Recorder = NewRecorderService(cfg.Ledger, s.Ledger, s.Bus)
	}

	tel := &telemetry{bus: s.Bus}

	lights, err := NewLightService(cfg.Lights, st.memoryStrips, lightTelemetry{tel})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Lights = lights
	tel.queues = lights.Queues()

	interp := interpreter.New(
		lights.Channel(ChannelDashboard).Queue,
		lights.Channel(ChannelDoor).Queue,
		s.Register,
		interpreter.WithTiming(cfg.Animation.Timing()),
		interpreter.WithObserver(canTelemetry{tel}),
	)
	s.CAN = NewCANService(cfg.CAN, interp, st.rx)

	if !st.headless {
		opts := api.Options{
			Bus:   s.Bus,
			Ready: ready,
			OTA: api.OTAOptions{
				Enabled:      cfg.OTA.Enabled,
				TargetPath:   cfg.OTA.TargetPath,
				MaxBytes:     int64(cfg.OTA.MaxSizeMB) << 20,
				RestartDelay: cfg.OTA.RestartDelay.Duration(),
				Restart:      st.restart,
			},
		}
		if s.Ledger != nil {
			opts.History = s.Ledger
		}
		s.API = NewAPIService(cfg, s.Register, opts)
	}

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., the bus goes away).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	metrics.AmbientColor(s.Register.Read())

	if s.Recorder != nil {
		s.Recorder.Start(ctx)
	}

	// Engines first so the interpreter never fills a queue nobody drains
	s.Lights.Start(ctx)

	if err := s.CAN.Start(ctx, onFatalError); err != nil {
		return err
	}
	s.canStarted = true

	if s.API != nil {
		s.API.Start(ctx, onFatalError)
	}

	s.Systemd.Ready(ctx)
	return nil
}

// Stop waits for the goroutines to return and releases all resources. The
// context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	if s.CAN != nil {
		s.CAN.Close()
		if s.canStarted {
			<-s.CAN.Done()
		}
	}
	if s.Lights != nil {
		s.Lights.Wait()
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Lights != nil {
		s.Lights.Close()
	}

	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
		if n := s.Bus.Dropped(); n > 0 {
			log.Warn().Uint64("dropped", n).Msg("Telemetry events were dropped")
		}
	}

	if s.Recorder != nil {
		s.Recorder.Close()
	}

	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
