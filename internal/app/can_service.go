package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/canbus"
	"github.com/dokzlo13/ambientd/internal/config"
	"github.com/dokzlo13/ambientd/internal/interpreter"
)

// CANService feeds bus frames into the interpreter.
type CANService struct {
	cfg         config.CANConfig
	Interpreter *interpreter.Interpreter

	rx     canbus.Receiver
	finite bool
	done   chan struct{}
}

// NewCANService creates the service. A nil receiver means the configured
// SocketCAN interface is opened on Start.
func NewCANService(cfg config.CANConfig, interp *interpreter.Interpreter, rx canbus.Receiver) *CANService {
	return &CANService{
		cfg:         cfg,
		Interpreter: interp,
		rx:          rx,
		finite:      rx != nil,
		done:        make(chan struct{}),
	}
}

// Start opens the bus if needed and runs the receive loop in the background.
// A receive loop that ends on its own on a live bus is reported as fatal.
func (s *CANService) Start(ctx context.Context, onFatalError func(error)) error {
	if s.rx == nil {
		rx, err := canbus.OpenSocketCAN(ctx, s.cfg.Interface)
		if err != nil {
			return err
		}
		s.rx = rx
	}

	go func() {
		defer close(s.done)
		if err := s.Interpreter.Run(ctx, s.rx, s.cfg.ReceiveTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("CAN interpreter error")
		}
		if ctx.Err() == nil && !s.finite {
			onFatalError(errors.New("CAN receive loop ended"))
		}
	}()

	return nil
}

// Done is closed when the receive loop has returned.
func (s *CANService) Done() <-chan struct{} {
	return s.done
}

// Close closes the receiver, which ends the receive loop.
func (s *CANService) Close() {
	if s.rx == nil {
		return
	}
	if err := s.rx.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close CAN receiver")
	}
}
