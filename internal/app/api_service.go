package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/api"
	"github.com/dokzlo13/ambientd/internal/config"
)

// APIService wraps the HTTP control server.
type APIService struct {
	cfg    *config.Config
	Server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, colors api.ColorStore, opts api.Options) *APIService {
	opts.Addr = cfg.HTTP.Addr()
	opts.RateLimitRPS = cfg.HTTP.RateLimitRPS
	opts.RateLimitBurst = cfg.HTTP.RateLimitBurst
	opts.ReadTimeout = cfg.HTTP.ReadTimeout.Duration()
	opts.Metrics = cfg.Metrics.Enabled

	return &APIService{
		cfg:    cfg,
		Server: api.NewServer(colors, opts),
	}
}

// Start runs the server in the background. A listen failure is fatal.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	go func() {
		if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("HTTP API server error")
			onFatalError(err)
		}
	}()
}
