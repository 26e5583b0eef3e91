package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/ambientd/internal/batch"
	"github.com/dokzlo13/ambientd/internal/config"
	"github.com/dokzlo13/ambientd/internal/eventbus"
	"github.com/dokzlo13/ambientd/internal/ledger"
)

// RecorderService writes every telemetry event into the ledger in batches
// and prunes entries past the retention period.
type RecorderService struct {
	cfg     config.LedgerConfig
	ledger  *ledger.Ledger
	bus     *eventbus.Bus
	pending *batch.Collector[ledger.Record]
}

// NewRecorderService creates a new RecorderService.
func NewRecorderService(cfg config.LedgerConfig, l *ledger.Ledger, bus *eventbus.Bus) *RecorderService {
	s := &RecorderService{cfg: cfg, ledger: l, bus: bus}
	s.pending = batch.New[ledger.Record](cfg.BatchSize, cfg.FlushInterval.Duration(), s.write)
	return s
}

// Start subscribes to the bus and launches the retention loop.
func (s *RecorderService) Start(ctx context.Context) {
	for _, t := range eventbus.AllEventTypes {
		s.bus.Subscribe(t, s.record)
	}

	if s.cfg.RetentionDays > 0 {
		go s.runCleanup(ctx)
	}
}

func (s *RecorderService) record(event eventbus.Event) {
	channel, _ := event.Data["channel"].(string)

	at := event.Time
	if at.IsZero() {
		at = time.Now()
	}

	s.pending.Add(ledger.Record{
		At:            at,
		EventType:     ledger.EventType(event.Type),
		CorrelationID: event.CorrelationID,
		Source:        event.Source,
		Channel:       channel,
		Payload:       event.Data,
	})
}

func (s *RecorderService) write(records []ledger.Record) {
	if err := s.ledger.AppendBatch(records); err != nil {
		log.Error().Err(err).Int("events", len(records)).Msg("Failed to record events")
	}
}

// Close writes any pending events. Call after the bus has been drained.
func (s *RecorderService) Close() {
	s.pending.Close()
}

// runCleanup periodically deletes old ledger entries.
func (s *RecorderService) runCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
	interval := s.cfg.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
