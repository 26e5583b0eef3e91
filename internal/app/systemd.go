package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
)

// SystemdNotifier reports lifecycle state to the service manager. Outside
// systemd every call is a no-op.
type SystemdNotifier struct {
	enabled bool
}

// NewSystemdNotifier creates a notifier.
func NewSystemdNotifier(enabled bool) *SystemdNotifier {
	return &SystemdNotifier{enabled: enabled}
}

// Ready sends READY=1 and starts the watchdog pinger if the unit has one.
func (n *SystemdNotifier) Ready(ctx context.Context) {
	if !n.notify(daemon.SdNotifyReady) {
		return
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
		return
	}
	if interval <= 0 {
		return
	}

	log.Debug().Dur("interval", interval/2).Msg("Starting systemd watchdog pinger")
	go n.runWatchdog(ctx, interval/2)
}

// Stopping sends STOPPING=1.
func (n *SystemdNotifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

func (n *SystemdNotifier) runWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}

func (n *SystemdNotifier) notify(state string) bool {
	if !n.enabled {
		return false
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("systemd notify failed")
		return false
	}
	return sent
}
