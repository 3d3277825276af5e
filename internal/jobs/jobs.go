package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/angostura/backend/internal/gateway"
)

// cooldownSweeper is the slice of the dispatcher the sweep job needs.
type cooldownSweeper interface {
	SweepCooldowns() int
}

// RegisterCooldownSweep schedules the periodic cooldown cache sweep.
func RegisterCooldownSweep(m *Manager, d cooldownSweeper) error {
	return m.Register("cooldown-sweep", "@every 5m", func(ctx context.Context) {
		if removed := d.SweepCooldowns(); removed > 0 {
			m.lg.Info("cooldown cache swept", zap.Int("removed", removed))
		}
	})
}

// sessionProbe is the slice of the gateway session the watchdog needs.
type sessionProbe interface {
	Status() gateway.Status
}

// RegisterGatewayWatchdog schedules a periodic health report of the gateway
// session. A session stuck outside READY is the on-call signal to check the
// pairing state or force a reconnect.
func RegisterGatewayWatchdog(m *Manager, s sessionProbe) error {
	return m.Register("gateway-watchdog", "@every 1m", func(ctx context.Context) {
		st := s.Status()
		if st.State == gateway.StateReady {
			return
		}
		m.lg.Warn("gateway session not ready",
			zap.String("state", string(st.State)),
			zap.Time("since", st.Since),
			zap.Int("attempts", st.Attempts),
			zap.String("last_error", st.LastError))
	})
}
