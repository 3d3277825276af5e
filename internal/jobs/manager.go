// Package jobs runs the service's recurring background tasks on a cron
// schedule.
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Manager owns the cron scheduler and the registered jobs.
type Manager struct {
	cron *cron.Cron
	lg   *zap.Logger
}

// NewManager creates an empty scheduler.
func NewManager(lg *zap.Logger) *Manager {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Manager{
		cron: cron.New(),
		lg:   lg,
	}
}

// Register adds a named job. The spec uses the standard cron format,
// including "@every" durations.
func (m *Manager) Register(name, spec string, fn func(ctx context.Context)) error {
	lg := m.lg.With(zap.String("job", name))
	_, err := m.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				lg.Error("job panicked", zap.Any("panic", r))
			}
		}()
		fn(context.Background())
	})
	if err != nil {
		return err
	}
	lg.Info("job registered", zap.String("spec", spec))
	return nil
}

// Start launches the scheduler.
func (m *Manager) Start() {
	m.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	done := m.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
