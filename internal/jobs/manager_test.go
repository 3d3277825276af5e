package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManagerRunsRegisteredJob(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	var runs atomic.Int32
	require.NoError(t, m.Register("tick", "@every 50ms", func(ctx context.Context) {
		runs.Add(1)
	}))

	m.Start()
	defer m.Stop(context.Background())

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerRejectsBadSpec(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.Error(t, m.Register("broken", "not a spec", func(ctx context.Context) {}))
}

func TestManagerStopWaitsForJobs(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.Register("slow", "@every 10ms", func(ctx context.Context) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	}))

	m.Start()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.Stop(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, m.Stop(context.Background()))
}

func TestManagerRecoversPanickingJob(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))

	var runs atomic.Int32
	require.NoError(t, m.Register("flaky", "@every 20ms", func(ctx context.Context) {
		runs.Add(1)
		panic("boom")
	}))

	m.Start()
	defer m.Stop(context.Background())

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}
