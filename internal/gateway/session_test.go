package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

type fakeTransport struct {
	blockOpen time.Duration
	// closeStream mimics transports that close their event channel when the
	// connection is torn down.
	closeStream bool

	mu       sync.Mutex
	failOpen bool
	opens    int
	closes   int
	events   chan Event
	sent     []string
	resolved []string
}

func (t *fakeTransport) Open(ctx context.Context) (<-chan Event, error) {
	if t.blockOpen > 0 {
		time.Sleep(t.blockOpen)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.failOpen {
		return nil, errors.New("boot failure")
	}
	t.events = make(chan Event, 8)
	return t.events, nil
}

func (t *fakeTransport) ResolveRecipient(ctx context.Context, phone string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolved = append(t.resolved, phone)
	return phone + "@chat", nil
}

func (t *fakeTransport) Send(ctx context.Context, recipientID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, recipientID+": "+text)
	return nil
}

func (t *fakeTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	if t.closeStream && t.events != nil {
		close(t.events)
		t.events = nil
	}
	return nil
}

func (t *fakeTransport) emit(ev Event) {
	t.mu.Lock()
	ch := t.events
	t.mu.Unlock()
	ch <- ev
}

func (t *fakeTransport) setFailOpen(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failOpen = v
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func newTestSession(t *testing.T, tr Transport) *Session {
	t.Helper()
	return NewSession(tr,
		WithLogger(zaptest.NewLogger(t)),
		WithReconnectDelays(5*time.Millisecond, 10*time.Millisecond),
		WithSendRate(rate.Inf, 1),
	)
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, 2*time.Second, time.Millisecond, "state never became %s, got %s", want, s.State())
}

func TestSessionAuthenticationFlow(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Equal(t, StateUnauthenticated, s.State())
	require.False(t, s.Ready())

	tr.emit(Event{Kind: EventQR, QR: "pairing-payload"})
	waitState(t, s, StateQRPending)
	assert.Equal(t, "pairing-payload", s.Status().QR)

	tr.emit(Event{Kind: EventAuthenticated})
	waitState(t, s, StateAuthenticating)

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)
	assert.True(t, s.Ready())
	assert.Empty(t, s.Status().QR)
}

func TestSessionStartedTwice(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	require.Error(t, s.Start(context.Background()))
}

func TestSessionSendRequiresReady(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	err := s.Send(context.Background(), "rcpt", "hola")
	require.ErrorIs(t, err, ErrNotReady)
	_, err = s.Resolve(context.Background(), "5215512345678")
	require.ErrorIs(t, err, ErrNotReady)
	require.Zero(t, tr.sentCount())

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)

	require.NoError(t, s.Send(context.Background(), "rcpt", "hola"))
	require.Equal(t, 1, tr.sentCount())
}

func TestSessionReconnectsAfterDisconnect(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)

	tr.emit(Event{Kind: EventDisconnected, Reason: "network"})
	waitState(t, s, StateDisconnected)

	// A fresh open happens after the disconnect delay.
	require.Eventually(t, func() bool {
		return tr.openCount() == 2
	}, 2*time.Second, time.Millisecond)

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)
	assert.Equal(t, 0, s.Status().Attempts, "a successful connection resets the budget")
}

func TestSessionOverlappingTriggersRunOneCycle(t *testing.T) {
	tr := &fakeTransport{blockOpen: 50 * time.Millisecond}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	before := tr.openCount()

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.reconnect()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, before+1, tr.openCount(), "overlapping triggers must collapse into one attempt")
	assert.Equal(t, 1, s.Status().Attempts)
}

func TestSessionFailsAfterExhaustedBudget(t *testing.T) {
	tr := &fakeTransport{failOpen: true}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	waitState(t, s, StateFailed)

	// Initial open plus one open per attempt within the budget; the attempt
	// past the budget gives up without opening.
	require.Equal(t, defaultMaxAttempts+1, tr.openCount())
	assert.Equal(t, "reconnect attempts exhausted", s.Status().LastError)

	// No further automatic retries once failed.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, defaultMaxAttempts+1, tr.openCount())
}

func TestSessionForceReconnectBeforeStart(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr)

	s.ForceReconnect(context.Background())

	require.Equal(t, StateUnauthenticated, s.State())
	require.Zero(t, tr.openCount())
}

func TestSessionForceReconnectIgnoresDyingStream(t *testing.T) {
	tr := &fakeTransport{closeStream: true}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)

	s.ForceReconnect(context.Background())
	require.Eventually(t, func() bool {
		return tr.openCount() == 2
	}, 2*time.Second, time.Millisecond)

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)

	// The torn-down stream's death must not burn an attempt against the
	// fresh connection.
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 2, tr.openCount())
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 0, s.Status().Attempts)
}

func TestSessionForceReconnectRecovers(t *testing.T) {
	tr := &fakeTransport{failOpen: true}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	waitState(t, s, StateFailed)

	tr.setFailOpen(false)
	s.ForceReconnect(context.Background())

	waitState(t, s, StateUnauthenticated)
	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)
	assert.Equal(t, 0, s.Status().Attempts)
}

func TestSessionStopEndsSupervision(t *testing.T) {
	tr := &fakeTransport{}
	s := newTestSession(t, tr)
	require.NoError(t, s.Start(context.Background()))

	tr.emit(Event{Kind: EventReady})
	waitState(t, s, StateReady)

	require.NoError(t, s.Stop(context.Background()))
	require.Equal(t, StateDisconnected, s.State())

	opens := tr.openCount()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, opens, tr.openCount(), "no reconnects after stop")
}
