package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/angostura/backend/internal/gateway"
)

type fakeSender struct {
	mu         sync.Mutex
	ready      bool
	resolveErr error
	sendErr    map[string]error

	resolves []string
	sends    map[string][]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		ready:   true,
		sendErr: make(map[string]error),
		sends:   make(map[string][]string),
	}
}

func (f *fakeSender) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSender) Resolve(ctx context.Context, phone string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, phone)
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return phone + "@chat", nil
}

func (f *fakeSender) Send(ctx context.Context, recipientID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[recipientID]; err != nil {
		return err
	}
	f.sends[recipientID] = append(f.sends[recipientID], text)
	return nil
}

func (f *fakeSender) resolveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resolves)
}

func (f *fakeSender) sentTo(recipientID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[recipientID]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDispatcher(t *testing.T, sender Sender, clock *testClock) *Dispatcher {
	t.Helper()
	return NewDispatcher(sender,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.Now),
	)
}

func TestDispatcherSendHappyPath(t *testing.T) {
	sender := newFakeSender()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	d := newTestDispatcher(t, sender, clock)

	ok := d.Send(context.Background(), "5215512345678", "hola")
	require.True(t, ok)
	require.Equal(t, []string{"hola"}, sender.sentTo("5215512345678@chat"))
}

func TestDispatcherNormalizesPhone(t *testing.T) {
	sender := newFakeSender()
	clock := &testClock{now: time.Now()}
	d := newTestDispatcher(t, sender, clock)

	// Formatted national number gets stripped and prefixed.
	require.True(t, d.Send(context.Background(), "(55) 1234-5678", "hola"))
	require.Equal(t, []string{"525512345678"}, sender.resolves)

	// Already-prefixed numbers pass through.
	require.True(t, d.Send(context.Background(), "+52 55 1234 5678", "hola"))
	require.Equal(t, "525512345678", sender.resolves[1])
}

func TestDispatcherDropsWithoutDigits(t *testing.T) {
	sender := newFakeSender()
	clock := &testClock{now: time.Now()}
	d := newTestDispatcher(t, sender, clock)

	require.False(t, d.Send(context.Background(), "---", "hola"))
	require.Zero(t, sender.resolveCount())
}

func TestDispatcherNotReady(t *testing.T) {
	sender := newFakeSender()
	sender.ready = false
	clock := &testClock{now: time.Now()}
	d := newTestDispatcher(t, sender, clock)

	require.False(t, d.Send(context.Background(), "5215512345678", "hola"))
	require.Zero(t, sender.resolveCount())
}

func TestDispatcherUnregisteredRecipient(t *testing.T) {
	sender := newFakeSender()
	sender.resolveErr = gateway.ErrUnregistered
	clock := &testClock{now: time.Now()}
	d := newTestDispatcher(t, sender, clock)

	require.False(t, d.Send(context.Background(), "5215512345678", "hola"))
	require.Empty(t, sender.sends)
}

func TestDispatcherCodeCooldown(t *testing.T) {
	sender := newFakeSender()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	d := newTestDispatcher(t, sender, clock)

	require.True(t, d.SendCode(context.Background(), "5512345678", "123456"))
	require.Equal(t, 1, sender.resolveCount())

	// Inside the window the code is suppressed before the gateway is touched.
	clock.Advance(30 * time.Second)
	require.False(t, d.SendCode(context.Background(), "5512345678", "654321"))
	require.Equal(t, 1, sender.resolveCount())

	// After the window it goes out again.
	clock.Advance(31 * time.Second)
	require.True(t, d.SendCode(context.Background(), "5512345678", "654321"))
	require.Equal(t, 2, sender.resolveCount())
}

func TestDispatcherCooldownOnlyAfterSuccess(t *testing.T) {
	sender := newFakeSender()
	sender.sendErr["525512345678@chat"] = errors.New("page crashed")
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	d := newTestDispatcher(t, sender, clock)

	require.False(t, d.SendCode(context.Background(), "5512345678", "123456"))

	// The failed delivery must not start a cooldown.
	sender.mu.Lock()
	delete(sender.sendErr, "525512345678@chat")
	sender.mu.Unlock()
	require.True(t, d.SendCode(context.Background(), "5512345678", "123456"))
}

func TestDispatcherCooldownDoesNotGateRegularMessages(t *testing.T) {
	sender := newFakeSender()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	d := newTestDispatcher(t, sender, clock)

	require.True(t, d.SendCode(context.Background(), "5512345678", "123456"))
	require.True(t, d.Send(context.Background(), "5512345678", "tu pedido va en camino"))
	assert.Len(t, sender.sentTo("525512345678@chat"), 2)
}
