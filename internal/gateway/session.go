package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the session lifecycle state.
type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateQRPending       State = "QR_PENDING"
	StateAuthenticating  State = "AUTHENTICATING"
	StateReady           State = "READY"
	StateDisconnected    State = "DISCONNECTED"
	StateReconnecting    State = "RECONNECTING"
	StateFailed          State = "FAILED"
)

const (
	defaultDisconnectDelay = 5 * time.Second
	defaultInitDelay       = 10 * time.Second
	defaultMaxAttempts     = 5
)

// Status is a point-in-time snapshot of the session.
type Status struct {
	State     State     `json:"state"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
	QR        string    `json:"qr,omitempty"`
	Attempts  int       `json:"attempts"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(lg *zap.Logger) Option {
	return func(s *Session) { s.lg = lg }
}

// WithReconnectDelays overrides the delays before a reconnect attempt:
// disconnect is used after a lost connection, init after a failed open or
// rejected credentials.
func WithReconnectDelays(disconnect, init time.Duration) Option {
	return func(s *Session) {
		s.disconnectDelay = disconnect
		s.initDelay = init
	}
}

// WithMaxAttempts overrides how many automatic reconnect attempts run before
// the session gives up.
func WithMaxAttempts(n int) Option {
	return func(s *Session) { s.maxAttempts = n }
}

// WithSendRate overrides the outbound throttle shared by resolve and send.
func WithSendRate(limit rate.Limit, burst int) Option {
	return func(s *Session) { s.limiter = rate.NewLimiter(limit, burst) }
}

// Session supervises a Transport: it watches the transport's event stream,
// tracks the lifecycle state and reconnects with a capped retry budget.
// Consecutive failed attempts push the session to StateFailed, where it stays
// until an operator calls ForceReconnect.
type Session struct {
	transport Transport
	lg        *zap.Logger
	limiter   *rate.Limiter

	disconnectDelay time.Duration
	initDelay       time.Duration
	maxAttempts     int

	mu       sync.RWMutex
	state    State
	since    time.Time
	lastErr  string
	lastQR   string
	attempts atomic.Int32

	// reconnecting serializes reconnect cycles: overlapping triggers collapse
	// into the one cycle that wins the swap.
	reconnecting atomic.Bool
	started      atomic.Bool

	// gen identifies the current connection. It is bumped before a teardown
	// and again on connect, so a watcher whose generation no longer matches
	// belongs to a superseded connection and must not trigger another
	// reconnect.
	gen atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession wraps the transport in a supervised session. The session is
// inert until Start is called.
func NewSession(t Transport, opts ...Option) *Session {
	s := &Session{
		transport:       t,
		lg:              zap.NewNop(),
		limiter:         rate.NewLimiter(rate.Limit(1), 3),
		disconnectDelay: defaultDisconnectDelay,
		initDelay:       defaultInitDelay,
		maxAttempts:     defaultMaxAttempts,
		state:           StateUnauthenticated,
		since:           time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the transport and begins supervising it. A failed open is not
// an error for the caller: the session schedules a retry and reports the
// failure through Status.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("gateway: session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	_ = s.connect()
	return nil
}

// Stop cancels supervision, closes the transport and waits for the watcher
// goroutines to drain.
func (s *Session) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.transport.Close(ctx)
	s.wg.Wait()
	s.setState(StateDisconnected, "stopped")
	return err
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the session can resolve and send right now.
func (s *Session) Ready() bool {
	return s.State() == StateReady
}

// Status returns a snapshot for the operator surface.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:     s.state,
		Since:     s.since,
		LastError: s.lastErr,
		QR:        s.lastQR,
		Attempts:  int(s.attempts.Load()),
	}
}

// Resolve maps a phone number to a gateway recipient identifier. It fails
// with ErrNotReady unless the session is ready.
func (s *Session) Resolve(ctx context.Context, phone string) (string, error) {
	if !s.Ready() {
		return "", ErrNotReady
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return s.transport.ResolveRecipient(ctx, phone)
}

// Send delivers a text message to a previously resolved recipient. It fails
// with ErrNotReady unless the session is ready.
func (s *Session) Send(ctx context.Context, recipientID, text string) error {
	if !s.Ready() {
		return ErrNotReady
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return s.transport.Send(ctx, recipientID, text)
}

// ForceReconnect resets the retry budget and starts a reconnect cycle. This
// is the operator escape hatch out of StateFailed. On a session that was
// never started it is a no-op.
func (s *Session) ForceReconnect(ctx context.Context) {
	if !s.started.Load() {
		return
	}
	s.attempts.Store(0)
	s.setState(StateReconnecting, "")
	s.gen.Add(1)
	_ = s.transport.Close(ctx)
	s.reconnect()
}

func (s *Session) connect() error {
	events, err := s.transport.Open(s.ctx)
	if err != nil {
		s.lg.Warn("gateway open failed", zap.Error(err))
		s.setState(StateDisconnected, err.Error())
		s.scheduleReconnect(s.initDelay)
		return err
	}
	s.setState(StateUnauthenticated, "")
	gen := s.gen.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(events, gen)
	}()
	return nil
}

func (s *Session) watch(events <-chan Event, gen uint64) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if s.stale(gen) {
					return
				}
				s.lg.Warn("gateway event stream closed")
				s.setState(StateDisconnected, "event stream closed")
				s.scheduleReconnect(s.disconnectDelay)
				return
			}
			if done := s.handle(ev, gen); done {
				return
			}
		}
	}
}

// stale reports whether gen belongs to a superseded connection.
func (s *Session) stale(gen uint64) bool {
	return s.gen.Load() != gen
}

// handle applies one event; it reports true when the connection is over and
// the watcher should exit.
func (s *Session) handle(ev Event, gen uint64) bool {
	switch ev.Kind {
	case EventQR:
		s.lg.Info("gateway pairing code received, scan to authenticate")
		s.setQR(ev.QR)
		s.setState(StateQRPending, "")
	case EventAuthenticated:
		s.lg.Info("gateway authenticated")
		s.setQR("")
		s.setState(StateAuthenticating, "")
	case EventReady:
		s.lg.Info("gateway ready")
		s.attempts.Store(0)
		s.setQR("")
		s.setState(StateReady, "")
	case EventAuthFailure:
		if s.stale(gen) {
			return true
		}
		s.lg.Error("gateway authentication failed", zap.String("reason", ev.Reason))
		s.setState(StateDisconnected, ev.Reason)
		s.gen.Add(1)
		_ = s.transport.Close(s.ctx)
		s.scheduleReconnect(s.initDelay)
		return true
	case EventDisconnected:
		if s.stale(gen) {
			return true
		}
		s.lg.Warn("gateway disconnected", zap.String("reason", ev.Reason))
		s.setState(StateDisconnected, ev.Reason)
		s.gen.Add(1)
		_ = s.transport.Close(s.ctx)
		s.scheduleReconnect(s.disconnectDelay)
		return true
	}
	return false
}

func (s *Session) scheduleReconnect(delay time.Duration) {
	if s.State() == StateFailed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
		}
		s.reconnect()
	}()
}

// reconnect runs a single attempt. The attempt counter is incremented only
// inside the cycle that wins the reconnecting swap, so overlapping triggers
// cannot burn the budget.
func (s *Session) reconnect() {
	if !s.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer s.reconnecting.Store(false)

	if s.ctx.Err() != nil {
		return
	}
	// Nothing to do if a later trigger already brought the session back, and
	// no automatic retries once failed.
	if st := s.State(); st == StateReady || st == StateFailed {
		return
	}

	attempt := int(s.attempts.Add(1))
	if attempt > s.maxAttempts {
		s.lg.Error("gateway reconnect budget exhausted, giving up",
			zap.Int("max_attempts", s.maxAttempts))
		s.setState(StateFailed, "reconnect attempts exhausted")
		return
	}

	s.lg.Info("gateway reconnecting",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", s.maxAttempts))
	s.setState(StateReconnecting, "")
	_ = s.connect()
}

func (s *Session) setState(st State, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == st && s.lastErr == reason {
		return
	}
	s.state = st
	s.lastErr = reason
	s.since = time.Now()
}

func (s *Session) setQR(qr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQR = qr
}
