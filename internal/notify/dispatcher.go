// Package notify turns domain events into chat messages. Delivery is best
// effort: every failure is absorbed, logged and counted, never propagated to
// the caller.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/angostura/backend/internal/gateway"
)

const (
	codeCooldown   = 60 * time.Second
	cooldownMaxAge = 5 * time.Minute
	defaultPrefix  = "52"
	nationalDigits = 10
)

// Sender is the gateway surface the dispatcher needs.
type Sender interface {
	Ready() bool
	Resolve(ctx context.Context, phone string) (string, error)
	Send(ctx context.Context, recipientID, text string) error
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(lg *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.lg = lg }
}

// WithCountryPrefix sets the prefix prepended to bare national numbers.
func WithCountryPrefix(prefix string) DispatcherOption {
	return func(d *Dispatcher) { d.countryPrefix = prefix }
}

// WithClock overrides the time source, used by tests to drive the cooldown.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher sends chat messages through the gateway session. Verification
// codes are additionally rate limited per phone number.
type Dispatcher struct {
	sender        Sender
	lg            *zap.Logger
	countryPrefix string
	now           func() time.Time
	cooldown      *cooldownCache

	sent    metric.Int64Counter
	dropped metric.Int64Counter
}

// NewDispatcher wires a dispatcher on top of the gateway sender.
func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:        sender,
		lg:            zap.NewNop(),
		countryPrefix: defaultPrefix,
		now:           time.Now,
		cooldown:      newCooldownCache(codeCooldown, cooldownMaxAge),
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := otel.GetMeterProvider().Meter("angostura.notify")
	d.sent, _ = meter.Int64Counter("notify.messages.sent")
	d.dropped, _ = meter.Int64Counter("notify.messages.dropped")
	return d
}

// Send delivers a plain notification to the phone number. It reports whether
// the message went out; a false return was already logged and counted.
func (d *Dispatcher) Send(ctx context.Context, phone, text string) bool {
	return d.send(ctx, phone, text, false)
}

// SendCode delivers a verification code. At most one code per phone number
// goes out per cooldown window; a send inside the window is dropped.
func (d *Dispatcher) SendCode(ctx context.Context, phone, code string) bool {
	return d.send(ctx, phone, VerificationCode(code), true)
}

// SweepCooldowns drops stale cooldown entries and returns how many were
// removed. Runs on a schedule in addition to the per-send sweep, so the
// cache shrinks even while nothing is being sent.
func (d *Dispatcher) SweepCooldowns() int {
	return d.cooldown.Sweep(d.now())
}

func (d *Dispatcher) send(ctx context.Context, phone, text string, isCode bool) bool {
	defer d.cooldown.Sweep(d.now())

	if !d.sender.Ready() {
		d.drop(ctx, phone, "gateway_not_ready", nil)
		return false
	}

	normalized := d.normalize(phone)
	if normalized == "" {
		d.drop(ctx, phone, "invalid_phone", nil)
		return false
	}

	if isCode && d.cooldown.Active(normalized, d.now()) {
		d.lg.Info("verification code suppressed by cooldown", zap.String("phone", normalized))
		d.count(ctx, d.dropped, "cooldown")
		return false
	}

	recipient, err := d.sender.Resolve(ctx, normalized)
	if err != nil {
		reason := "resolve_error"
		if errors.Is(err, gateway.ErrUnregistered) {
			reason = "unregistered"
		}
		d.drop(ctx, normalized, reason, err)
		return false
	}

	if err := d.sender.Send(ctx, recipient, text); err != nil {
		d.drop(ctx, normalized, "send_error", err)
		return false
	}

	if isCode {
		d.cooldown.Record(normalized, d.now())
	}
	d.count(ctx, d.sent, "")
	return true
}

// normalize strips everything but digits and prepends the country prefix to
// bare national numbers.
func (d *Dispatcher) normalize(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if len(digits) == nationalDigits {
		return d.countryPrefix + digits
	}
	return digits
}

func (d *Dispatcher) drop(ctx context.Context, phone, reason string, err error) {
	d.lg.Warn("message dropped",
		zap.String("phone", phone),
		zap.String("reason", reason),
		zap.Error(err))
	d.count(ctx, d.dropped, reason)
}

func (d *Dispatcher) count(ctx context.Context, c metric.Int64Counter, reason string) {
	if c == nil {
		return
	}
	if reason == "" {
		c.Add(ctx, 1)
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
