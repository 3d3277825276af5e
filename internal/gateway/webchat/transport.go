// Package webchat drives the browser-based chat client through a headless
// Chrome instance and adapts it to the gateway.Transport contract.
package webchat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/angostura/backend/internal/gateway"
)

// Config holds the browser settings for a webchat transport.
type Config struct {
	// URL is the address of the web chat client.
	URL string
	// DataDir is the Chrome profile directory. Authentication state lives
	// here, so a paired session survives restarts.
	DataDir string
	// Headless runs Chrome without a display. Disable locally to scan the
	// pairing code straight from the browser window.
	Headless bool
	// PollInterval is how often the page is probed for lifecycle changes.
	PollInterval time.Duration
}

// Page probes evaluated inside the chat client. The client renders exactly
// one of these surfaces at a time.
const (
	probeStateJS = `(() => {
		const qr = document.querySelector('[data-ref]');
		if (qr) return 'qr:' + qr.getAttribute('data-ref');
		if (document.querySelector('#side [role="grid"]')) return 'ready';
		if (document.querySelector('[data-animate-modal-popup]')) return 'auth_failure';
		if (document.querySelector('#initial_startup, .landing-window')) return 'loading';
		return 'unknown';
	})()`

	resolveRecipientJSFmt = `(() => {
		const store = window.__chat_internal_store;
		if (!store) return '';
		const contact = store.Contact.get(%q + '@c.us');
		return contact && contact.isRegistered ? contact.id._serialized : '';
	})()`

	sendMessageJSFmt = `(() => {
		const store = window.__chat_internal_store;
		if (!store) return false;
		const chat = store.Chat.get(%q);
		if (!chat) return false;
		store.SendTextMsgToChat(chat, %q);
		return true;
	})()`
)

var _ gateway.Transport = (*Transport)(nil)

// Transport is a reopenable browser connection to the chat client. Each Open
// starts a fresh Chrome context against the persisted profile; Close tears
// the browser down and leaves the profile on disk.
type Transport struct {
	cfg Config
	lg  *zap.Logger

	mu         sync.Mutex
	browserCtx context.Context
	cancels    []context.CancelFunc
	pollDone   chan struct{}
}

// New creates a webchat transport. Nothing is started until Open.
func New(cfg Config, lg *zap.Logger) *Transport {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Transport{cfg: cfg, lg: lg}
}

// Open launches Chrome, navigates to the chat client and starts probing the
// page. Lifecycle changes are delivered on the returned channel, which is
// closed when the browser dies or Close is called.
func (t *Transport) Open(ctx context.Context) (<-chan gateway.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browserCtx != nil {
		return nil, errors.New("webchat: already open")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(t.cfg.DataDir),
		chromedp.Flag("headless", t.cfg.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx, chromedp.Navigate(t.cfg.URL)); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, errors.Wrap(err, "navigate to chat client")
	}

	t.browserCtx = browserCtx
	t.cancels = []context.CancelFunc{cancelBrowser, cancelAlloc}
	t.pollDone = make(chan struct{})

	events := make(chan gateway.Event, 8)
	go t.poll(browserCtx, events, t.pollDone)
	return events, nil
}

// poll probes the page on a fixed interval and translates surface changes
// into transport events. It deduplicates: only changes are emitted.
func (t *Transport) poll(ctx context.Context, events chan<- gateway.Event, done chan struct{}) {
	defer close(events)
	defer close(done)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	var last gateway.Event
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var surface string
		if err := chromedp.Run(ctx, chromedp.Evaluate(probeStateJS, &surface)); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.lg.Warn("webchat probe failed", zap.Error(err))
			events <- gateway.Event{Kind: gateway.EventDisconnected, Reason: err.Error()}
			return
		}

		ev, ok := t.translate(surface)
		if !ok || ev == last {
			continue
		}
		last = ev
		events <- ev
		if ev.Kind == gateway.EventAuthFailure {
			return
		}
	}
}

func (t *Transport) translate(surface string) (gateway.Event, bool) {
	switch {
	case strings.HasPrefix(surface, "qr:"):
		return gateway.Event{Kind: gateway.EventQR, QR: strings.TrimPrefix(surface, "qr:")}, true
	case surface == "loading":
		return gateway.Event{Kind: gateway.EventAuthenticated}, true
	case surface == "ready":
		return gateway.Event{Kind: gateway.EventReady}, true
	case surface == "auth_failure":
		return gateway.Event{Kind: gateway.EventAuthFailure, Reason: "client rejected stored credentials"}, true
	default:
		return gateway.Event{}, false
	}
}

// ResolveRecipient asks the chat client whether the phone number has an
// account and returns its chat identifier.
func (t *Transport) ResolveRecipient(ctx context.Context, phone string) (string, error) {
	browserCtx, err := t.current()
	if err != nil {
		return "", err
	}

	var id string
	script := fmt.Sprintf(resolveRecipientJSFmt, phone)
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(script, &id)); err != nil {
		return "", errors.Wrapf(err, "resolve %q", phone)
	}
	if id == "" {
		return "", gateway.ErrUnregistered
	}
	return id, nil
}

// Send delivers a text message through the chat client.
func (t *Transport) Send(ctx context.Context, recipientID, text string) error {
	browserCtx, err := t.current()
	if err != nil {
		return err
	}

	var ok bool
	script := fmt.Sprintf(sendMessageJSFmt, recipientID, text)
	if err := chromedp.Run(browserCtx, chromedp.Evaluate(script, &ok)); err != nil {
		return errors.Wrapf(err, "send to %q", recipientID)
	}
	if !ok {
		return errors.Errorf("webchat: no chat for recipient %q", recipientID)
	}
	return nil
}

// Close tears the browser down. The profile directory is kept, so the next
// Open reuses the paired session.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	cancels := t.cancels
	done := t.pollDone
	t.browserCtx = nil
	t.cancels = nil
	t.pollDone = nil
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Transport) current() (context.Context, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browserCtx == nil {
		return nil, errors.New("webchat: not open")
	}
	return t.browserCtx, nil
}
