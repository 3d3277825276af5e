// Package gateway maintains a long-lived session against a chat gateway and
// exposes a small send surface to the rest of the service.
package gateway

import (
	"context"

	"github.com/go-faster/errors"
)

// EventKind identifies a lifecycle signal emitted by a Transport.
type EventKind int

const (
	// EventQR carries a pairing code that has to be scanned by an operator.
	EventQR EventKind = iota + 1
	// EventAuthenticated means credentials were accepted; the transport is
	// still loading and not yet able to send.
	EventAuthenticated
	// EventReady means the transport can resolve recipients and send.
	EventReady
	// EventAuthFailure means the stored credentials were rejected.
	EventAuthFailure
	// EventDisconnected means an established connection was lost.
	EventDisconnected
)

// Event is a lifecycle signal from the underlying transport.
type Event struct {
	Kind EventKind
	// QR holds the pairing payload for EventQR.
	QR string
	// Reason describes EventAuthFailure and EventDisconnected.
	Reason string
}

var (
	// ErrNotReady is returned by send operations while the session is not in
	// the ready state.
	ErrNotReady = errors.New("gateway: session not ready")
	// ErrUnregistered is returned by Transport.ResolveRecipient when the
	// phone number has no account on the gateway.
	ErrUnregistered = errors.New("gateway: recipient not registered")
)

// Transport is a single connection attempt to the chat gateway. Open starts
// the connection and returns its event stream; the stream ends when the
// connection dies. A Transport must support being reopened after Close.
type Transport interface {
	Open(ctx context.Context) (<-chan Event, error)
	ResolveRecipient(ctx context.Context, phone string) (string, error)
	Send(ctx context.Context, recipientID, text string) error
	Close(ctx context.Context) error
}
