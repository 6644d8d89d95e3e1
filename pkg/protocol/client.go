// Package protocol defines the boundary to the underlying chat transport.
// The gateway treats the transport as an opaque capability: it connects,
// pairs with an external account, emits lifecycle events on a per-session
// topic, and sends outbound messages. Everything else is out of scope.
package protocol

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Identity is the best-effort account info available once a session has
// authenticated.
type Identity struct {
	DisplayName string
	Handle      string
}

// Client is one live connection to the chat transport, owned by exactly one
// session. Implementations publish Events on TopicForSession(name) for the
// session they were built for.
type Client interface {
	// Start begins the pairing handshake. It returns once the handshake is
	// underway; progress surfaces as events.
	Start(ctx context.Context) error

	// Send delivers an outbound message. Transport semantics are
	// fire-and-forget; an error reports only local/submit failure.
	Send(ctx context.Context, to, body string) error

	// Identity reports account info once authenticated. Errors are expected
	// before pairing completes and are tolerated by callers.
	Identity(ctx context.Context) (Identity, error)

	// Destroy releases all transport resources. Idempotent.
	Destroy() error
}

// Factory builds a client for the named session, wired to publish its
// events on the given publisher.
type Factory func(name string, pub message.Publisher) (Client, error)
