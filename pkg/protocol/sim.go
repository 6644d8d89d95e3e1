package protocol

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SimOptions configures the simulated transport.
type SimOptions struct {
	// AutoPairAfter pairs the session automatically after the delay. Zero
	// disables auto-pairing; callers drive Pair themselves.
	AutoPairAfter time.Duration
	// DisplayName/Handle override the identity reported after pairing.
	DisplayName string
	Handle      string
}

// SimClient is an in-process stand-in for the real chat transport. It walks
// the same lifecycle (qr -> authenticated -> ready -> message) and is used
// by the serve command's default wiring and by tests.
type SimClient struct {
	name string
	pub  message.Publisher
	opts SimOptions

	mu        sync.Mutex
	code      string
	paired    bool
	destroyed bool
	pairTimer *time.Timer
	sent      []SimSentMessage
}

// SimSentMessage records one outbound Send for inspection.
type SimSentMessage struct {
	To   string
	Body string
}

func NewSimClient(name string, pub message.Publisher, opts SimOptions) *SimClient {
	return &SimClient{name: name, pub: pub, opts: opts}
}

// NewSimFactory returns a Factory producing simulated clients.
func NewSimFactory(opts SimOptions) Factory {
	return func(name string, pub message.Publisher) (Client, error) {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("sim client: empty session name")
		}
		if pub == nil {
			return nil, errors.New("sim client: publisher is nil")
		}
		return NewSimClient(name, pub, opts), nil
	}
}

func (c *SimClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errors.New("sim client: destroyed")
	}
	c.code = "SIM-" + uuid.NewString()[:8]
	code := c.code
	if c.opts.AutoPairAfter > 0 && c.pairTimer == nil {
		c.pairTimer = time.AfterFunc(c.opts.AutoPairAfter, func() {
			if err := c.Pair(); err != nil {
				log.Debug().Err(err).Str("component", "sim").Str("session", c.name).Msg("auto-pair skipped")
			}
		})
	}
	c.mu.Unlock()

	return PublishEvent(c.pub, Event{Type: EventQR, Session: c.name, Code: code})
}

// Pair simulates the user scanning the pairing code. It emits authenticated
// followed by ready, matching real transport ordering.
func (c *SimClient) Pair() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errors.New("sim client: destroyed")
	}
	if c.paired {
		c.mu.Unlock()
		return nil
	}
	c.paired = true
	c.mu.Unlock()

	if err := PublishEvent(c.pub, Event{Type: EventAuthenticated, Session: c.name}); err != nil {
		return err
	}
	return PublishEvent(c.pub, Event{Type: EventReady, Session: c.name})
}

// Deliver injects an inbound message as if the external account received it.
func (c *SimClient) Deliver(from, body string) error {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return errors.New("sim client: destroyed")
	}
	return PublishEvent(c.pub, Event{Type: EventMessage, Session: c.name, From: from, Body: body})
}

func (c *SimClient) Send(_ context.Context, to, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return errors.New("sim client: destroyed")
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("sim client: empty recipient")
	}
	c.sent = append(c.sent, SimSentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of all outbound messages submitted so far.
func (c *SimClient) Sent() []SimSentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SimSentMessage(nil), c.sent...)
}

func (c *SimClient) Identity(_ context.Context) (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paired {
		return Identity{}, errors.New("sim client: not paired")
	}
	id := Identity{DisplayName: c.opts.DisplayName, Handle: c.opts.Handle}
	if id.DisplayName == "" {
		id.DisplayName = "Sim " + c.name
	}
	if id.Handle == "" {
		id.Handle = c.name + "@sim"
	}
	return id, nil
}

func (c *SimClient) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	c.destroyed = true
	if c.pairTimer != nil {
		c.pairTimer.Stop()
		c.pairTimer = nil
	}
	return nil
}
