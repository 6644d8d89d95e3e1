package protocol

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Event types emitted by a protocol client, in lifecycle order:
// qr -> authenticated -> ready -> message*.
const (
	EventQR            = "qr"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventMessage       = "message"
)

// Event is the wire form of a protocol-client lifecycle event, published on
// the per-session topic.
type Event struct {
	Type      string    `json:"type"`
	Session   string    `json:"session"`
	Code      string    `json:"code,omitempty"`
	From      string    `json:"from,omitempty"`
	Body      string    `json:"body,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicForSession computes the event topic for one session.
func TopicForSession(name string) string { return "session:" + name }

// PublishEvent marshals the event and publishes it on the session topic.
func PublishEvent(pub message.Publisher, e Event) error {
	if pub == nil {
		return errors.New("publisher is nil")
	}
	if e.Session == "" {
		return errors.New("event has no session")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return pub.Publish(TopicForSession(e.Session), message.NewMessage(uuid.NewString(), payload))
}

// EventFromMessage decodes a watermill message back into an Event.
func EventFromMessage(msg *message.Message) (Event, error) {
	var e Event
	if msg == nil {
		return e, errors.New("message is nil")
	}
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return e, errors.Wrap(err, "decode event json")
	}
	return e, nil
}
