package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"
)

func newTestPubSub(t *testing.T, session string) (*gochannel.GoChannel, <-chan *message.Message) {
	t.Helper()
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ch.Close() })
	msgs, err := ch.Subscribe(context.Background(), TopicForSession(session))
	require.NoError(t, err)
	return ch, msgs
}

func nextEvent(t *testing.T, msgs <-chan *message.Message) Event {
	t.Helper()
	select {
	case msg := <-msgs:
		e, err := EventFromMessage(msg)
		require.NoError(t, err)
		msg.Ack()
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSimClient_StartEmitsPairingCode(t *testing.T) {
	pub, msgs := newTestPubSub(t, "alice")
	c := NewSimClient("alice", pub, SimOptions{})
	require.NoError(t, c.Start(context.Background()))

	e := nextEvent(t, msgs)
	require.Equal(t, EventQR, e.Type)
	require.Equal(t, "alice", e.Session)
	require.NotEmpty(t, e.Code)
	require.False(t, e.Timestamp.IsZero())
}

func TestSimClient_PairEmitsAuthenticatedThenReady(t *testing.T) {
	pub, msgs := newTestPubSub(t, "alice")
	c := NewSimClient("alice", pub, SimOptions{})
	require.NoError(t, c.Start(context.Background()))
	nextEvent(t, msgs)

	require.NoError(t, c.Pair())
	require.Equal(t, EventAuthenticated, nextEvent(t, msgs).Type)
	require.Equal(t, EventReady, nextEvent(t, msgs).Type)

	// Pairing twice is a no-op.
	require.NoError(t, c.Pair())
}

func TestSimClient_IdentityAfterPairing(t *testing.T) {
	pub, msgs := newTestPubSub(t, "alice")
	c := NewSimClient("alice", pub, SimOptions{})
	require.NoError(t, c.Start(context.Background()))
	nextEvent(t, msgs)

	_, err := c.Identity(context.Background())
	require.Error(t, err)

	require.NoError(t, c.Pair())
	id, err := c.Identity(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Sim alice", id.DisplayName)
	require.Equal(t, "alice@sim", id.Handle)
}

func TestSimClient_DeliverAndSend(t *testing.T) {
	pub, msgs := newTestPubSub(t, "alice")
	c := NewSimClient("alice", pub, SimOptions{})
	require.NoError(t, c.Start(context.Background()))
	nextEvent(t, msgs)

	require.NoError(t, c.Deliver("bob@sim", "hello"))
	e := nextEvent(t, msgs)
	require.Equal(t, EventMessage, e.Type)
	require.Equal(t, "bob@sim", e.From)
	require.Equal(t, "hello", e.Body)

	require.NoError(t, c.Send(context.Background(), "bob@sim", "hi back"))
	require.Error(t, c.Send(context.Background(), "", "no recipient"))
	sent := c.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, SimSentMessage{To: "bob@sim", Body: "hi back"}, sent[0])
}

func TestSimClient_DestroyStopsEverything(t *testing.T) {
	pub, msgs := newTestPubSub(t, "alice")
	c := NewSimClient("alice", pub, SimOptions{AutoPairAfter: time.Hour})
	require.NoError(t, c.Start(context.Background()))
	nextEvent(t, msgs)

	require.NoError(t, c.Destroy())
	require.NoError(t, c.Destroy())
	require.Error(t, c.Start(context.Background()))
	require.Error(t, c.Pair())
	require.Error(t, c.Deliver("x", "y"))
	require.Error(t, c.Send(context.Background(), "x", "y"))
}

func TestSimClient_AutoPair(t *testing.T) {
	pub, msgs := newTestPubSub(t, "alice")
	c := NewSimClient("alice", pub, SimOptions{AutoPairAfter: 20 * time.Millisecond})
	require.NoError(t, c.Start(context.Background()))

	require.Equal(t, EventQR, nextEvent(t, msgs).Type)
	require.Equal(t, EventAuthenticated, nextEvent(t, msgs).Type)
	require.Equal(t, EventReady, nextEvent(t, msgs).Type)
}

func TestPublishEvent_Validation(t *testing.T) {
	require.Error(t, PublishEvent(nil, Event{Session: "s"}))

	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ch.Close() })
	require.Error(t, PublishEvent(ch, Event{Type: EventQR}))
}
