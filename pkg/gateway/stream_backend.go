package gateway

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/redisstream"
)

// StreamBackend wraps event transport setup (in-memory or redis) and
// exposes publisher/subscriber construction for session event streams.
type StreamBackend interface {
	Publisher() message.Publisher
	// BuildSubscriber returns the subscriber the gateway's own event reader
	// consumes from. The boolean reports whether the caller owns closing it.
	BuildSubscriber(ctx context.Context, name string) (message.Subscriber, bool, error)
	// BuildFeedSubscriber returns a subscriber for an observer feed of the
	// named session's topic. A feed must see the full event stream without
	// competing with the gateway reader for delivery.
	BuildFeedSubscriber(ctx context.Context, name string) (message.Subscriber, bool, error)
	Close() error
}

// NewStreamBackend selects the transport: in-memory gochannel by default,
// Redis Streams when settings enable it.
func NewStreamBackend(settings redisstream.Settings) (StreamBackend, error) {
	if settings.Enabled {
		pub, err := redisstream.BuildPublisher(settings)
		if err != nil {
			return nil, errors.Wrap(err, "build redis publisher")
		}
		return &redisStreamBackend{settings: settings, pub: pub}, nil
	}
	ch := gochannel.NewGoChannel(gochannel.Config{}, redisstream.NewWatermillLogger(log.Logger))
	return &goChannelBackend{ch: ch}, nil
}

type goChannelBackend struct {
	ch *gochannel.GoChannel
}

func (b *goChannelBackend) Publisher() message.Publisher { return b.ch }

func (b *goChannelBackend) BuildSubscriber(_ context.Context, name string) (message.Subscriber, bool, error) {
	if name == "" {
		return nil, false, errors.New("session name is empty")
	}
	return b.ch, false, nil
}

// gochannel fans each message out to every subscription, so feeds share the
// channel with the gateway reader without stealing from it.
func (b *goChannelBackend) BuildFeedSubscriber(ctx context.Context, name string) (message.Subscriber, bool, error) {
	return b.BuildSubscriber(ctx, name)
}

func (b *goChannelBackend) Close() error { return b.ch.Close() }

type redisStreamBackend struct {
	settings redisstream.Settings
	pub      message.Publisher
}

func (b *redisStreamBackend) Publisher() message.Publisher { return b.pub }

func (b *redisStreamBackend) BuildSubscriber(ctx context.Context, name string) (message.Subscriber, bool, error) {
	if name == "" {
		return nil, false, errors.New("session name is empty")
	}
	if err := redisstream.EnsureGroupAtTail(ctx, b.settings, protocol.TopicForSession(name), ""); err != nil {
		log.Warn().Err(err).Str("session", name).Msg("could not ensure redis consumer group")
	}
	sub, err := redisstream.BuildGroupSubscriber(b.settings, "", "reader:"+name)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// Each feed gets a consumer group of its own so it never splits delivery
// with the gateway reader's group.
func (b *redisStreamBackend) BuildFeedSubscriber(ctx context.Context, name string) (message.Subscriber, bool, error) {
	if name == "" {
		return nil, false, errors.New("session name is empty")
	}
	sub, err := redisstream.BuildFeedSubscriber(ctx, b.settings, protocol.TopicForSession(name))
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (b *redisStreamBackend) Close() error { return b.pub.Close() }
