// Package redisstream wires Watermill's Redis Streams transport for the
// gateway event bus.
package redisstream

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings holds Redis Streams transport configuration.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func (s Settings) withDefaults() Settings {
	if s.Addr == "" {
		s.Addr = "localhost:6379"
	}
	if s.Group == "" {
		s.Group = "chatwire"
	}
	if s.Consumer == "" {
		s.Consumer = "gateway-1"
	}
	return s
}

// BuildPublisher constructs a Redis Streams publisher.
func BuildPublisher(s Settings) (message.Publisher, error) {
	s = s.withDefaults()
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	return rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: rstream.DefaultMarshallerUnmarshaller{},
	}, NewWatermillLogger(log.Logger))
}

// BuildGroupSubscriber returns a subscriber bound to the given consumer
// group and consumer name. Empty arguments fall back to the configured
// defaults.
func BuildGroupSubscriber(s Settings, group, consumer string) (message.Subscriber, error) {
	s = s.withDefaults()
	if group == "" {
		group = s.Group
	}
	if consumer == "" {
		consumer = s.Consumer
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	return rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  rstream.DefaultMarshallerUnmarshaller{},
		ConsumerGroup: group,
		Consumer:      consumer,
	}, NewWatermillLogger(log.Logger))
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail ($)
// if it doesn't exist. This prevents full historical replay on first
// subscribe.
func EnsureGroupAtTail(ctx context.Context, s Settings, stream, group string) error {
	s = s.withDefaults()
	if group == "" {
		group = s.Group
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		// BUSYGROUP means the group already exists.
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// BuildFeedSubscriber returns a subscriber with a single-use consumer group
// of its own. Redis delivers each stream entry to one consumer per group,
// so observer feeds must never join the group the primary reader consumes
// from. Closing the subscriber destroys the group again.
func BuildFeedSubscriber(ctx context.Context, s Settings, stream string) (message.Subscriber, error) {
	s = s.withDefaults()
	group := "feed:" + stream + ":" + uuid.NewString()[:8]
	if err := EnsureGroupAtTail(ctx, s, stream, group); err != nil {
		return nil, err
	}
	sub, err := BuildGroupSubscriber(s, group, "feed")
	if err != nil {
		return nil, err
	}
	return &feedSubscriber{Subscriber: sub, settings: s, stream: stream, group: group}, nil
}

type feedSubscriber struct {
	message.Subscriber
	settings Settings
	stream   string
	group    string
}

func (f *feedSubscriber) Close() error {
	err := f.Subscriber.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := redis.NewClient(&redis.Options{Addr: f.settings.Addr})
	defer func() { _ = client.Close() }()
	if derr := client.XGroupDestroy(ctx, f.stream, f.group).Err(); derr != nil {
		log.Warn().Err(derr).Str("stream", f.stream).Str("group", f.group).Msg("could not destroy feed consumer group")
	}
	return err
}
