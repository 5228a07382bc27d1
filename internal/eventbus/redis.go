package eventbus

import (
	"context"
	"fmt"

	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/leolani/chatui/internal/config"
)

// NewRedis creates a bus backed by Redis Streams so the agent side can run in
// a separate process. The consumer group keeps at-least-once delivery across
// restarts.
func NewRedis(cfg config.RedisConfig, logger zerolog.Logger) (*Bus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	marshaller := rstream.DefaultMarshallerUnmarshaller{}
	wlogger := newWatermillLogger(logger)

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaller,
	}, wlogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaller,
		ConsumerGroup: cfg.Group,
		Consumer:      cfg.Consumer,
	}, wlogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}

	return &Bus{
		pub:    pub,
		sub:    sub,
		logger: logger,
		closers: []func() error{
			pub.Close,
			sub.Close,
			client.Close,
		},
	}, nil
}
