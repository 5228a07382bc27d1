// Package eventbus wraps the watermill publisher/subscriber pair used to talk
// to the agent side, and runs the single sequential topic worker that drains
// inbound events.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// queueSize bounds the inbound fan-in queue of the topic worker.
const queueSize = 256

// Bus is a thin JSON codec over a watermill publisher/subscriber pair.
type Bus struct {
	pub     message.Publisher
	sub     message.Subscriber
	logger  zerolog.Logger
	closers []func() error
}

// NewInMemory creates a bus backed by in-process go channels. Suitable for
// single-process deployments and tests.
func NewInMemory(logger zerolog.Logger) *Bus {
	ps := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: queueSize},
		newWatermillLogger(logger),
	)

	return &Bus{
		pub:     ps,
		sub:     ps,
		logger:  logger,
		closers: []func() error{ps.Close},
	}
}

// Publish marshals payload as JSON and sends it to topic, fire-and-forget.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for topic %s: %w", topic, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)

	if err := b.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

// Close releases the underlying transport.
func (b *Bus) Close() error {
	var firstErr error
	for _, close := range b.closers {
		if err := close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
