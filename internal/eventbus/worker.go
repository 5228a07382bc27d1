package eventbus

import (
	"context"
	"sync"
)

// Event is one inbound bus event handed to the processor.
type Event struct {
	Topic   string
	Payload []byte
}

// Processor handles one event. It must not be called concurrently.
type Processor func(Event)

// TopicWorker drains events from a set of subscribed topics through one
// bounded queue into a single sequential processor goroutine. Events from the
// same topic keep their arrival order.
type TopicWorker struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartWorker subscribes to the given topics and starts the consumer
// goroutine. Delivery is at-least-once: messages are acked once they are
// queued, so downstream processing must be idempotent.
func (b *Bus) StartWorker(topics []string, process Processor) (*TopicWorker, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &TopicWorker{cancel: cancel}

	queue := make(chan Event, queueSize)

	for _, topic := range topics {
		messages, err := b.sub.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			w.wg.Wait()
			return nil, err
		}

		w.wg.Add(1)
		go func(topic string) {
			defer w.wg.Done()
			for msg := range messages {
				select {
				case queue <- Event{Topic: topic, Payload: msg.Payload}:
					msg.Ack()
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}(topic)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case ev := <-queue:
				process(ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	b.logger.Info().Strs("topics", topics).Msg("topic worker started")

	return w, nil
}

// Close stops the worker and waits for the consumer goroutine to exit. No
// processor call happens after Close returns.
func (w *TopicWorker) Close() {
	w.cancel()
	w.wg.Wait()
}
