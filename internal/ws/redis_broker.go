package ws

import (
	"context"
	"encoding/json"

	"nexthire/backend/pkg/logger"
	"nexthire/backend/pkg/resilience"
)

// PubSub is the transport a RedisBroker publishes on
type PubSub interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}

// RedisBroker fans emits out to every instance over one Redis channel. Publishes go
// through a circuit breaker so a Redis outage degrades to local delivery quickly.
type RedisBroker struct {
	pubsub  PubSub
	channel string
	breaker *resilience.CircuitBreaker
	log     *logger.Logger
}

func NewRedisBroker(pubsub PubSub, channel string, breaker *resilience.CircuitBreaker, log *logger.Logger) *RedisBroker {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &RedisBroker{pubsub: pubsub, channel: channel, breaker: breaker, log: log}
}

// Publish implements Broker
func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if b.breaker == nil {
		return b.pubsub.Publish(ctx, b.channel, payload)
	}
	return b.breaker.Execute(ctx, func(ctx context.Context) error {
		return b.pubsub.Publish(ctx, b.channel, payload)
	})
}

// Subscribe implements Broker
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	payloads, closeSub, err := b.pubsub.Subscribe(ctx, b.channel)
	if err != nil {
		return nil, err
	}

	out := make(chan Envelope, 256)
	go func() {
		defer close(out)
		defer closeSub()
		for payload := range payloads {
			var env Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				b.log.Warn("Dropping malformed broker envelope", "error", err.Error())
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
