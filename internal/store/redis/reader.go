package redis

import (
	"context"
	"fmt"
	"log/slog"
)

// Subscribe streams payloads published on the channel by any instance,
// including this one. The returned channel closes when ctx is cancelled.
// Slow consumers lose messages rather than blocking the subscription.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := p.client.Subscribe(ctx, p.cfg.Channel)
	// Wait for confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", p.cfg.Channel, err)
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					slog.Warn("redis subscriber backlog full, dropping message", "channel", p.cfg.Channel)
				}
			}
		}
	}()
	return out, nil
}
