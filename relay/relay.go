// Package relay adapts a Redis connection into the thin pub/sub surface the
// pipeline needs: fire-and-forget publish and pattern subscribe.
//
// Delivery is at-most-once. Messages published while no subscriber is connected
// are lost; every consumer in the pipeline is written to tolerate gaps. go-redis
// re-establishes dropped broker connections transparently, including pattern
// subscriptions, so reconnection is invisible to callers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/redis/go-redis/v9"
)

// Handler receives one message delivered on a matched channel.
type Handler func(ch string, payload []byte)

// Client wraps a single process-wide Redis connection for publish and
// pattern-subscribe. Safe for concurrent use.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a relay client over an existing Redis connection.
func New(rdb *redis.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, logger: logger}
}

// Publish marshals v as JSON and publishes it on the channel. There is no
// acknowledgment; a returned error means the publish never reached the broker.
func (c *Client) Publish(ctx context.Context, ch string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", ch, err)
	}
	if err := c.rdb.Publish(ctx, ch, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", ch, err)
	}
	return nil
}

// PatternSubscribe subscribes to a channel pattern and invokes handler for each
// delivered message until ctx is cancelled. It returns once the subscription is
// confirmed by the broker; delivery then continues on a background goroutine.
// A panic in the handler is logged and does not tear down the subscription.
func (c *Client) PatternSubscribe(ctx context.Context, pattern string, handler Handler) error {
	ps := c.rdb.PSubscribe(ctx, pattern)

	// Wait for the subscription confirmation so callers know the pattern is
	// live before they publish.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe to %s: %w", pattern, err)
	}

	go c.receiveLoop(ctx, pattern, ps, handler)
	return nil
}

func (c *Client) receiveLoop(ctx context.Context, pattern string, ps *redis.PubSub, handler Handler) {
	defer func() {
		if err := ps.Close(); err != nil {
			c.logger.Debug("close pattern subscription", "pattern", pattern, "error", err)
		}
	}()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.dispatch(pattern, msg.Channel, []byte(msg.Payload), handler)
		}
	}
}

// dispatch guards handler invocation. One bad message must not tear down the
// subscription for every other channel under the pattern.
func (c *Client) dispatch(pattern, ch string, payload []byte, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			c.logger.Error("relay handler panic",
				"pattern", pattern,
				"channel", ch,
				"panic", r,
				"stack", string(buf[:n]))
		}
	}()
	handler(ch, payload)
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
