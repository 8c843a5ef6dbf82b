package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/plateful/plateful/channel"
	"github.com/plateful/plateful/relay"
)

// PatternSubscriber is the relay surface the bridge needs. *relay.Client
// satisfies it; tests substitute an in-memory fake.
type PatternSubscriber interface {
	PatternSubscribe(ctx context.Context, pattern string, handler relay.Handler) error
}

// Bridge subscribes once per channel prefix and resolves each relayed message
// to the topic's live connection set. Malformed channels and payloads are
// logged and dropped, never propagated to other connections.
type Bridge struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics
}

// NewBridge creates a relay bridge over the registry.
func NewBridge(registry *Registry, logger *slog.Logger, metrics *Metrics) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{registry: registry, logger: logger, metrics: metrics}
}

// Start establishes one pattern subscription per channel prefix. Message
// delivery continues in the background until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context, sub PatternSubscriber) error {
	for _, prefix := range channel.Prefixes() {
		if err := sub.PatternSubscribe(ctx, channel.Pattern(prefix), b.handle); err != nil {
			return fmt.Errorf("bridge subscribe %s: %w", prefix, err)
		}
	}
	return nil
}

// handle routes one relayed message. Never panics the relay loop: every
// malformed input is dropped with a log line.
func (b *Bridge) handle(ch string, payload []byte) {
	prefix, id, err := channel.Split(ch)
	if err != nil {
		b.drop("relay", fmt.Sprintf("unroutable channel %q", ch))
		return
	}

	if b.metrics != nil {
		b.metrics.relayMessages.WithLabelValues(prefix).Inc()
	}

	switch prefix {
	case channel.PrefixSubscription:
		b.registry.BroadcastToUser(id, channel.ServerMessage{
			Type:    channel.TypeSubscriptionUpdated,
			UserID:  id,
			Payload: json.RawMessage(payload),
		})

	case channel.PrefixVoice:
		b.registry.BroadcastToUser(id, channel.ServerMessage{
			Type:    channel.TypeVoiceUsage,
			UserID:  id,
			Payload: json.RawMessage(payload),
		})

	case channel.PrefixRecipe:
		b.relayProgress(channel.TypeRecipeProgress, id, payload)

	case channel.PrefixPantry:
		b.relayProgress(channel.TypePantryProgress, id, payload)

	case channel.PrefixMealplan:
		b.relayProgress(channel.TypeMealplanProgress, id, payload)

	case channel.PrefixJob:
		b.relayJobEvent(id, payload)

	default:
		b.drop("relay", fmt.Sprintf("unknown channel prefix %q", prefix))
	}
}

func (b *Bridge) relayProgress(msgType, jobID string, payload []byte) {
	var progress channel.ProgressMessage
	if err := json.Unmarshal(payload, &progress); err != nil {
		b.drop("relay", fmt.Sprintf("bad progress payload on %s:%s", msgType, jobID))
		return
	}

	b.registry.BroadcastToJob(jobID, channel.ServerMessage{
		Type:     msgType,
		JobID:    jobID,
		Progress: &progress,
	})
}

func (b *Bridge) relayJobEvent(jobID string, payload []byte) {
	var event channel.JobEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.drop("relay", fmt.Sprintf("bad job event payload for %s", jobID))
		return
	}

	msg := channel.ServerMessage{JobID: jobID, Result: event.Result, Error: event.Error}
	switch event.EventType {
	case channel.EventCompleted:
		msg.Type = channel.TypeJobCompleted
	case channel.EventFailed:
		msg.Type = channel.TypeJobFailed
	default:
		b.drop("relay", fmt.Sprintf("unknown job event type %q for %s", event.EventType, jobID))
		return
	}

	b.registry.BroadcastToJob(jobID, msg)
}

func (b *Bridge) drop(source, reason string) {
	b.logger.Warn("dropped message", "source", source, "reason", reason)
	if b.metrics != nil {
		b.metrics.protocolErrors.WithLabelValues(source).Inc()
	}
}
