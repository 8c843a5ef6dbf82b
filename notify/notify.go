// Package notify publishes user-scoped application events through the relay.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/plateful/plateful/channel"
)

// Publisher is the relay surface the notifiers need.
type Publisher interface {
	Publish(ctx context.Context, ch string, v any) error
}

// SubscriptionUpdate tells a user's open sessions that their subscription
// tier or entitlements changed.
type SubscriptionUpdate struct {
	UserID    string    `json:"userId"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// VoiceUsage reports voice transcription minutes consumed, so clients can
// refresh quota displays live.
type VoiceUsage struct {
	UserID        string    `json:"userId"`
	MinutesUsed   float64   `json:"minutesUsed"`
	MinutesQuota  float64   `json:"minutesQuota"`
	PeriodEndsAt  time.Time `json:"periodEndsAt"`
	QuotaExceeded bool      `json:"quotaExceeded"`
}

// SubscriptionUpdated publishes a subscription change on the user's
// subscription channel.
func SubscriptionUpdated(ctx context.Context, pub Publisher, update SubscriptionUpdate) error {
	if update.UserID == "" {
		return fmt.Errorf("subscription update requires a user id")
	}
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = time.Now().UTC()
	}
	return pub.Publish(ctx, channel.Subscription(update.UserID), update)
}

// VoiceUsageUpdated publishes a voice usage snapshot on the user's voice
// channel.
func VoiceUsageUpdated(ctx context.Context, pub Publisher, usage VoiceUsage) error {
	if usage.UserID == "" {
		return fmt.Errorf("voice usage requires a user id")
	}
	return pub.Publish(ctx, channel.Voice(usage.UserID), usage)
}
