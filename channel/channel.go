// Package channel defines the pub/sub channel naming convention and the message
// envelopes shared by the worker (publisher) and the gateway (subscriber).
//
// Channel names are "<prefix>:<id>". The gateway subscribes once per prefix with
// a "<prefix>:*" pattern instead of subscribing per job or per user, so channel
// churn as jobs come and go never translates into subscription churn.
package channel

import "fmt"

// Channel prefixes. These never change at runtime; the relay bridge routes
// inbound broker messages by prefix.
const (
	PrefixSubscription = "subscription"
	PrefixVoice        = "voice"
	PrefixRecipe       = "recipe"
	PrefixPantry       = "pantry"
	PrefixMealplan     = "mealplan"
	PrefixJob          = "job"
)

// Prefixes lists every channel prefix the gateway relays.
func Prefixes() []string {
	return []string{
		PrefixSubscription,
		PrefixVoice,
		PrefixRecipe,
		PrefixPantry,
		PrefixMealplan,
		PrefixJob,
	}
}

// Subscription returns the billing-subscription channel for a user.
func Subscription(userID string) string { return PrefixSubscription + ":" + userID }

// Voice returns the voice-usage channel for a user.
func Voice(userID string) string { return PrefixVoice + ":" + userID }

// Recipe returns the recipe-extraction progress channel for a job.
func Recipe(jobID string) string { return PrefixRecipe + ":" + jobID }

// Pantry returns the pantry ingredient-parse progress channel for a job.
func Pantry(jobID string) string { return PrefixPantry + ":" + jobID }

// Mealplan returns the meal-plan generation progress channel for a job.
func Mealplan(jobID string) string { return PrefixMealplan + ":" + jobID }

// Job returns the terminal-event channel for a job.
func Job(jobID string) string { return PrefixJob + ":" + jobID }

// Pattern returns the wildcard pattern matching every channel under a prefix.
func Pattern(prefix string) string { return prefix + ":*" }

// Split extracts the prefix and trailing id from a channel name. A missing or
// empty id segment is a protocol violation; callers drop the message and log
// rather than crash the relay loop.
func Split(ch string) (prefix, id string, err error) {
	for i := 0; i < len(ch); i++ {
		if ch[i] == ':' {
			prefix, id = ch[:i], ch[i+1:]
			if prefix == "" || id == "" {
				return "", "", fmt.Errorf("malformed channel %q", ch)
			}
			return prefix, id, nil
		}
	}
	return "", "", fmt.Errorf("channel %q has no id segment", ch)
}
