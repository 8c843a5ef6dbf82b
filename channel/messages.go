package channel

import "encoding/json"

// Stage names shared by both job operations. Operation-specific stages live
// alongside the operations that publish them.
const (
	StageQueued    = "queued"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// Job event types carried on the job:<jobId> channel.
const (
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// ProgressMessage is an incremental status update for one job, published on the
// operation's job-scoped channel after every stage transition. Progress is a
// percentage and never regresses within a single job's stream.
type ProgressMessage struct {
	JobID    string          `json:"jobId"`
	Stage    string          `json:"stage"`
	Progress int             `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// JobEvent is the single terminal notification for a job, published on the
// job:<jobId> channel after the final progress message. Exactly one event is
// published per job.
type JobEvent struct {
	EventType string          `json:"eventType"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Client-to-gateway message types.
const (
	TypeSubscribeUser   = "subscribe.user"
	TypeSubscribeJob    = "subscribe.job"
	TypeUnsubscribeUser = "unsubscribe.user"
	TypeUnsubscribeJob  = "unsubscribe.job"
	TypePing            = "ping"
)

// Gateway-to-client message types.
const (
	TypePong                = "pong"
	TypeError               = "error"
	TypeSubscriptionUpdated = "subscription.updated"
	TypeVoiceUsage          = "voice.usage"
	TypeRecipeProgress      = "recipe.extraction.progress"
	TypePantryProgress      = "pantry.progress"
	TypeMealplanProgress    = "mealplan.progress"
	TypeJobCompleted        = "job.completed"
	TypeJobFailed           = "job.failed"
)

// ClientMessage is a tagged message from a websocket client to the gateway.
type ClientMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId,omitempty"`
	JobID  string `json:"jobId,omitempty"`
}

// ServerMessage is a tagged message from the gateway to a websocket client.
// Progress carries the relayed ProgressMessage for the *.progress types,
// Payload carries the raw broker payload for subscription/voice updates, and
// Result/Error carry the terminal job outcome.
type ServerMessage struct {
	Type     string           `json:"type"`
	UserID   string           `json:"userId,omitempty"`
	JobID    string           `json:"jobId,omitempty"`
	Message  string           `json:"message,omitempty"`
	Progress *ProgressMessage `json:"progress,omitempty"`
	Payload  json.RawMessage  `json:"payload,omitempty"`
	Result   json.RawMessage  `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}
