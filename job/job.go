// Package job defines the asynchronous job model and the stage executor that
// drives a job through its operation's stages, publishing progress on the
// operation's channel and a single terminal event on the job channel.
package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/plateful/plateful/channel"
)

// Type identifies a job operation.
type Type string

// Supported operation types.
const (
	TypeIngredientParse  Type = "ingredient_parse"
	TypeMealplanGenerate Type = "mealplan_generate"
)

// Status is a job lifecycle state. Jobs only move forward:
// pending, then running, then completed or failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StatusForStage maps a published stage name onto the lifecycle state.
// Operation-specific stages (analyzing, planning, ...) are all running.
func StatusForStage(stage string) Status {
	switch stage {
	case channel.StageQueued:
		return StatusPending
	case channel.StageCompleted:
		return StatusCompleted
	case channel.StageFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

// Job is one unit of asynchronous work, consumed exactly once by a worker.
type Job struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	UserID     string          `json:"userId"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Publisher is the relay surface the executor needs. *relay.Client satisfies
// it; tests substitute a recorder.
type Publisher interface {
	Publish(ctx context.Context, ch string, v any) error
}
