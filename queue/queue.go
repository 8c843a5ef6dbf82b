// Package queue moves jobs between the enqueuing application and the worker
// over a NATS JetStream work queue. The queue is the durable side of the
// pipeline: messages are acked explicitly and redelivered a bounded number of
// times, while all progress reporting flows through the lossy relay.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/plateful/plateful/job"
)

const (
	// StreamName is the JetStream stream holding pending jobs.
	StreamName = "PLATEFUL_JOBS"

	// subjectPrefix roots every job subject; one subject per operation type.
	subjectPrefix = "jobs."
)

// Subject returns the queue subject for an operation type.
func Subject(t job.Type) string {
	return subjectPrefix + string(t)
}

// Producer enqueues jobs.
type Producer struct {
	js jetstream.JetStream
}

// NewProducer creates a producer over an existing NATS connection and ensures
// the job stream exists.
func NewProducer(ctx context.Context, nc *nats.Conn) (*Producer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}

	return &Producer{js: js}, nil
}

// Enqueue publishes a job to the work queue. A missing job ID is assigned.
func (p *Producer) Enqueue(ctx context.Context, j job.Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	if _, err := p.js.Publish(ctx, Subject(j.Type), data); err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", j.ID, err)
	}
	return j.ID, nil
}
