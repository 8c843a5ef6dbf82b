package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/plateful/plateful/job"
	"github.com/plateful/plateful/llm"
)

// HandleFunc processes one dequeued job. A transient error NAKs the message so
// JetStream redelivers it (up to the consumer's delivery cap); a fatal error
// terms it since redelivery cannot succeed; nil acks it.
type HandleFunc func(ctx context.Context, j job.Job) error

// Consumer pulls jobs from the work queue and dispatches them to a handler.
type Consumer struct {
	nc      *nats.Conn
	durable string
	logger  *slog.Logger

	// MaxDeliver bounds redelivery attempts per job. Defaults to 3.
	MaxDeliver int

	// AckWait must cover the slowest job, model calls included.
	AckWait time.Duration
}

// NewConsumer creates a queue consumer with the given durable name.
func NewConsumer(nc *nats.Conn, durable string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		nc:         nc,
		durable:    durable,
		logger:     logger,
		MaxDeliver: 3,
		AckWait:    10 * time.Minute,
	}
}

// Run consumes jobs until ctx is cancelled. Each job is handled on its own
// goroutine; jobs for different ids never share mutable state.
func (c *Consumer) Run(ctx context.Context, handle HandleFunc) error {
	js, err := jetstream.New(c.nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}

	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       c.durable,
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.AckWait,
		MaxDeliver:    c.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", c.durable, err)
	}

	c.logger.Info("job consumer started", "stream", StreamName, "durable", c.durable)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Debug("fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			go c.handleMessage(ctx, msg, handle)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg jetstream.Msg, handle HandleFunc) {
	if ctx.Err() != nil {
		if err := msg.Nak(); err != nil {
			c.logger.Warn("nak during shutdown", "error", err)
		}
		return
	}

	var j job.Job
	if err := json.Unmarshal(msg.Data(), &j); err != nil {
		// A job that never parses will never parse on redelivery either.
		c.logger.Error("drop unparseable job", "subject", msg.Subject(), "error", err)
		if err := msg.Term(); err != nil {
			c.logger.Warn("term message", "error", err)
		}
		return
	}

	if err := handle(ctx, j); err != nil {
		// Fatal errors (bad payload, unknown type, loop exhaustion) fail the
		// same way on every delivery. The terminal event is already out, so
		// redelivering would only re-run model calls and duplicate it.
		if llm.IsFatal(err) {
			c.logger.Error("job failed permanently", "job_id", j.ID, "error", err)
			if err := msg.Term(); err != nil {
				c.logger.Warn("term message", "job_id", j.ID, "error", err)
			}
			return
		}
		c.logger.Warn("job handler failed, requesting redelivery", "job_id", j.ID, "error", err)
		if err := msg.Nak(); err != nil {
			c.logger.Warn("nak message", "job_id", j.ID, "error", err)
		}
		return
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("ack message", "job_id", j.ID, "error", err)
	}
}
