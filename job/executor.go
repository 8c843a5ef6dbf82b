package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/plateful/plateful/channel"
)

// Operation implements one job type. Execute returns the operation result,
// which the executor embeds in the final completed progress message and the
// terminal job event. Intermediate stages are reported through progress.
type Operation interface {
	Type() Type

	// ProgressChannel returns the job-scoped channel progress is published on.
	ProgressChannel(jobID string) string

	Execute(ctx context.Context, j Job, progress *Progress) (result any, err error)
}

// Executor runs jobs through their operation, publishing progress after each
// stage and exactly one terminal event per job.
//
// On failure the terminal sequence is: failed progress message on the
// operation channel, then a failed event on the job channel, then the error is
// returned so the queue decides retry policy. On success: completed progress
// message carrying the result, then a completed event. Consumers must not
// assume atomicity between the two channels.
type Executor struct {
	pub     Publisher
	tracker Tracker
	logger  *slog.Logger
	metrics *Metrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetrics enables job metrics.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor publishing through pub and tracking through
// tracker.
func NewExecutor(pub Publisher, tracker Tracker, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if tracker == nil {
		tracker = NoopTracker{}
	}
	e := &Executor{pub: pub, tracker: tracker, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one job. The returned error is the operation's own error,
// re-raised after the terminal messages are published.
func (e *Executor) Run(ctx context.Context, op Operation, j Job) error {
	logger := e.logger.With("job_id", j.ID, "type", op.Type())
	progress := &Progress{
		pub:     e.pub,
		tracker: e.tracker,
		logger:  logger,
		channel: op.ProgressChannel(j.ID),
		jobID:   j.ID,
	}

	started := time.Now()
	logger.Info("job started", "user_id", j.UserID)

	result, err := op.Execute(ctx, j, progress)
	if err != nil {
		progress.publish(ctx, channel.ProgressMessage{
			JobID:    j.ID,
			Stage:    channel.StageFailed,
			Progress: progress.last,
			Error:    err.Error(),
		})
		e.publishEvent(ctx, j.ID, channel.JobEvent{
			EventType: channel.EventFailed,
			Error:     err.Error(),
		})
		if e.metrics != nil {
			e.metrics.observe(op.Type(), channel.EventFailed, time.Since(started))
		}
		logger.Error("job failed", "error", err, "duration", time.Since(started))
		return err
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		// A result that cannot be serialized is a terminal failure too.
		merr = fmt.Errorf("marshal result: %w", merr)
		progress.publish(ctx, channel.ProgressMessage{
			JobID:    j.ID,
			Stage:    channel.StageFailed,
			Progress: progress.last,
			Error:    merr.Error(),
		})
		e.publishEvent(ctx, j.ID, channel.JobEvent{
			EventType: channel.EventFailed,
			Error:     merr.Error(),
		})
		if e.metrics != nil {
			e.metrics.observe(op.Type(), channel.EventFailed, time.Since(started))
		}
		return merr
	}

	progress.publish(ctx, channel.ProgressMessage{
		JobID:    j.ID,
		Stage:    channel.StageCompleted,
		Progress: 100,
		Result:   raw,
	})
	e.publishEvent(ctx, j.ID, channel.JobEvent{
		EventType: channel.EventCompleted,
		Result:    raw,
	})
	if e.metrics != nil {
		e.metrics.observe(op.Type(), channel.EventCompleted, time.Since(started))
	}

	logger.Info("job completed", "duration", time.Since(started))
	return nil
}

func (e *Executor) publishEvent(ctx context.Context, jobID string, event channel.JobEvent) {
	if err := e.pub.Publish(ctx, channel.Job(jobID), event); err != nil {
		// The relay is lossy by contract. Log and move on.
		e.logger.Warn("publish job event", "job_id", jobID, "event", event.EventType, "error", err)
	}
}

// Progress publishes stage updates for one job. Percentages are clamped so the
// stream never regresses, and every update also lands in the tracker sink.
type Progress struct {
	pub     Publisher
	tracker Tracker
	logger  *slog.Logger
	channel string
	jobID   string
	last    int
}

// Report publishes a stage update. Message is optional display text.
func (p *Progress) Report(ctx context.Context, stage string, pct int, message string) {
	if pct < p.last {
		pct = p.last
	}
	p.publish(ctx, channel.ProgressMessage{
		JobID:    p.jobID,
		Stage:    stage,
		Progress: pct,
		Message:  message,
	})
}

func (p *Progress) publish(ctx context.Context, msg channel.ProgressMessage) {
	if msg.Progress < p.last {
		msg.Progress = p.last
	}
	p.last = msg.Progress

	if err := p.pub.Publish(ctx, p.channel, msg); err != nil {
		p.logger.Warn("publish progress", "stage", msg.Stage, "error", err)
	}
	if err := p.tracker.Update(ctx, p.jobID, msg.Stage, msg.Progress); err != nil {
		p.logger.Warn("update job tracker", "stage", msg.Stage, "error", err)
	}
}
