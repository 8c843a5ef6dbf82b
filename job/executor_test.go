package job

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/plateful/plateful/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	Channel string
	Data    []byte
}

// recordingPublisher captures every publish in order.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recordingPublisher) Publish(_ context.Context, ch string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, published{Channel: ch, Data: data})
	return nil
}

func (r *recordingPublisher) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.msgs...)
}

type fakeOp struct {
	typ     Type
	execute func(ctx context.Context, j Job, progress *Progress) (any, error)
}

func (f *fakeOp) Type() Type { return f.typ }

func (f *fakeOp) ProgressChannel(jobID string) string {
	if f.typ == TypeMealplanGenerate {
		return channel.Mealplan(jobID)
	}
	return channel.Pantry(jobID)
}
func (f *fakeOp) Execute(ctx context.Context, j Job, p *Progress) (any, error) {
	return f.execute(ctx, j, p)
}

func decodeProgress(t *testing.T, p published) channel.ProgressMessage {
	t.Helper()
	var msg channel.ProgressMessage
	require.NoError(t, json.Unmarshal(p.Data, &msg))
	return msg
}

func decodeEvent(t *testing.T, p published) channel.JobEvent {
	t.Helper()
	var event channel.JobEvent
	require.NoError(t, json.Unmarshal(p.Data, &event))
	return event
}

func TestExecutor_Success(t *testing.T) {
	pub := &recordingPublisher{}
	exec := NewExecutor(pub, nil, nil)

	op := &fakeOp{
		typ: TypeIngredientParse,
		execute: func(ctx context.Context, j Job, p *Progress) (any, error) {
			p.Report(ctx, "analyzing", 10, "")
			p.Report(ctx, "extracting", 30, "")
			return map[string]any{"ingredients": []string{"chicken", "rice"}, "ingredientCount": 2}, nil
		},
	}

	j := Job{ID: "job-1", Type: TypeIngredientParse, UserID: "u1"}
	require.NoError(t, exec.Run(context.Background(), op, j))

	msgs := pub.all()
	require.Len(t, msgs, 4)

	// Stage updates on the operation channel, in order.
	assert.Equal(t, "pantry:job-1", msgs[0].Channel)
	first := decodeProgress(t, msgs[0])
	assert.Equal(t, "analyzing", first.Stage)
	assert.Equal(t, 10, first.Progress)

	second := decodeProgress(t, msgs[1])
	assert.Equal(t, "extracting", second.Stage)
	assert.Equal(t, 30, second.Progress)

	// Completed progress carries the result at 100%.
	done := decodeProgress(t, msgs[2])
	assert.Equal(t, channel.StageCompleted, done.Stage)
	assert.Equal(t, 100, done.Progress)
	assert.NotEmpty(t, done.Result)

	// Terminal event comes last, on the job channel, with the same result.
	assert.Equal(t, "job:job-1", msgs[3].Channel)
	event := decodeEvent(t, msgs[3])
	assert.Equal(t, channel.EventCompleted, event.EventType)
	assert.JSONEq(t, string(done.Result), string(event.Result))
}

func TestExecutor_Failure(t *testing.T) {
	pub := &recordingPublisher{}
	exec := NewExecutor(pub, nil, nil)

	opErr := errors.New("vision model unavailable")
	op := &fakeOp{
		typ: TypeIngredientParse,
		execute: func(ctx context.Context, j Job, p *Progress) (any, error) {
			p.Report(ctx, "analyzing", 10, "")
			return nil, opErr
		},
	}

	err := exec.Run(context.Background(), op, Job{ID: "job-2"})
	require.ErrorIs(t, err, opErr)

	msgs := pub.all()
	require.Len(t, msgs, 3)

	failed := decodeProgress(t, msgs[1])
	assert.Equal(t, channel.StageFailed, failed.Stage)
	assert.Equal(t, "vision model unavailable", failed.Error)
	assert.Equal(t, 10, failed.Progress, "failure retains the last reported percentage")

	event := decodeEvent(t, msgs[2])
	assert.Equal(t, channel.EventFailed, event.EventType)
	assert.Equal(t, "vision model unavailable", event.Error)

	// A failed job publishes no completed event.
	for _, m := range msgs {
		if m.Channel == "job:job-2" {
			e := decodeEvent(t, m)
			assert.NotEqual(t, channel.EventCompleted, e.EventType)
		}
	}
}

func TestExecutor_ProgressNeverRegresses(t *testing.T) {
	pub := &recordingPublisher{}
	exec := NewExecutor(pub, nil, nil)

	op := &fakeOp{
		typ: TypeMealplanGenerate,
		execute: func(ctx context.Context, j Job, p *Progress) (any, error) {
			p.Report(ctx, "searching_all", 50, "")
			p.Report(ctx, "searching_all", 30, "") // buggy regression clamped
			p.Report(ctx, "planning", 80, "")
			return struct{}{}, nil
		},
	}

	require.NoError(t, exec.Run(context.Background(), op, Job{ID: "job-3"}))

	var last int
	for _, m := range pub.all() {
		if m.Channel != "mealplan:job-3" && m.Channel != "pantry:job-3" {
			continue
		}
		msg := decodeProgress(t, m)
		assert.GreaterOrEqual(t, msg.Progress, last)
		last = msg.Progress
	}
	assert.Equal(t, 100, last)
}

type countingTracker struct {
	mu      sync.Mutex
	updates []string
}

func (c *countingTracker) Update(_ context.Context, jobID, stage string, progress int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, stage)
	return nil
}

func TestExecutor_TrackerSeesEveryStage(t *testing.T) {
	pub := &recordingPublisher{}
	tracker := &countingTracker{}
	exec := NewExecutor(pub, tracker, nil)

	op := &fakeOp{
		typ: TypeIngredientParse,
		execute: func(ctx context.Context, j Job, p *Progress) (any, error) {
			p.Report(ctx, "analyzing", 10, "")
			return struct{}{}, nil
		},
	}

	require.NoError(t, exec.Run(context.Background(), op, Job{ID: "job-4"}))
	assert.Equal(t, []string{"analyzing", channel.StageCompleted}, tracker.updates)
}
