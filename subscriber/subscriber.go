// Package subscriber is a websocket client that follows one job's progress
// through the gateway, reconnecting until the job reaches a terminal state.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/plateful/plateful/channel"
)

// Update is a normalized view of one progress or terminal frame.
type Update struct {
	JobID    string
	Stage    string
	Progress int
	Message  string
	Err      string
	Result   json.RawMessage

	// Terminal is true for the final update. Failed distinguishes the two
	// terminal outcomes.
	Terminal bool
	Failed   bool
}

// errDone signals a clean stop after the terminal update.
var errDone = errors.New("job reached terminal state")

// Subscriber follows a single job over the gateway websocket. Updates are
// delivered in arrival order on a single goroutine; the terminal update is
// delivered at most once even when frames repeat across reconnects.
type Subscriber struct {
	url      string
	jobID    string
	onUpdate func(Update)
	logger   *slog.Logger

	pingInterval time.Duration
	dialer       *websocket.Dialer
	newBackoff   func() backoff.BackOff

	mu           sync.Mutex
	terminalSeen bool
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscriber) { s.logger = logger }
}

// WithPingInterval sets the keepalive interval.
func WithPingInterval(d time.Duration) Option {
	return func(s *Subscriber) { s.pingInterval = d }
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Subscriber) { s.dialer = d }
}

// WithBackoff sets the factory for the reconnect backoff policy. A fresh
// policy is taken per Run.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(s *Subscriber) { s.newBackoff = factory }
}

// New creates a subscriber for one job. url is the gateway websocket endpoint,
// e.g. ws://host/ws. onUpdate receives every progress update and exactly one
// terminal update.
func New(url, jobID string, onUpdate func(Update), opts ...Option) (*Subscriber, error) {
	if url == "" || jobID == "" {
		return nil, fmt.Errorf("url and job id are required")
	}
	if onUpdate == nil {
		return nil, fmt.Errorf("update callback is required")
	}
	s := &Subscriber{
		url:          url,
		jobID:        jobID,
		onUpdate:     onUpdate,
		logger:       slog.Default(),
		pingInterval: 30 * time.Second,
		dialer:       websocket.DefaultDialer,
		newBackoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxInterval = 15 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run connects and follows the job until it reaches a terminal state or ctx
// is cancelled. Connection drops trigger reconnects with backoff; Run only
// returns an error when ctx ends first.
func (s *Subscriber) Run(ctx context.Context) error {
	bo := s.newBackoff()
	for {
		err := s.runConn(ctx)
		if errors.Is(err, errDone) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("reconnect attempts exhausted: %w", err)
		}
		s.logger.Debug("gateway connection lost, reconnecting",
			"job_id", s.jobID, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runConn runs one connection: dial, subscribe, read until drop or terminal.
func (s *Subscriber) runConn(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := writeJSON(channel.ClientMessage{Type: channel.TypeSubscribeJob, JobID: s.jobID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	// Keepalive pings until the connection ends.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := writeJSON(channel.ClientMessage{Type: channel.TypePing}); err != nil {
					return
				}
			}
		}
	}()

	// Unblock ReadMessage when ctx ends.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg channel.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("unparseable gateway frame", "job_id", s.jobID, "error", err)
			continue
		}
		if done := s.dispatch(msg); done {
			return errDone
		}
	}
}

// dispatch routes one server frame, returning true on the terminal update.
//
// Two frame shapes can end a job: the final progress frame (stage
// completed/failed on the progress channel) and the job event. The relay is
// lossy, so either can arrive without the other; whichever the subscriber sees
// first is the terminal update and the other is deduplicated.
func (s *Subscriber) dispatch(msg channel.ServerMessage) bool {
	switch msg.Type {
	case channel.TypePantryProgress, channel.TypeMealplanProgress, channel.TypeRecipeProgress:
		if msg.JobID != s.jobID || msg.Progress == nil {
			return false
		}
		update := Update{
			JobID:    msg.JobID,
			Stage:    msg.Progress.Stage,
			Progress: msg.Progress.Progress,
			Message:  msg.Progress.Message,
			Err:      msg.Progress.Error,
			Result:   msg.Progress.Result,
		}
		if msg.Progress.Stage == channel.StageCompleted || msg.Progress.Stage == channel.StageFailed {
			update.Terminal = true
			update.Failed = msg.Progress.Stage == channel.StageFailed
			if s.markTerminal() {
				return true
			}
			s.onUpdate(update)
			return true
		}
		s.onUpdate(update)
		return false

	case channel.TypeJobCompleted, channel.TypeJobFailed:
		if msg.JobID != s.jobID {
			return false
		}
		if s.markTerminal() {
			return true
		}
		s.onUpdate(Update{
			JobID:    msg.JobID,
			Result:   msg.Result,
			Err:      msg.Error,
			Terminal: true,
			Failed:   msg.Type == channel.TypeJobFailed,
		})
		return true

	default:
		// pong, errors, and frames for other subscriptions.
		return false
	}
}

// markTerminal flips the terminal flag, reporting whether it was already set.
func (s *Subscriber) markTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.terminalSeen
	s.terminalSeen = true
	return seen
}
