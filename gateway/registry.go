// Package gateway holds the websocket side of the pipeline: the connection
// registry, the client message handler, and the bridge that fans relay
// messages out to subscribed connections.
package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Conn is an opaque handle to one live client transport. The registry never
// repairs itself when a write fails; the transport's own close event drives
// RemoveConnection.
type Conn interface {
	// Ready reports whether the transport currently accepts writes.
	Ready() bool

	// Send writes one framed message. Not called unless Ready returned true,
	// though a race with close is tolerated.
	Send(data []byte) error
}

// Topic kinds addressed by the registry.
const (
	topicUserPrefix = "user:"
	topicJobPrefix  = "job:"
)

// Registry is the in-memory bidirectional index between connections and the
// topics they subscribe to. All four maps are projections of one subscription
// relation and are only ever mutated together, under one lock.
//
// Every lookup degrades to a no-op on unknown ids, so out-of-order
// close/unsubscribe races are harmless.
type Registry struct {
	mu sync.RWMutex

	// conns maps connection id to its transport handle.
	conns map[string]Conn
	// topicSubs maps topic ("user:<id>" or "job:<id>") to subscriber ids.
	// Invariant: no topic maps to an empty set.
	topicSubs map[string]map[string]struct{}
	// userTopics and jobTopics are the reverse edges per connection.
	userTopics map[string]map[string]struct{}
	jobTopics  map[string]map[string]struct{}

	logger  *slog.Logger
	metrics *Metrics
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger, metrics *Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:      make(map[string]Conn),
		topicSubs:  make(map[string]map[string]struct{}),
		userTopics: make(map[string]map[string]struct{}),
		jobTopics:  make(map[string]map[string]struct{}),
		logger:     logger,
		metrics:    metrics,
	}
}

// AddConnection registers a new connection with empty subscription sets. The
// caller guarantees id uniqueness (ids are random and never reused).
func (r *Registry) AddConnection(id string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[id] = conn
	r.userTopics[id] = make(map[string]struct{})
	r.jobTopics[id] = make(map[string]struct{})

	if r.metrics != nil {
		r.metrics.connections.Set(float64(len(r.conns)))
	}
}

// RemoveConnection drops a connection and every subscription it holds,
// pruning topics whose subscriber set becomes empty. Idempotent: removing an
// unknown id is a no-op.
func (r *Registry) RemoveConnection(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return
	}

	for topic := range r.userTopics[id] {
		r.dropSubscriber(topic, id)
	}
	for topic := range r.jobTopics[id] {
		r.dropSubscriber(topic, id)
	}

	delete(r.conns, id)
	delete(r.userTopics, id)
	delete(r.jobTopics, id)

	if r.metrics != nil {
		r.metrics.connections.Set(float64(len(r.conns)))
	}
}

// dropSubscriber removes one forward edge, pruning the topic when empty.
// Caller holds the write lock.
func (r *Registry) dropSubscriber(topic, id string) {
	subs, ok := r.topicSubs[topic]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topicSubs, topic)
	}
}

// SubscribeUser subscribes a connection to a user topic. Idempotent.
func (r *Registry) SubscribeUser(connID, userID string) {
	r.subscribe(connID, topicUserPrefix+userID, r.userTopics)
}

// SubscribeJob subscribes a connection to a job topic. Idempotent.
func (r *Registry) SubscribeJob(connID, jobID string) {
	r.subscribe(connID, topicJobPrefix+jobID, r.jobTopics)
}

func (r *Registry) subscribe(connID, topic string, reverse map[string]map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; !ok {
		// Connection already gone; a subscribe that raced its close.
		return
	}

	subs, ok := r.topicSubs[topic]
	if !ok {
		subs = make(map[string]struct{})
		r.topicSubs[topic] = subs
	}
	subs[connID] = struct{}{}
	reverse[connID][topic] = struct{}{}
}

// UnsubscribeUser removes a connection from a user topic.
func (r *Registry) UnsubscribeUser(connID, userID string) {
	r.unsubscribe(connID, topicUserPrefix+userID, r.userTopics)
}

// UnsubscribeJob removes a connection from a job topic.
func (r *Registry) UnsubscribeJob(connID, jobID string) {
	r.unsubscribe(connID, topicJobPrefix+jobID, r.jobTopics)
}

func (r *Registry) unsubscribe(connID, topic string, reverse map[string]map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropSubscriber(topic, connID)
	if topics, ok := reverse[connID]; ok {
		delete(topics, topic)
	}
}

// BroadcastToUser sends v to every ready connection subscribed to the user.
func (r *Registry) BroadcastToUser(userID string, v any) {
	r.broadcast(topicUserPrefix+userID, v)
}

// BroadcastToJob sends v to every ready connection subscribed to the job.
func (r *Registry) BroadcastToJob(jobID string, v any) {
	r.broadcast(topicJobPrefix+jobID, v)
}

// BroadcastAll sends v to every ready connection.
func (r *Registry) BroadcastAll(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("marshal broadcast", "error", err)
		return
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	r.send(targets, data)
}

// broadcast serializes once and writes to a snapshot of the topic's subscriber
// set. Connections in a non-ready state are silently skipped; cleanup belongs
// to RemoveConnection, driven by the transport's close event.
func (r *Registry) broadcast(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Error("marshal broadcast", "topic", topic, "error", err)
		return
	}

	r.mu.RLock()
	targets := make([]Conn, 0, len(r.topicSubs[topic]))
	for id := range r.topicSubs[topic] {
		if conn, ok := r.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	r.send(targets, data)
}

func (r *Registry) send(targets []Conn, data []byte) {
	for _, conn := range targets {
		if !conn.Ready() {
			continue
		}
		if err := conn.Send(data); err != nil {
			// Dead connection; its close handler will clean up.
			r.logger.Debug("broadcast write skipped", "error", err)
			continue
		}
		if r.metrics != nil {
			r.metrics.messagesSent.Inc()
		}
	}
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
