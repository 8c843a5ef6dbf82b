package gateway

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records sent frames and lets tests flip readiness.
type fakeConn struct {
	mu    sync.Mutex
	ready bool
	sent  [][]byte
}

func newFakeConn() *fakeConn { return &fakeConn{ready: true} }

func (f *fakeConn) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeConn) setReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

func (f *fakeConn) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// checkConsistent asserts the four indices agree: every forward edge has its
// reverse edge and vice versa, and no topic has an empty subscriber set.
func checkConsistent(t *testing.T, r *Registry) {
	t.Helper()
	r.mu.RLock()
	defer r.mu.RUnlock()

	for topic, subs := range r.topicSubs {
		require.NotEmpty(t, subs, "topic %s has an empty subscriber set", topic)
		for id := range subs {
			_, hasConn := r.conns[id]
			require.True(t, hasConn, "topic %s references unknown connection %s", topic, id)

			_, inUser := r.userTopics[id][topic]
			_, inJob := r.jobTopics[id][topic]
			require.True(t, inUser || inJob,
				"forward edge (%s, %s) missing its reverse edge", topic, id)
		}
	}

	for id, topics := range r.userTopics {
		for topic := range topics {
			_, ok := r.topicSubs[topic][id]
			require.True(t, ok, "reverse edge (%s, %s) missing its forward edge", id, topic)
		}
	}
	for id, topics := range r.jobTopics {
		for topic := range topics {
			_, ok := r.topicSubs[topic][id]
			require.True(t, ok, "reverse edge (%s, %s) missing its forward edge", id, topic)
		}
	}
}

func TestRegistry_IndicesStayConsistent(t *testing.T) {
	r := NewRegistry(nil, nil)

	steps := []func(){
		func() { r.AddConnection("c1", newFakeConn()) },
		func() { r.AddConnection("c2", newFakeConn()) },
		func() { r.SubscribeUser("c1", "u1") },
		func() { r.SubscribeJob("c1", "j1") },
		func() { r.SubscribeJob("c2", "j1") },
		func() { r.SubscribeUser("c2", "u2") },
		func() { r.SubscribeJob("c1", "j1") }, // duplicate subscribe is idempotent
		func() { r.UnsubscribeJob("c2", "j1") },
		func() { r.UnsubscribeJob("c2", "j1") }, // double unsubscribe is a no-op
		func() { r.RemoveConnection("c1") },
		func() { r.RemoveConnection("c2") },
	}

	for i, step := range steps {
		step()
		checkConsistent(t, r)
		_ = i
	}

	assert.Zero(t, r.ConnectionCount())
	assert.Empty(t, r.topicSubs)
}

func TestRegistry_RemoveConnectionIdempotent(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.AddConnection("c1", newFakeConn())
	r.SubscribeUser("c1", "u1")
	r.SubscribeJob("c1", "j1")

	r.RemoveConnection("c1")
	checkConsistent(t, r)
	assert.Zero(t, r.ConnectionCount())

	// Second removal changes nothing and does not panic.
	r.RemoveConnection("c1")
	checkConsistent(t, r)
	assert.Zero(t, r.ConnectionCount())
}

func TestRegistry_EmptyTopicsPruned(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.AddConnection("c1", newFakeConn())
	r.SubscribeJob("c1", "j1")

	r.UnsubscribeJob("c1", "j1")

	r.mu.RLock()
	_, exists := r.topicSubs["job:j1"]
	r.mu.RUnlock()
	assert.False(t, exists, "empty topic must be removed from the index")
}

func TestRegistry_BroadcastTargetsExactSubscribers(t *testing.T) {
	r := NewRegistry(nil, nil)

	subscribed := newFakeConn()
	alsoSubscribed := newFakeConn()
	otherJob := newFakeConn()
	notReady := newFakeConn()
	notReady.setReady(false)

	r.AddConnection("c1", subscribed)
	r.AddConnection("c2", alsoSubscribed)
	r.AddConnection("c3", otherJob)
	r.AddConnection("c4", notReady)

	r.SubscribeJob("c1", "j1")
	r.SubscribeJob("c2", "j1")
	r.SubscribeJob("c3", "j2")
	r.SubscribeJob("c4", "j1")

	// Overlapping subscriptions must not widen the target set.
	r.SubscribeUser("c3", "u1")
	r.SubscribeUser("c1", "u1")

	r.BroadcastToJob("j1", map[string]string{"type": "test"})

	assert.Equal(t, 1, subscribed.sentCount())
	assert.Equal(t, 1, alsoSubscribed.sentCount())
	assert.Equal(t, 0, otherJob.sentCount(), "connection on another job must not receive the message")
	assert.Equal(t, 0, notReady.sentCount(), "non-ready connection is silently skipped")
}

func TestRegistry_BroadcastToUser(t *testing.T) {
	r := NewRegistry(nil, nil)
	u1 := newFakeConn()
	u2 := newFakeConn()
	r.AddConnection("c1", u1)
	r.AddConnection("c2", u2)
	r.SubscribeUser("c1", "u1")
	r.SubscribeUser("c2", "u2")

	r.BroadcastToUser("u1", map[string]string{"hello": "world"})

	require.Equal(t, 1, u1.sentCount())
	assert.Equal(t, 0, u2.sentCount())

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(u1.sent[0], &decoded))
	assert.Equal(t, "world", decoded["hello"])
}

func TestRegistry_SubscribeUnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.SubscribeJob("ghost", "j1")
	checkConsistent(t, r)
	assert.Empty(t, r.topicSubs)
}

func TestRegistry_BroadcastAll(t *testing.T) {
	r := NewRegistry(nil, nil)
	a := newFakeConn()
	b := newFakeConn()
	r.AddConnection("c1", a)
	r.AddConnection("c2", b)

	r.BroadcastAll(map[string]string{"type": "announce"})

	assert.Equal(t, 1, a.sentCount())
	assert.Equal(t, 1, b.sentCount())
}
