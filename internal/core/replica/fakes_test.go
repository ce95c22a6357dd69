package replica

import (
	"sync"

	"github.com/zeusync/replica/internal/core/protocol"
	"github.com/zeusync/replica/internal/core/replica/types"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	failNext  int
	failAll   bool
	sent      []protocol.Mutation
	onSend    func(protocol.Mutation)
	listeners map[int]func(protocol.ConnectionState)
	nextID    int
}

func newFakeTransport(connected bool) *fakeTransport {
	return &fakeTransport{
		connected: connected,
		listeners: make(map[int]func(protocol.ConnectionState)),
	}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) OnStateChange(cb func(protocol.ConnectionState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = cb
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeTransport) Send(_ protocol.MessageType, payload any) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return protocol.ErrNotConnected
	}
	if f.failAll || f.failNext > 0 {
		if f.failNext > 0 {
			f.failNext--
		}
		f.mu.Unlock()
		return protocol.ErrSendRejected
	}
	m := payload.(protocol.Mutation)
	f.sent = append(f.sent, m)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return nil
}

// setConnected flips the link and notifies listeners.
func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	cbs := make([]func(protocol.ConnectionState), 0, len(f.listeners))
	for _, cb := range f.listeners {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()

	state := protocol.StateDisconnected
	if connected {
		state = protocol.StateConnected
	}
	for _, cb := range cbs {
		cb(state)
	}
}

// setLinkUp flips the link without notifying listeners.
func (f *fakeTransport) setLinkUp(up bool) {
	f.mu.Lock()
	f.connected = up
	f.mu.Unlock()
}

func (f *fakeTransport) emit(state protocol.ConnectionState) {
	f.mu.Lock()
	cbs := make([]func(protocol.ConnectionState), 0, len(f.listeners))
	for _, cb := range f.listeners {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(state)
	}
}

func (f *fakeTransport) setFailAll(fail bool) {
	f.mu.Lock()
	f.failAll = fail
	f.mu.Unlock()
}

func (f *fakeTransport) setFailNext(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

func (f *fakeTransport) setOnSend(hook func(protocol.Mutation)) {
	f.mu.Lock()
	f.onSend = hook
	f.mu.Unlock()
}

func (f *fakeTransport) sentMutations() []protocol.Mutation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Mutation(nil), f.sent...)
}

func (f *fakeTransport) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type fakeNetwork struct {
	mu        sync.Mutex
	offline   bool
	listeners map[int]func(bool)
	nextID    int
}

func newFakeNetwork(offline bool) *fakeNetwork {
	return &fakeNetwork{offline: offline, listeners: make(map[int]func(bool))}
}

func (n *fakeNetwork) IsOffline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offline
}

func (n *fakeNetwork) OnStatusChange(cb func(bool)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = cb
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *fakeNetwork) setOnline(online bool) {
	n.mu.Lock()
	n.offline = !online
	cbs := make([]func(bool), 0, len(n.listeners))
	for _, cb := range n.listeners {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()
	for _, cb := range cbs {
		cb(online)
	}
}

func (n *fakeNetwork) listenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.listeners)
}

type statusRecorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *statusRecorder) record(s types.Status) {
	r.mu.Lock()
	r.seen = append(r.seen, s.String())
	r.mu.Unlock()
}

func (r *statusRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type deliveryCounter struct {
	mu       sync.Mutex
	topics   []string
	failures int
}

func (c *deliveryCounter) OnDelivered(topic string, _ int, failures int) {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.failures += failures
	c.mu.Unlock()
}

func (c *deliveryCounter) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...), c.failures
}
