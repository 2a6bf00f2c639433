package sundaebus

import (
	"hash/fnv"
	"sync"
)

const bucketCount = 32

// Conn is a delivery target held by the registry. The registry never owns a
// connection; it only keeps a reference until Drop.
type Conn interface {
	ID() string
	Deliver(msg Message) error
	Refresh() error
}

type bucket struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]Conn
	observers   map[string]map[string]Conn
}

type holdings struct {
	mu         sync.Mutex
	streams    map[string]struct{}
	identities map[string]struct{}
	dropped    bool // set by Drop; the holdings are no longer in the registry
}

// Registry tracks, per stream, the connections subscribed for delivery and,
// per identity, the connections observing membership changes. State is
// sharded by key so unrelated streams do not contend.
type Registry struct {
	buckets [bucketCount]bucket

	mu   sync.Mutex
	held map[string]*holdings
}

func NewRegistry() *Registry {
	r := &Registry{held: make(map[string]*holdings)}
	for i := range r.buckets {
		r.buckets[i].subscribers = make(map[string]map[string]Conn)
		r.buckets[i].observers = make(map[string]map[string]Conn)
	}
	return r
}

func (r *Registry) bucket(key string) *bucket {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &r.buckets[h.Sum32()%bucketCount]
}

func (r *Registry) holdings(connID string) *holdings {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.held[connID]
	if !ok {
		h = &holdings{
			streams:    make(map[string]struct{}),
			identities: make(map[string]struct{}),
		}
		r.held[connID] = h
	}
	return h
}

// lockHoldings returns the connection's current holdings, locked. Holdings
// that Drop retired between lookup and lock are never written to.
func (r *Registry) lockHoldings(connID string) *holdings {
	for {
		h := r.holdings(connID)
		h.mu.Lock()
		if !h.dropped {
			return h
		}
		h.mu.Unlock()
	}
}

func add(table map[string]map[string]Conn, key string, conn Conn) {
	conns, ok := table[key]
	if !ok {
		conns = make(map[string]Conn)
		table[key] = conns
	}
	conns[conn.ID()] = conn
}

func remove(table map[string]map[string]Conn, key, connID string) {
	conns, ok := table[key]
	if !ok {
		return
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(table, key)
	}
}

func snapshot(conns map[string]Conn) []Conn {
	if len(conns) == 0 {
		return nil
	}
	result := make([]Conn, 0, len(conns))
	for _, conn := range conns {
		result = append(result, conn)
	}
	return result
}

// Subscribe registers conn for delivery of streamID. Subscribing twice is a
// no-op.
func (r *Registry) Subscribe(conn Conn, streamID string) {
	h := r.lockHoldings(conn.ID())
	defer h.mu.Unlock()

	b := r.bucket(streamID)
	b.mu.Lock()
	add(b.subscribers, streamID, conn)
	b.mu.Unlock()
	h.streams[streamID] = struct{}{}
}

// Unsubscribe removes the pairing if present.
func (r *Registry) Unsubscribe(conn Conn, streamID string) {
	r.mu.Lock()
	h, ok := r.held[conn.ID()]
	r.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped {
		return
	}

	b := r.bucket(streamID)
	b.mu.Lock()
	remove(b.subscribers, streamID, conn.ID())
	b.mu.Unlock()
	delete(h.streams, streamID)
}

// Observe registers conn for refresh signals about identity.
func (r *Registry) Observe(conn Conn, identity string) {
	h := r.lockHoldings(conn.ID())
	defer h.mu.Unlock()

	b := r.bucket(identity)
	b.mu.Lock()
	add(b.observers, identity, conn)
	b.mu.Unlock()
	h.identities[identity] = struct{}{}
}

// Drop removes conn from every subscription and observation. It is safe to
// call at any time and any number of times.
func (r *Registry) Drop(conn Conn) {
	r.mu.Lock()
	h, ok := r.held[conn.ID()]
	delete(r.held, conn.ID())
	r.mu.Unlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped = true
	for streamID := range h.streams {
		b := r.bucket(streamID)
		b.mu.Lock()
		remove(b.subscribers, streamID, conn.ID())
		b.mu.Unlock()
	}
	for identity := range h.identities {
		b := r.bucket(identity)
		b.mu.Lock()
		remove(b.observers, identity, conn.ID())
		b.mu.Unlock()
	}
	h.streams = map[string]struct{}{}
	h.identities = map[string]struct{}{}
}

// Subscribers returns a snapshot of the connections subscribed to streamID.
func (r *Registry) Subscribers(streamID string) []Conn {
	b := r.bucket(streamID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.subscribers[streamID])
}

// Observers returns a snapshot of the connections observing identity.
func (r *Registry) Observers(identity string) []Conn {
	b := r.bucket(identity)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return snapshot(b.observers[identity])
}

// Connections returns the number of connections known to the registry.
func (r *Registry) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.held)
}

// Subscriptions returns the number of live stream subscriptions across all
// connections.
func (r *Registry) Subscriptions() int {
	r.mu.Lock()
	held := make([]*holdings, 0, len(r.held))
	for _, h := range r.held {
		held = append(held, h)
	}
	r.mu.Unlock()

	var n int
	for _, h := range held {
		h.mu.Lock()
		n += len(h.streams)
		h.mu.Unlock()
	}
	return n
}
