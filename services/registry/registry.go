// Package registry tracks live subscribers and the feed kind each one wants.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"market_feed_backend/metrics"
	"market_feed_backend/models"
)

// Conn is the transport behind one subscriber
type Conn interface {
	Send(payload []byte) error
	IsOpen() bool
	Close() error
}

// Subscriber is a registered connection. Kind never changes after Register.
type Subscriber struct {
	ID          uuid.UUID
	Kind        models.FeedKind
	Conn        Conn
	ConnectedAt time.Time
}

// Registry is safe for concurrent use
type Registry struct {
	mu          sync.RWMutex
	subscribers map[Conn]*Subscriber
	onFirst     func()
	clock       clockwork.Clock
}

// New creates an empty registry
func New(clock clockwork.Clock) *Registry {
	return &Registry{
		subscribers: make(map[Conn]*Subscriber),
		clock:       clock,
	}
}

// SetOnFirstSubscriber installs fn, called each time the registry goes from
// empty to non-empty. fn runs outside the registry lock.
func (r *Registry) SetOnFirstSubscriber(fn func()) {
	r.mu.Lock()
	r.onFirst = fn
	r.mu.Unlock()
}

// Register adds conn with kind. Registering the same conn twice keeps the
// first subscription.
func (r *Registry) Register(conn Conn, kind models.FeedKind) *Subscriber {
	r.mu.Lock()
	if existing, ok := r.subscribers[conn]; ok {
		r.mu.Unlock()
		return existing
	}

	wasEmpty := len(r.subscribers) == 0
	sub := &Subscriber{
		ID:          uuid.New(),
		Kind:        kind,
		Conn:        conn,
		ConnectedAt: r.clock.Now(),
	}
	r.subscribers[conn] = sub
	onFirst := r.onFirst
	r.mu.Unlock()

	metrics.Subscribers.WithLabelValues(string(kind)).Inc()

	if wasEmpty && onFirst != nil {
		onFirst()
	}
	return sub
}

// Unregister removes conn. It reports whether conn was registered.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	sub, ok := r.subscribers[conn]
	if ok {
		delete(r.subscribers, conn)
	}
	r.mu.Unlock()

	if ok {
		metrics.Subscribers.WithLabelValues(string(sub.Kind)).Dec()
	}
	return ok
}

// Snapshot returns a copy of the current subscribers
func (r *Registry) Snapshot() []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Subscriber, 0, len(r.subscribers))
	for _, sub := range r.subscribers {
		out = append(out, *sub)
	}
	return out
}

// Sweep removes subscribers whose connection is no longer open and returns
// how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	var removed []*Subscriber
	for conn, sub := range r.subscribers {
		if !conn.IsOpen() {
			delete(r.subscribers, conn)
			removed = append(removed, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range removed {
		metrics.Subscribers.WithLabelValues(string(sub.Kind)).Dec()
	}
	return len(removed)
}

// Count returns the number of subscribers for kind
func (r *Registry) Count(kind models.FeedKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sub := range r.subscribers {
		if sub.Kind == kind {
			n++
		}
	}
	return n
}

// Counts returns subscriber counts for every feed kind
func (r *Registry) Counts() map[models.FeedKind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.FeedKind]int, len(models.FeedKinds))
	for _, kind := range models.FeedKinds {
		counts[kind] = 0
	}
	for _, sub := range r.subscribers {
		counts[sub.Kind]++
	}
	return counts
}

// Len returns the total number of subscribers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// CloseAll closes every connection and empties the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	subs := r.subscribers
	r.subscribers = make(map[Conn]*Subscriber)
	r.mu.Unlock()

	for conn, sub := range subs {
		conn.Close()
		metrics.Subscribers.WithLabelValues(string(sub.Kind)).Dec()
	}
}
