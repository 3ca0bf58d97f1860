package relay

import (
	"sync"
	"sync/atomic"

	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

const defaultSubscriptionBuffer = 64

// Subscription receives events for one topic. Events that do not fit in the buffer are
// dropped; nothing is replayed to late subscribers.
type Subscription struct {
	C <-chan matchdto.Event

	ch      chan matchdto.Event
	topic   string
	hub     *Hub
	once    sync.Once
	dropped atomic.Uint64
}

// Dropped returns how many events this subscription missed because it was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close unsubscribes and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub fans events out to local subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	return &Hub{topics: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// SubscribeMatch subscribes to the broadcast channel of a match.
func (h *Hub) SubscribeMatch(matchID string) *Subscription {
	return h.subscribe(Envelope{Scope: ScopeMatch, Key: matchID}.topic())
}

// SubscribeUser subscribes to direct events for an identity.
func (h *Hub) SubscribeUser(identity string) *Subscription {
	return h.subscribe(Envelope{Scope: ScopeUser, Key: identity}.topic())
}

func (h *Hub) subscribe(topic string) *Subscription {
	ch := make(chan matchdto.Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, topic: topic, hub: h}
	h.mu.Lock()
	set := h.topics[topic]
	if set == nil {
		set = make(map[*Subscription]struct{})
		h.topics[topic] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if set := h.topics[s.topic]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.topics, s.topic)
		}
	}
	h.mu.Unlock()
	close(s.ch)
}

// Deliver hands env to current subscribers of its topic without blocking.
// It returns the number of subscribers that received it.
func (h *Hub) Deliver(env Envelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.topics[env.topic()] {
		select {
		case s.ch <- env.Event:
			n++
		default:
			s.dropped.Add(1)
		}
	}
	return n
}

// Subscribers counts local subscribers of a match.
func (h *Hub) Subscribers(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[Envelope{Scope: ScopeMatch, Key: matchID}.topic()])
}
