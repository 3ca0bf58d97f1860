package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Match-server/internal/obslog"
	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

// Bus carries envelopes between server instances.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Listen subscribes and hands received envelopes to deliver until ctx ends.
	// It returns once the subscription is active.
	Listen(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// Relay serializes outbound events through a single queue so that events enqueued in
// order are published in order. Without a bus, events go straight to the local hub.
type Relay struct {
	hub   *Hub
	bus   Bus
	queue chan Envelope

	publishTimeout time.Duration
	ready          chan struct{}
	readyOnce      sync.Once
	dropped        atomic.Uint64
}

func New(hub *Hub, bus Bus, queueSize int) *Relay {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Relay{
		hub:            hub,
		bus:            bus,
		queue:          make(chan Envelope, queueSize),
		publishTimeout: 2 * time.Second,
		ready:          make(chan struct{}),
	}
}

// Hub returns the local hub connections subscribe to.
func (r *Relay) Hub() *Hub { return r.hub }

// Ready is closed once Run is consuming the queue.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Dropped counts events lost because the queue was full or the bus failed.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Broadcast addresses ev to every participant of ev.MatchID.
func (r *Relay) Broadcast(ev matchdto.Event) {
	r.enqueue(Envelope{Scope: ScopeMatch, Key: ev.MatchID, Event: ev})
}

// Direct addresses ev to a single identity.
func (r *Relay) Direct(identity string, ev matchdto.Event) {
	r.enqueue(Envelope{Scope: ScopeUser, Key: identity, Event: ev})
}

func (r *Relay) enqueue(env Envelope) {
	select {
	case r.queue <- env:
	default:
		r.dropped.Add(1)
		obslog.L().Warn("relay_queue_full",
			zap.String("scope", string(env.Scope)),
			zap.String("key", env.Key),
			zap.String("type", env.Event.Type))
	}
}

// Run drains the queue until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	if r.bus != nil {
		deliver := func(env Envelope) { r.hub.Deliver(env) }
		if err := r.bus.Listen(ctx, deliver); err != nil {
			return err
		}
	}
	r.readyOnce.Do(func() { close(r.ready) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.queue:
			r.dispatch(ctx, env)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, env Envelope) {
	if r.bus == nil {
		r.hub.Deliver(env)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	if err := r.bus.Publish(pctx, env); err != nil {
		r.dropped.Add(1)
		obslog.L().Error("relay_publish_failed",
			zap.String("scope", string(env.Scope)),
			zap.String("key", env.Key),
			zap.String("type", env.Event.Type),
			zap.Error(err))
	}
}

// Close releases the bus.
func (r *Relay) Close() error {
	if r.bus == nil {
		return nil
	}
	return r.bus.Close()
}
