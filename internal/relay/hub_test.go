package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

func TestHubScopesAreSeparate(t *testing.T) {
	h := NewHub(4)
	match := h.SubscribeMatch("m1")
	other := h.SubscribeMatch("m2")
	bob := h.SubscribeUser("bob")
	defer match.Close()
	defer other.Close()
	defer bob.Close()

	n := h.Deliver(Envelope{Scope: ScopeMatch, Key: "m1", Event: matchdto.Event{Type: matchdto.EventMove, MatchID: "m1"}})
	assert.Equal(t, 1, n)
	n = h.Deliver(Envelope{Scope: ScopeUser, Key: "bob", Event: matchdto.Event{Type: matchdto.EventDrawOffer, MatchID: "m1"}})
	assert.Equal(t, 1, n)

	ev := <-match.C
	assert.Equal(t, matchdto.EventMove, ev.Type)
	ev = <-bob.C
	assert.Equal(t, matchdto.EventDrawOffer, ev.Type)
	assert.Empty(t, other.C)
	assert.Empty(t, match.C)
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	h := NewHub(1)
	s := h.SubscribeMatch("m1")
	defer s.Close()

	env := Envelope{Scope: ScopeMatch, Key: "m1", Event: matchdto.Event{Type: matchdto.EventChat}}
	assert.Equal(t, 1, h.Deliver(env))
	assert.Equal(t, 0, h.Deliver(env))
	assert.Equal(t, uint64(1), s.Dropped())
}

func TestHubNoReplayForLateSubscribers(t *testing.T) {
	h := NewHub(4)
	assert.Equal(t, 0, h.Deliver(Envelope{Scope: ScopeMatch, Key: "m1", Event: matchdto.Event{Type: matchdto.EventMove}}))

	s := h.SubscribeMatch("m1")
	defer s.Close()
	assert.Empty(t, s.C)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	h := NewHub(4)
	s := h.SubscribeMatch("m1")
	require.Equal(t, 1, h.Subscribers("m1"))
	s.Close()
	s.Close()
	assert.Equal(t, 0, h.Subscribers("m1"))
	_, ok := <-s.C
	assert.False(t, ok)
}

func TestDecodeRejectsBadEnvelopes(t *testing.T) {
	_, err := decode([]byte(`{"scope":"room","key":"x"}`))
	assert.Error(t, err)
	_, err = decode([]byte(`{"scope":"match","key":""}`))
	assert.Error(t, err)
	_, err = decode([]byte(`not json`))
	assert.Error(t, err)

	env, err := decode([]byte(`{"scope":"user","key":"bob","event":{"type":"draw-offer","matchId":"m1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "bob", env.Key)
	assert.Equal(t, "m1", env.Event.MatchID)
}
