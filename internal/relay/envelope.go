package relay

import (
	"encoding/json"
	"fmt"

	"github.com/park285/Cheese-Match-server/pkg/matchdto"
)

// Scope selects the channel kind an event is addressed to.
type Scope string

const (
	// ScopeMatch fans out to every subscriber of a match.
	ScopeMatch Scope = "match"
	// ScopeUser delivers to the connections of a single identity.
	ScopeUser Scope = "user"
)

// Envelope is an addressed event. It is the unit carried by cross-instance buses.
type Envelope struct {
	Scope Scope          `json:"scope"`
	Key   string         `json:"key"`
	Event matchdto.Event `json:"event"`
}

func (e Envelope) topic() string { return string(e.Scope) + ":" + e.Key }

func encode(env Envelope) ([]byte, error) { return json.Marshal(env) }

func decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Scope != ScopeMatch && env.Scope != ScopeUser {
		return env, fmt.Errorf("decode envelope: unknown scope %q", env.Scope)
	}
	if env.Key == "" {
		return env, fmt.Errorf("decode envelope: empty key")
	}
	return env, nil
}
