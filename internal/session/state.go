package session

import (
	"fmt"
	"sort"

	"github.com/cornelk/hashmap"
)

// State is the connection lifecycle state of one device
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	// Failed is transient: it is published once, then the device returns to Disconnected.
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists the legal successor states
var transitions = map[State][]State{
	Disconnected:  {Connecting, Connected},
	Connecting:    {Connected, Disconnecting, Failed},
	Connected:     {Disconnecting, Disconnected, Failed},
	Disconnecting: {Disconnected, Failed},
	Failed:        {Disconnected},
}

// CanTransition reports whether from -> to is a legal lifecycle step
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// stateTable holds the per-device state. It is written only by the serial queue and
// read lock-free from anywhere; devices absent from the table are Disconnected.
type stateTable struct {
	states *hashmap.Map[string, State]
}

func newStateTable() *stateTable {
	return &stateTable{states: hashmap.New[string, State]()}
}

func (t *stateTable) get(id string) State {
	if s, ok := t.states.Get(id); ok {
		return s
	}
	return Disconnected
}

// set stores the new state and returns the previous one
func (t *stateTable) set(id string, s State) State {
	prev := t.get(id)
	if s == Disconnected {
		t.states.Del(id)
	} else {
		t.states.Set(id, s)
	}
	return prev
}

// ids returns the sorted identifiers whose state is one of the given states
func (t *stateTable) ids(match ...State) []string {
	var out []string
	t.states.Range(func(id string, s State) bool {
		for _, m := range match {
			if s == m {
				out = append(out, id)
				break
			}
		}
		return true
	})
	sort.Strings(out)
	return out
}

func (t *stateTable) count(match State) int {
	n := 0
	t.states.Range(func(_ string, s State) bool {
		if s == match {
			n++
		}
		return true
	})
	return n
}
