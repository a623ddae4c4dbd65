// SPDX-License-Identifier: MIT

// Package fsm is a small strict state machine: transitions are declared up
// front and unknown (state, event) pairs are errors. The splitter uses it to
// keep its launch and teardown ordering honest.
package fsm

import (
	"context"
	"fmt"
	"sync"
)

// Transition is one edge. Action runs the side effects of taking the edge;
// an Action error leaves the machine in the source state.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Action func(ctx context.Context, from, to S) error
}

// Machine runs a declared transition table.
type Machine[S ~string, E ~string] struct {
	mu    sync.Mutex
	state S
	index map[string]Transition[S, E]
}

// New builds a machine in the initial state. Duplicate (from, event) pairs
// are rejected.
func New[S ~string, E ~string](initial S, transitions []Transition[S, E]) (*Machine[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := edgeKey(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("fsm: duplicate transition %s on %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Machine[S, E]{state: initial, index: idx}, nil
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Fire applies an event. The action runs outside the lock; if another event
// moved the state meanwhile the transition is rejected.
func (m *Machine[S, E]) Fire(ctx context.Context, event E) (S, error) {
	m.mu.Lock()
	from := m.state
	t, ok := m.index[edgeKey(from, event)]
	m.mu.Unlock()
	if !ok {
		return from, fmt.Errorf("fsm: no transition from %s on %s", from, event)
	}

	if t.Action != nil {
		if err := t.Action(ctx, from, t.To); err != nil {
			return from, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return m.state, fmt.Errorf("fsm: state moved to %s during %s", m.state, event)
	}
	m.state = t.To
	return t.To, nil
}

func edgeKey[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
