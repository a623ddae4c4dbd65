// SPDX-License-Identifier: MIT

package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState string
type testEvent string

const (
	idle    testState = "idle"
	running testState = "running"

	start testEvent = "start"
	stop  testEvent = "stop"
)

func TestFireWalksTable(t *testing.T) {
	m, err := New(idle, []Transition[testState, testEvent]{
		{From: idle, Event: start, To: running},
		{From: running, Event: stop, To: idle},
	})
	require.NoError(t, err)

	st, err := m.Fire(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, running, st)

	st, err = m.Fire(context.Background(), stop)
	require.NoError(t, err)
	assert.Equal(t, idle, st)
}

func TestUnknownTransitionRejected(t *testing.T) {
	m, err := New(idle, []Transition[testState, testEvent]{
		{From: idle, Event: start, To: running},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), stop)
	assert.Error(t, err)
	assert.Equal(t, idle, m.State())
}

func TestActionErrorHoldsState(t *testing.T) {
	boom := errors.New("launch failed")
	m, err := New(idle, []Transition[testState, testEvent]{
		{From: idle, Event: start, To: running,
			Action: func(context.Context, testState, testState) error { return boom }},
	})
	require.NoError(t, err)

	_, err = m.Fire(context.Background(), start)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, idle, m.State())
}

func TestDuplicateEdgeRejected(t *testing.T) {
	_, err := New(idle, []Transition[testState, testEvent]{
		{From: idle, Event: start, To: running},
		{From: idle, Event: start, To: idle},
	})
	assert.Error(t, err)
}
