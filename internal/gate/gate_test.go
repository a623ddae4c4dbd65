// SPDX-License-Identifier: MIT

package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var tol = Tolerances{CIE: 0.008, Bri: 6}

func TestCheckPure(t *testing.T) {
	prev := Sample{X: 0.3, Y: 0.3, Bri: 100}

	assert.Equal(t, Noop, Check(prev, prev, tol))
	assert.Equal(t, Noop, Check(prev, Sample{X: 0.305, Y: 0.3, Bri: 103}, tol))
	assert.Equal(t, Color, Check(prev, Sample{X: 0.32, Y: 0.3, Bri: 100}, tol))
	assert.Equal(t, Color, Check(prev, Sample{X: 0.3, Y: 0.29, Bri: 100}, tol))
	assert.Equal(t, Bri, Check(prev, Sample{X: 0.3, Y: 0.3, Bri: 110}, tol))
	// color takes precedence when both move
	assert.Equal(t, Color, Check(prev, Sample{X: 0.4, Y: 0.4, Bri: 200}, tol))
}

func TestCheckBoundary(t *testing.T) {
	prev := Sample{X: 0.3, Y: 0.3, Bri: 100}
	// deltas exactly at tolerance are suppressed (strictly-greater comparison)
	assert.Equal(t, Noop, Check(prev, Sample{X: 0.308, Y: 0.3, Bri: 106}, tol))
}

func TestDecideFirstObservation(t *testing.T) {
	g := New(tol)
	assert.Equal(t, Color, g.Decide(1, Sample{X: 0.3, Y: 0.3, Bri: 100}))
}

func TestDecideDoesNotCommit(t *testing.T) {
	g := New(tol)
	s := Sample{X: 0.3, Y: 0.3, Bri: 100}

	// an undelivered decision must not silence the light
	assert.Equal(t, Color, g.Decide(1, s))
	assert.Equal(t, Color, g.Decide(1, s))
}

func TestCommitThenSuppress(t *testing.T) {
	g := New(tol)
	s := Sample{X: 0.3, Y: 0.3, Bri: 100}

	g.Commit(1, s, Color)
	assert.Equal(t, Noop, g.Decide(1, s))
	assert.Equal(t, Noop, g.Decide(1, Sample{X: 0.305, Y: 0.3, Bri: 103}))
}

func TestBriCommitKeepsColorCell(t *testing.T) {
	g := New(tol)
	g.Commit(1, Sample{X: 0.3, Y: 0.3, Bri: 100}, Color)

	assert.Equal(t, Bri, g.Decide(1, Sample{X: 0.3, Y: 0.3, Bri: 120}))
	g.Commit(1, Sample{X: 0.3, Y: 0.3, Bri: 120}, Bri)

	// brightness cell moved, color cell kept: the same brightness again is a noop
	assert.Equal(t, Noop, g.Decide(1, Sample{X: 0.3, Y: 0.3, Bri: 120}))
	// the color cell still holds 0.3/0.3
	assert.Equal(t, Color, g.Decide(1, Sample{X: 0.32, Y: 0.3, Bri: 120}))
}

func TestColorCommitKeepsBriCell(t *testing.T) {
	g := New(tol)
	g.Commit(1, Sample{X: 0.3, Y: 0.3, Bri: 100}, Color)

	// a color change carrying sub-tolerance brightness drift
	curr := Sample{X: 0.5, Y: 0.3, Bri: 104}
	assert.Equal(t, Color, g.Decide(1, curr))
	g.Commit(1, curr, Color)

	// the brightness cell still holds 100, so the drift keeps accumulating
	assert.Equal(t, Bri, g.Decide(1, Sample{X: 0.5, Y: 0.3, Bri: 108}))
}

func TestNoopCommitKeepsCells(t *testing.T) {
	g := New(tol)
	g.Commit(1, Sample{X: 0.3, Y: 0.3, Bri: 100}, Color)

	// repeated sub-tolerance drift must not accumulate into an update
	for i := 0; i < 10; i++ {
		drift := Sample{X: 0.305, Y: 0.3, Bri: 100}
		assert.Equal(t, Noop, g.Decide(1, drift))
		g.Commit(1, drift, Noop)
	}
	assert.Equal(t, Noop, g.Decide(1, Sample{X: 0.3, Y: 0.3, Bri: 100}))
}

func TestGatePerLightIsolation(t *testing.T) {
	g := New(tol)
	g.Commit(1, Sample{X: 0.3, Y: 0.3, Bri: 100}, Color)
	assert.Equal(t, Color, g.Decide(2, Sample{X: 0.3, Y: 0.3, Bri: 100}), "each light has its own cell")
}
