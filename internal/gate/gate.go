// SPDX-License-Identifier: MIT

// Package gate implements the per-light frame-diff gate: it compares the
// incoming color sample against the last one actually sent and decides
// whether an emitter needs to transmit at all. UDP-native emitters skip the
// gate; it pays off on transports where every send costs a TCP write, an
// MQTT publish or a REST call. Deciding and committing are separate steps:
// the supervisor decides per frame, the emitter commits after the send
// actually went out, so a light skipped by pacing or round-robin keeps its
// claim on a send.
package gate

import (
	"math"
	"sync"
)

// Decision is the outcome of a gate check.
type Decision int

const (
	// Noop: both deltas are within tolerance, suppress the send.
	Noop Decision = iota
	// Bri: only brightness moved beyond tolerance.
	Bri
	// Color: chromaticity moved beyond tolerance.
	Color
)

func (d Decision) String() string {
	switch d {
	case Bri:
		return "bri"
	case Color:
		return "color"
	default:
		return "noop"
	}
}

// Tolerances bound the deltas considered noise. Derived once per session
// from the resource profile.
type Tolerances struct {
	CIE float64 // per-axis xy delta
	Bri float64 // brightness delta in 0..254 steps
}

// Sample is one (xy, bri) observation.
type Sample struct {
	X, Y float64
	Bri  uint8
}

// Check is the pure decision function: it depends only on prev, curr and
// the tolerances.
func Check(prev, curr Sample, tol Tolerances) Decision {
	if math.Abs(curr.X-prev.X) > tol.CIE || math.Abs(curr.Y-prev.Y) > tol.CIE {
		return Color
	}
	if math.Abs(float64(curr.Bri)-float64(prev.Bri)) > tol.Bri {
		return Bri
	}
	return Noop
}

// Gate carries per-light last-sent cells for one session. Emitters commit
// concurrently from the worker pool, so the cells are locked.
type Gate struct {
	tol Tolerances

	mu   sync.Mutex
	last map[uint16]Sample
}

// New returns a gate with the given tolerances.
func New(tol Tolerances) *Gate {
	return &Gate{
		tol:  tol,
		last: make(map[uint16]Sample),
	}
}

// Decide compares the sample against the light's last-sent cell without
// touching it. A light with no cell yet always reports Color.
func (g *Gate) Decide(lightID uint16, curr Sample) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[lightID]
	if !ok {
		return Color
	}
	return Check(prev, curr, g.tol)
}

// Commit records a send that actually went out. A Color send moves only the
// chromaticity cell, a Bri send only the brightness cell, so sub-tolerance
// drift on the other axis keeps accumulating against the value the device
// last saw. Noop commits are ignored.
func (g *Gate) Commit(lightID uint16, curr Sample, d Decision) {
	if d == Noop {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, ok := g.last[lightID]
	if !ok {
		g.last[lightID] = curr
		return
	}
	switch d {
	case Color:
		prev.X, prev.Y = curr.X, curr.Y
	case Bri:
		prev.Bri = curr.Bri
	}
	g.last[lightID] = prev
}
