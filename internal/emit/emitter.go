// SPDX-License-Identifier: MIT

// Package emit contains the per-protocol device emitters. Each emitter
// consumes the per-frame updates for its bucket, folds them into per-host
// accumulators and transmits one datagram (or one TCP write, MQTT batch or
// WS call) per host. Emitters are a closed set over the protocol enum,
// dispatched through a table built at session start.
package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/color"
	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/state"
)

// Update is one per-light, per-segment color sample for the current frame.
// The supervisor fills it from the parsed records after updating the light
// registry, so emitters see the last record per light of the frame.
type Update struct {
	Light   *state.Light
	Segment int

	Color color.RGB
	X, Y  float64
	Bri   uint8
	On    bool

	// Decision is the frame-diff gate outcome. UDP-native emitters ignore
	// it; suppression-friendly transports honor it.
	Decision gate.Decision
}

// Emitter transmits one frame's updates for a single protocol bucket.
type Emitter interface {
	Protocol() state.Protocol
	Emit(ctx context.Context, updates []Update) error
}

// Table is the dispatch table: one emitter per protocol.
type Table map[state.Protocol]Emitter

// Register adds an emitter to the table.
func (t Table) Register(e Emitter) {
	t[e.Protocol()] = e
}

// hostOf reads the destination address from a light's protocol config.
func hostOf(l *state.Light) string {
	if ip := l.CfgString("ip"); ip != "" {
		return ip
	}
	return l.CfgString("host")
}
