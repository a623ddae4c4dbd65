// SPDX-License-Identifier: MIT

// Package state holds the process-wide lighting data model: lights, API
// users and entertainment groups. The REST layer creates and mutates these;
// the entertainment pipeline reads them at session start and only writes the
// per-light runtime state fields.
package state

import "sync"

// Protocol tags the downstream transport used to drive a light.
type Protocol string

const (
	ProtocolNative        Protocol = "native"
	ProtocolESPHome       Protocol = "esphome"
	ProtocolMQTT          Protocol = "mqtt"
	ProtocolWLED          Protocol = "wled"
	ProtocolYeelight      Protocol = "yeelight"
	ProtocolLIFX          Protocol = "lifx"
	ProtocolHue           Protocol = "hue"
	ProtocolHomeAssistant Protocol = "homeassistant"
	ProtocolFallback      Protocol = "fallback"
)

// Mode is the per-light control mode.
const (
	ModeHomeAutomation = "homeautomation"
	ModeStreaming      = "streaming"
)

// LightState is the last-applied state of a light. Guarded by the owning
// Light's mutex: during a session a single worker writes a given light per
// frame, but the REST layer may read concurrently.
type LightState struct {
	On        bool
	Bri       uint8 // 1..254 while on
	XY        [2]float64
	ColorMode string // "xy" or "ct"
	CT        uint16 // mirek, 153..500
	Mode      string // homeautomation or streaming
}

// Light is one controllable device endpoint.
type Light struct {
	ID       uint16 // stable v1 numeric id
	IDv2     string // stable v2 UUID
	UniqueID string
	Name     string
	ModelID  string
	Protocol Protocol

	// Cfg is the per-protocol configuration; its schema differs per device,
	// so it stays an opaque map at this layer. Emitters validate it into
	// typed structs.
	Cfg map[string]any

	// Gradient capability. PointsCapable >= 2 with a monotone
	// [SegmentStart, SegmentStop) LED range marks a gradient light.
	PointsCapable int
	SegmentStart  int
	SegmentStop   int

	mu    sync.Mutex
	state LightState
}

// Gradient reports whether this light can display multiple colors per frame.
func (l *Light) Gradient() bool {
	return l.PointsCapable >= 2 && l.SegmentStop > l.SegmentStart
}

// Segments is the number of entertainment channels this light occupies.
func (l *Light) Segments() int {
	if l.Gradient() {
		return l.PointsCapable
	}
	return 1
}

// State returns a copy of the current light state.
func (l *Light) State() LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState replaces the light state, enforcing the brightness floor.
func (l *Light) SetState(s LightState) {
	if s.On && s.Bri == 0 {
		s.Bri = 1
	}
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Update applies a mutation under the light's lock.
func (l *Light) Update(fn func(*LightState)) {
	l.mu.Lock()
	fn(&l.state)
	if l.state.On && l.state.Bri == 0 {
		l.state.Bri = 1
	}
	l.mu.Unlock()
}

// CfgString reads a string key from the opaque protocol config.
func (l *Light) CfgString(key string) string {
	if v, ok := l.Cfg[key].(string); ok {
		return v
	}
	return ""
}

// CfgInt reads an integer key from the opaque protocol config, tolerating
// the float64 shape JSON decoding produces.
func (l *Light) CfgInt(key string, def int) int {
	switch v := l.Cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// CfgBool reads a boolean key from the opaque protocol config.
func (l *Light) CfgBool(key string) bool {
	if v, ok := l.Cfg[key].(bool); ok {
		return v
	}
	return false
}
