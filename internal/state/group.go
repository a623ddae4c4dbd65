// SPDX-License-Identifier: MIT

package state

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Channel is one slot in an entertainment group: a light plus the per-light
// segment index (0 for non-gradient lights).
type Channel struct {
	Light   *Light
	Segment int
}

// Position is a 3D location in the entertainment area, each axis in [-1,1].
type Position struct {
	X, Y, Z float64
}

// Orientation describes how a gradient strip is mounted; it drives the
// derived per-segment positions.
type Orientation struct {
	Pose  string // "flat" or "standing"
	Axis  string // "horizontal" or "vertical"
	Cable string // "left" or "right"
}

// StreamState is the entertainment sub-state of a group.
type StreamState struct {
	Active    bool
	Owner     string // API key of the streaming client
	ProxyMode string

	// Upstream bridge bookkeeping, set by the splitter sync.
	UpstreamGroupID string
	UpstreamUUID    string // 36-char ASCII UUID of the upstream entertainment configuration
}

// EntertainmentGroup is an ordered collection of light channels.
type EntertainmentGroup struct {
	ID   string // v1 numeric id as string
	IDv2 string
	Name string

	Channels []Channel

	Positions    map[uint16]Position    // light id -> base position
	Orientations map[uint16]Orientation // gradient strip mounting

	mu     sync.Mutex
	stream StreamState
}

// ChannelCount is the total number of entertainment channels:
// the sum of segments over member lights.
func (g *EntertainmentGroup) ChannelCount() int {
	return len(g.Channels)
}

// Lights returns the distinct member lights in channel order.
func (g *EntertainmentGroup) Lights() []*Light {
	seen := make(map[uint16]bool, len(g.Channels))
	var out []*Light
	for _, ch := range g.Channels {
		if !seen[ch.Light.ID] {
			seen[ch.Light.ID] = true
			out = append(out, ch.Light)
		}
	}
	return out
}

// Stream returns a copy of the stream state.
func (g *EntertainmentGroup) Stream() StreamState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stream
}

// SetStreamActive flips the canonical session flag.
func (g *EntertainmentGroup) SetStreamActive(active bool, owner string) {
	g.mu.Lock()
	g.stream.Active = active
	if active {
		g.stream.Owner = owner
	} else {
		g.stream.Owner = ""
	}
	g.mu.Unlock()
}

// StreamActive reports the canonical session flag; the supervisor polls this
// at the top of every loop iteration.
func (g *EntertainmentGroup) StreamActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stream.Active
}

// SetUpstream records the upstream bridge identity for this group and
// adopts the upstream entertainment UUID as the group's own v2 id so both
// sides observe the same identity.
func (g *EntertainmentGroup) SetUpstream(groupID, entUUID string) {
	g.mu.Lock()
	g.stream.UpstreamGroupID = groupID
	g.stream.UpstreamUUID = entUUID
	g.mu.Unlock()
	if entUUID != "" {
		g.IDv2 = entUUID
	}
}

// AddLight appends one channel per segment of the light, keeping the
// channel_count = Σ segments(light) invariant.
func (g *EntertainmentGroup) AddLight(l *Light) {
	for seg := 0; seg < l.Segments(); seg++ {
		g.Channels = append(g.Channels, Channel{Light: l, Segment: seg})
	}
}

// DeriveUUID computes the stable v2 UUID for a group hosted on the given
// bridge IP: UUIDv5 over "hue://{bridge_ip}/groups/{id}".
func DeriveUUID(bridgeIP, groupID string) string {
	name := fmt.Sprintf("hue://%s/groups/%s", bridgeIP, groupID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// SegmentPositions derives the seven per-segment positions for a gradient
// strip from its base position and mounting orientation. Segments spread
// along the mounted axis; the cable side fixes the direction.
func SegmentPositions(base Position, o Orientation) []Position {
	const n = 7
	out := make([]Position, n)

	span := 1.0
	if o.Pose == "standing" {
		span = 0.6
	}

	for i := 0; i < n; i++ {
		// t in [-span/2, span/2], segment 0 at the cable end
		t := span * (float64(i)/float64(n-1) - 0.5)
		if o.Cable == "right" {
			t = -t
		}
		p := base
		switch {
		case o.Axis == "vertical":
			p.Z = clampUnit(base.Z + t)
		default:
			p.X = clampUnit(base.X + t)
		}
		out[i] = p
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
