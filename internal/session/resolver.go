// SPDX-License-Identifier: MIT

package session

import (
	"github.com/hue2lan/hue2lan/internal/state"
)

// Routes are the per-session routing tables, computed once at session start.
type Routes struct {
	// ByID maps v1 light ids to lights.
	ByID map[uint16]*state.Light
	// ByChannel maps v2 channel indices to (light, segment); the slice index
	// is the channel index.
	ByChannel []state.Channel
	// UpstreamSubset holds the hue-upstream member lights.
	UpstreamSubset []*state.Light
	// ChannelMap compacts local v2 channel indices onto the upstream
	// group's contiguous index space, preserving relative order.
	ChannelMap map[uint8]uint8
	// Buckets groups member lights per emitter protocol.
	Buckets map[state.Protocol][]*state.Light
}

// Resolve precomputes the routing tables for a group.
func Resolve(group *state.EntertainmentGroup) *Routes {
	r := &Routes{
		ByID:       make(map[uint16]*state.Light),
		ByChannel:  append([]state.Channel(nil), group.Channels...),
		ChannelMap: make(map[uint8]uint8),
		Buckets:    make(map[state.Protocol][]*state.Light),
	}

	var upstreamNext uint8
	for idx, ch := range group.Channels {
		r.ByID[ch.Light.ID] = ch.Light
		if ch.Light.Protocol == state.ProtocolHue {
			r.ChannelMap[uint8(idx)] = upstreamNext
			upstreamNext++
		}
	}

	for _, l := range group.Lights() {
		if l.Protocol == state.ProtocolHue {
			r.UpstreamSubset = append(r.UpstreamSubset, l)
			continue // the splitter serves these; no emitter bucket
		}
		r.Buckets[l.Protocol] = append(r.Buckets[l.Protocol], l)
	}
	return r
}

// Channel resolves a v2 channel index.
func (r *Routes) Channel(idx uint8) (state.Channel, bool) {
	if int(idx) >= len(r.ByChannel) {
		return state.Channel{}, false
	}
	return r.ByChannel[idx], true
}

// Light resolves a v1 light id.
func (r *Routes) Light(id uint16) (*state.Light, bool) {
	l, ok := r.ByID[id]
	return l, ok
}
