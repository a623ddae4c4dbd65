// SPDX-License-Identifier: MIT

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hue2lan/hue2lan/internal/state"
)

func TestResolveChannelMapCompaction(t *testing.T) {
	hue1 := &state.Light{ID: 1, Protocol: state.ProtocolHue, Cfg: map[string]any{}}
	wled2 := &state.Light{ID: 2, Protocol: state.ProtocolWLED, Cfg: map[string]any{}}
	hue3 := &state.Light{ID: 3, Protocol: state.ProtocolHue, Cfg: map[string]any{}}
	hue5 := &state.Light{ID: 5, Protocol: state.ProtocolHue, Cfg: map[string]any{}}

	group := &state.EntertainmentGroup{ID: "1", Name: "TV"}
	for _, l := range []*state.Light{hue1, wled2, hue3, hue5} {
		group.AddLight(l)
	}

	r := Resolve(group)

	// wled channel dropped; hue channels compacted preserving order
	assert.Equal(t, map[uint8]uint8{0: 0, 2: 1, 3: 2}, r.ChannelMap)
	require.Len(t, r.UpstreamSubset, 3)

	// upstream lights get no emitter bucket
	assert.NotContains(t, r.Buckets, state.ProtocolHue)
	assert.Len(t, r.Buckets[state.ProtocolWLED], 1)
}

func TestResolveGradientChannels(t *testing.T) {
	strip := &state.Light{
		ID:            7,
		Protocol:      state.ProtocolWLED,
		Cfg:           map[string]any{},
		PointsCapable: 3,
		SegmentStop:   30,
	}
	single := &state.Light{ID: 8, Protocol: state.ProtocolNative, Cfg: map[string]any{}}

	group := &state.EntertainmentGroup{ID: "2", Name: "Desk"}
	group.AddLight(strip)
	group.AddLight(single)

	r := Resolve(group)
	require.Len(t, r.ByChannel, 4, "one channel per segment")

	ch, ok := r.Channel(1)
	require.True(t, ok)
	assert.Equal(t, strip, ch.Light)
	assert.Equal(t, 1, ch.Segment)

	ch, ok = r.Channel(3)
	require.True(t, ok)
	assert.Equal(t, single, ch.Light)
	assert.Equal(t, 0, ch.Segment)

	_, ok = r.Channel(4)
	assert.False(t, ok)
}
