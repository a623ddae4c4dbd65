// SPDX-License-Identifier: MIT

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLightBrightnessFloor(t *testing.T) {
	l := &Light{ID: 1, Protocol: ProtocolNative}
	l.SetState(LightState{On: true, Bri: 0})
	assert.Equal(t, uint8(1), l.State().Bri, "brightness is never zero while on")

	l.Update(func(s *LightState) {
		s.On = true
		s.Bri = 0
	})
	assert.Equal(t, uint8(1), l.State().Bri)

	l.SetState(LightState{On: false, Bri: 0})
	assert.Equal(t, uint8(0), l.State().Bri, "off lights may carry zero brightness")
}

func TestLightSegments(t *testing.T) {
	plain := &Light{ID: 1}
	assert.Equal(t, 1, plain.Segments())
	assert.False(t, plain.Gradient())

	strip := &Light{ID: 2, PointsCapable: 7, SegmentStart: 0, SegmentStop: 14}
	assert.True(t, strip.Gradient())
	assert.Equal(t, 7, strip.Segments())
}

func TestGroupChannelInvariant(t *testing.T) {
	g := &EntertainmentGroup{ID: "1", Name: "TV"}
	g.AddLight(&Light{ID: 1})
	g.AddLight(&Light{ID: 2, PointsCapable: 7, SegmentStart: 0, SegmentStop: 14})
	g.AddLight(&Light{ID: 3})

	assert.Equal(t, 9, g.ChannelCount(), "channel_count = sum of segments")
	assert.Len(t, g.Lights(), 3)

	// segment indices within a light are 0..N-1 in channel order
	assert.Equal(t, 0, g.Channels[1].Segment)
	assert.Equal(t, 6, g.Channels[7].Segment)
}

func TestStreamStateTransitions(t *testing.T) {
	g := &EntertainmentGroup{ID: "1"}
	assert.False(t, g.StreamActive())

	g.SetStreamActive(true, "owner-key")
	assert.True(t, g.StreamActive())
	assert.Equal(t, "owner-key", g.Stream().Owner)

	g.SetStreamActive(false, "")
	assert.False(t, g.StreamActive())
	assert.Empty(t, g.Stream().Owner)
}

func TestSetUpstreamAdoptsUUID(t *testing.T) {
	g := &EntertainmentGroup{ID: "1", IDv2: "local-uuid"}
	g.SetUpstream("7", "0ecd1a2b-47cd-5a41-8021-0f31bb2106cf")
	assert.Equal(t, "0ecd1a2b-47cd-5a41-8021-0f31bb2106cf", g.IDv2)
	assert.Equal(t, "7", g.Stream().UpstreamGroupID)
}

func TestDeriveUUID(t *testing.T) {
	a := DeriveUUID("192.168.1.10", "1")
	b := DeriveUUID("192.168.1.10", "1")
	c := DeriveUUID("192.168.1.10", "2")

	require.Len(t, a, 36)
	assert.Equal(t, a, b, "derivation is stable")
	assert.NotEqual(t, a, c)
	assert.Equal(t, byte('5'), a[14], "UUID version 5")
}

func TestSegmentPositions(t *testing.T) {
	base := Position{X: 0, Y: 0.5, Z: 0}

	left := SegmentPositions(base, Orientation{Pose: "flat", Axis: "horizontal", Cable: "left"})
	require.Len(t, left, 7)
	assert.Less(t, left[0].X, left[6].X, "cable left: segment 0 at the left end")
	for _, p := range left {
		assert.Equal(t, 0.5, p.Y, "unmounted axes keep the base position")
	}

	right := SegmentPositions(base, Orientation{Pose: "flat", Axis: "horizontal", Cable: "right"})
	assert.Greater(t, right[0].X, right[6].X, "cable right flips direction")

	vert := SegmentPositions(base, Orientation{Pose: "standing", Axis: "vertical", Cable: "left"})
	assert.NotEqual(t, vert[0].Z, vert[6].Z)
	assert.Equal(t, vert[0].X, vert[6].X)

	// all coordinates stay inside the entertainment cube
	edge := SegmentPositions(Position{X: 0.9}, Orientation{Axis: "horizontal", Cable: "left"})
	for _, p := range edge {
		assert.LessOrEqual(t, p.X, 1.0)
		assert.GreaterOrEqual(t, p.X, -1.0)
	}
}

func TestPreferredStreamUser(t *testing.T) {
	now := time.Now()
	owner := &ApiUser{Username: "owner", Name: "phone app", ClientKey: "aa", LastUseDate: now}
	sync := &ApiUser{Username: "sync", Name: "Hue Sync TV", ClientKey: "bb", LastUseDate: now.Add(-time.Hour)}
	stale := &ApiUser{Username: "old", Name: "other", ClientKey: "cc", LastUseDate: now.Add(-24 * time.Hour)}
	nokey := &ApiUser{Username: "nokey", Name: "entertain everything", LastUseDate: now}

	got := PreferredStreamUser([]*ApiUser{owner, sync, stale, nokey}, owner)
	assert.Equal(t, "sync", got.Username, "streamer-looking names rank first")

	got = PreferredStreamUser([]*ApiUser{owner, stale}, owner)
	assert.Equal(t, "owner", got.Username, "most recent use breaks ties")

	got = PreferredStreamUser([]*ApiUser{nokey}, owner)
	assert.Equal(t, "owner", got.Username, "users without a client key are skipped")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	l := &Light{ID: 7, Name: "desk"}
	r.AddLight(l)

	got, ok := r.Light(7)
	require.True(t, ok)
	assert.Same(t, l, got)

	_, ok = r.Light(8)
	assert.False(t, ok)

	g := &EntertainmentGroup{ID: "1"}
	r.AddGroup(g)
	got2, err := r.Group("1")
	require.NoError(t, err)
	assert.Same(t, g, got2)

	_, err = r.Group("2")
	assert.Error(t, err)

	u := &ApiUser{Username: "abc"}
	r.AddUser(u)
	got3, ok := r.User("abc")
	require.True(t, ok)
	assert.Same(t, u, got3)
	assert.Len(t, r.Users(), 1)
	assert.Len(t, r.Lights(), 1)
}
