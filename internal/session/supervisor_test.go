// SPDX-License-Identifier: MIT

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hue2lan/hue2lan/internal/config"
	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/huestream"
	"github.com/hue2lan/hue2lan/internal/profile"
	"github.com/hue2lan/hue2lan/internal/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// frameFixture builds a supervisor plus an in-memory session with no
// network resources, enough to exercise the frame path.
func frameFixture(t *testing.T, lights ...*state.Light) (*Supervisor, *session) {
	t.Helper()

	reg := state.NewRegistry()
	group := &state.EntertainmentGroup{ID: "1", Name: "TV"}
	for _, l := range lights {
		reg.AddLight(l)
		group.AddLight(l)
	}
	reg.AddGroup(group)

	prof := profile.Settings{
		MaxWorkers:   2,
		CIETolerance: 0.008,
		BriTolerance: 6,
	}
	sup := New(reg, config.Defaults(), prof)
	sess := &session{
		group:  group,
		routes: Resolve(group),
		gate:   gate.New(gate.Tolerances{CIE: prof.CIETolerance, Bri: prof.BriTolerance}),
		done:   make(chan struct{}),
	}
	return sup, sess
}

func rgbRecord(id uint16, r, g, b uint8) huestream.Record {
	return huestream.Record{
		DeviceType: huestream.DeviceTypeLight,
		LightID:    id,
		C1:         uint16(r) << 8,
		C2:         uint16(g) << 8,
		C3:         uint16(b) << 8,
	}
}

func TestApplyRecordsLastRecordWins(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}}
	sup, sess := frameFixture(t, light)

	f := huestream.Frame{Version: 2, ColorSpace: huestream.ColorSpaceRGB, Records: []huestream.Record{
		{Channel: 0, C1: 0x1000, C2: 0x1000, C3: 0x1000},
		{Channel: 0, C1: 0xFF00, C2: 0x0000, C3: 0x0000},
	}}

	updates := sup.applyRecords(sess, f)
	require.Len(t, updates, 1)
	assert.Equal(t, uint8(0xFF), updates[0].Color.R)

	st := light.State()
	assert.True(t, st.On)
	assert.Equal(t, "xy", st.ColorMode)
}

func TestApplyRecordsV1SegmentsByOccurrence(t *testing.T) {
	strip := &state.Light{
		ID: 4, Protocol: state.ProtocolWLED, Cfg: map[string]any{},
		PointsCapable: 3, SegmentStop: 30,
	}
	sup, sess := frameFixture(t, strip)

	f := huestream.Frame{Version: 1, ColorSpace: huestream.ColorSpaceRGB, Records: []huestream.Record{
		rgbRecord(4, 255, 0, 0),
		rgbRecord(4, 0, 255, 0),
		rgbRecord(4, 0, 0, 255),
	}}
	f.Records[0].DeviceType = huestream.DeviceTypeGradient
	f.Records[1].DeviceType = huestream.DeviceTypeGradient
	f.Records[2].DeviceType = huestream.DeviceTypeGradient

	updates := sup.applyRecords(sess, f)
	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, i, u.Segment)
	}
}

func TestApplyRecordsOffPreservesColorState(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}}
	sup, sess := frameFixture(t, light)

	on := huestream.Frame{Version: 2, ColorSpace: huestream.ColorSpaceRGB, Records: []huestream.Record{
		{Channel: 0, C1: 0xFF00, C2: 0x8000, C3: 0x2000},
	}}
	sup.applyRecords(sess, on)
	before := light.State()
	require.True(t, before.On)

	off := huestream.Frame{Version: 2, ColorSpace: huestream.ColorSpaceRGB, Records: []huestream.Record{
		{Channel: 0},
	}}
	updates := sup.applyRecords(sess, off)
	require.Len(t, updates, 1)
	assert.False(t, updates[0].On)
	assert.Equal(t, gate.Color, updates[0].Decision, "off always reaches the device")

	after := light.State()
	assert.False(t, after.On)
	assert.Equal(t, before.XY, after.XY, "off does not mutate chromaticity")
	assert.Equal(t, before.Bri, after.Bri)
	assert.Equal(t, before.ColorMode, after.ColorMode)
}

func TestApplyRecordsGateSuppressesRepeats(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolYeelight, Cfg: map[string]any{}}
	sup, sess := frameFixture(t, light)

	f := huestream.Frame{Version: 2, ColorSpace: huestream.ColorSpaceXY, Records: []huestream.Record{
		{Channel: 0, C1: 0x4CCC, C2: 0x4CCC, C3: 0xC800},
	}}

	first := sup.applyRecords(sess, f)
	require.Len(t, first, 1)
	assert.Equal(t, gate.Color, first[0].Decision, "first observation always sends")

	// the emitter delivered the sample, so its cell commits
	sess.gate.Commit(1, gate.Sample{X: first[0].X, Y: first[0].Y, Bri: first[0].Bri}, first[0].Decision)

	second := sup.applyRecords(sess, f)
	require.Len(t, second, 1)
	assert.Equal(t, gate.Noop, second[0].Decision, "identical frame is suppressed")
}

func TestApplyRecordsKeepsDecisionUntilCommitted(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolYeelight, Cfg: map[string]any{}}
	sup, sess := frameFixture(t, light)

	f := huestream.Frame{Version: 2, ColorSpace: huestream.ColorSpaceXY, Records: []huestream.Record{
		{Channel: 0, C1: 0x4CCC, C2: 0x4CCC, C3: 0xC800},
	}}

	// pacing or round-robin dropped the send: no commit happened, so the
	// same frame keeps demanding a send instead of going quiet
	for i := 0; i < 5; i++ {
		updates := sup.applyRecords(sess, f)
		require.Len(t, updates, 1)
		assert.Equal(t, gate.Color, updates[0].Decision)
	}
}

func TestDecodeRecordXYSpace(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}}

	rec := huestream.Record{C1: 0x4CCC, C2: 0x4CCC, C3: 0xC800}
	u := decodeRecord(light, 0, rec, huestream.ColorSpaceXY)

	assert.True(t, u.On)
	assert.InDelta(t, 0.3, u.X, 0.001)
	assert.InDelta(t, 0.3, u.Y, 0.001)
	assert.Equal(t, uint8(0xC8), u.Bri)
	assert.NotEqual(t, uint8(0), u.Color.R+u.Color.G+u.Color.B)
}

func TestDecodeRecordZeroBriFloor(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}}

	rec := huestream.Record{C1: 0x4CCC, C2: 0x4CCC, C3: 0x0000}
	u := decodeRecord(light, 0, rec, huestream.ColorSpaceXY)

	assert.True(t, u.On, "non-zero record turns the light on")
	assert.Equal(t, uint8(1), u.Bri)
}

func TestFinishIdempotent(t *testing.T) {
	light := &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}}
	sup, sess := frameFixture(t, light)

	sess.group.SetStreamActive(true, "owner")
	light.Update(func(st *state.LightState) { st.Mode = state.ModeStreaming })

	sup.finish(sess, KindCancelled)
	sup.finish(sess, KindTransportFatal)

	assert.False(t, sess.group.StreamActive())
	assert.Equal(t, state.ModeHomeAutomation, light.State().Mode)
	assert.Equal(t, KindCancelled, sup.Result(), "first teardown reason wins")
}

func TestStartUnknownGroup(t *testing.T) {
	sup, _ := frameFixture(t, &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}})

	err := sup.Start(t.Context(), "nope", "owner")
	assert.Error(t, err)
}

func TestStartRejectsConcurrentStart(t *testing.T) {
	sup, sess := frameFixture(t, &state.Light{ID: 1, Protocol: state.ProtocolNative, Cfg: map[string]any{}})

	// another Start holds the slot through its multi-second launch
	sup.mu.Lock()
	sup.starting = true
	sup.mu.Unlock()

	err := sup.Start(t.Context(), "1", "owner")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in progress")
	assert.False(t, sess.group.StreamActive(), "the losing caller never touches the group")
}
