// SPDX-License-Identifier: MIT

package splitter

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hue2lan/hue2lan/internal/huestream"
)

const (
	localUUID    = "aaaaaaaa-1111-2222-3333-444444444444"
	upstreamUUID = "bbbbbbbb-5555-6666-7777-888888888888"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.json")
	store := NewStore(path)

	_, ok, err := store.Get("TV")
	require.NoError(t, err)
	assert.False(t, ok, "missing file reads as empty table")

	require.NoError(t, store.Put("TV", Mapping{
		LocalUUID:     localUUID,
		BridgeUUID:    upstreamUUID,
		BridgeGroupID: "7",
	}))

	reread := NewStore(path)
	m, ok, err := reread.Get("TV")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, localUUID, m.LocalUUID)
	assert.Equal(t, upstreamUUID, m.BridgeUUID)
	assert.Equal(t, "7", m.BridgeGroupID)
	assert.WithinDuration(t, time.Now(), m.LastUpdated, time.Minute)
}

func TestStoreUpsertKeepsOtherGroups(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "mappings.json"))

	require.NoError(t, store.Put("TV", Mapping{BridgeGroupID: "1"}))
	require.NoError(t, store.Put("Desk", Mapping{BridgeGroupID: "2"}))
	require.NoError(t, store.Put("TV", Mapping{BridgeGroupID: "3"}))

	table, err := store.Load()
	require.NoError(t, err)

	want := map[string]Mapping{
		"TV":   {BridgeGroupID: "3"},
		"Desk": {BridgeGroupID: "2"},
	}
	diff := cmp.Diff(want, table, cmpopts.IgnoreFields(Mapping{}, "LastUpdated"))
	assert.Empty(t, diff)
}

// pipeTarget returns a target writing into a local pipe plus the reader end.
func pipeTarget(t *testing.T, channelMap map[uint8]uint8) (*Target, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &Target{UUID: upstreamUUID, ChannelMap: channelMap, conn: client}, server
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestForwardRewritesAndRemaps(t *testing.T) {
	target, reader := pipeTarget(t, map[uint8]uint8{0: 0, 2: 1, 3: 2})
	s := &Splitter{targets: []*Target{target}}

	frame := huestream.BuildV2(localUUID, 1, huestream.ColorSpaceRGB, []huestream.Record{
		{Channel: 0, C1: 0x1100, C2: 0x2200, C3: 0x3300},
		{Channel: 1, C1: 0x4400, C2: 0x5500, C3: 0x6600}, // dropped: wled channel
		{Channel: 2, C1: 0x7700, C2: 0x8800, C3: 0x9900},
		{Channel: 3, C1: 0xAA00, C2: 0xBB00, C3: 0xCC00},
	})
	original := append([]byte(nil), frame...)

	done := make(chan []byte, 1)
	go func() { done <- readFrame(t, reader) }()
	s.Forward(frame)
	out := <-done

	assert.Equal(t, original, frame, "source buffer never mutated")
	require.Len(t, out, huestream.HeaderV2Len+3*huestream.RecordV2Len)
	assert.Equal(t, upstreamUUID, string(out[huestream.UUIDStart:huestream.UUIDEnd]))

	// kept records in original order, indices rewritten to the compact space
	body := out[huestream.HeaderV2Len:]
	assert.Equal(t, byte(0), body[0])
	assert.Equal(t, byte(1), body[huestream.RecordV2Len])
	assert.Equal(t, byte(2), body[2*huestream.RecordV2Len])
	assert.Equal(t, byte(0x77), body[huestream.RecordV2Len+1])
}

func TestForwardMarksDeadTarget(t *testing.T) {
	client, server := net.Pipe()
	client.Close()
	server.Close()

	target := &Target{UUID: upstreamUUID, ChannelMap: map[uint8]uint8{0: 0}, conn: client}
	s := &Splitter{targets: []*Target{target}}

	frame := huestream.BuildV2(localUUID, 1, huestream.ColorSpaceRGB, []huestream.Record{{Channel: 0}})
	s.Forward(frame)

	assert.True(t, target.dead)
	assert.True(t, s.LocalOnly())

	// dead targets are skipped, not retried
	s.Forward(frame)
}

func TestForwardConcurrentWithTeardown(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	go func() {
		buf := make([]byte, 2048)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	target := &Target{UUID: upstreamUUID, ChannelMap: map[uint8]uint8{0: 0}, conn: client}
	s := &Splitter{targets: []*Target{target}}

	frame := huestream.BuildV2(localUUID, 2, huestream.ColorSpaceRGB, []huestream.Record{{Channel: 0}})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.Forward(frame)
		}
	}()

	// teardown mid-stream: a frame in flight must never hit a nil conn
	s.mu.Lock()
	s.closeTargets()
	s.mu.Unlock()
	<-done

	assert.True(t, s.LocalOnly())
}

func TestForwardMirrors(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer listener.Close()

	mirror, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer mirror.Close()

	s := &Splitter{mirror: mirror}

	frame := huestream.BuildV2(localUUID, 9, huestream.ColorSpaceRGB, []huestream.Record{{Channel: 0}})
	s.Forward(frame)

	buf := make([]byte, 2048)
	require.NoError(t, listener.SetReadDeadline(time.Now().Add(time.Second)))
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, frame, buf[:n], "mirror carries the unmodified frame")
}
