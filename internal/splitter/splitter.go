// SPDX-License-Identifier: MIT

// Package splitter forwards decrypted entertainment frames to upstream Hue
// bridges while mirroring them to the local pipeline. Frames headed upstream
// get their header UUID rewritten and their channel records remapped to the
// upstream group's compacted channel set.
package splitter

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/dtlsserver"
	"github.com/hue2lan/hue2lan/internal/fsm"
	"github.com/hue2lan/hue2lan/internal/huebridge"
	"github.com/hue2lan/hue2lan/internal/huestream"
	"github.com/hue2lan/hue2lan/internal/log"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/state"
)

// State is the splitter lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateSynced    State = "synced"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
)

// Event drives the lifecycle machine.
type Event string

const (
	eventSync   Event = "sync"
	eventLaunch Event = "launch"
	eventDrain  Event = "drain"
	eventReset  Event = "reset"
)

// Target is one upstream bridge receiving re-encrypted frames.
type Target struct {
	Bridge     *huebridge.Bridge
	GroupID    string
	UUID       string
	ChannelMap map[uint8]uint8

	conn net.Conn
	dead bool
}

// host names the target for logging; targets without a bridge handle (pipe
// conns in tests) stay anonymous.
func (t *Target) host() string {
	if t.Bridge != nil {
		return t.Bridge.IP
	}
	return ""
}

// Splitter owns the upstream fan-out for one session.
type Splitter struct {
	Syncer     *Syncer
	MirrorHost string
	MirrorPort int

	group   *state.EntertainmentGroup
	machine *fsm.Machine[State, Event]
	logger  zerolog.Logger

	// mu guards targets and mirror: Forward runs on the session's forward
	// goroutine while Stop drains from the control surface.
	mu      sync.Mutex
	targets []*Target
	mirror  *net.UDPConn
}

// New builds a splitter for the group. channelMap compacts local v2 channel
// indices onto the upstream group's contiguous index space.
func New(syncer *Syncer, group *state.EntertainmentGroup, channelMap map[uint8]uint8, mirrorHost string, mirrorPort int) (*Splitter, error) {
	s := &Splitter{
		Syncer:     syncer,
		MirrorHost: mirrorHost,
		MirrorPort: mirrorPort,
		group:      group,
		logger:     log.WithSession("splitter", group.ID),
	}

	machine, err := fsm.New(StateIdle, []fsm.Transition[State, Event]{
		{From: StateIdle, Event: eventSync, To: StateSynced,
			Action: func(ctx context.Context, _, _ State) error {
				return s.Syncer.Sync(ctx, group)
			}},
		{From: StateSynced, Event: eventLaunch, To: StateStreaming,
			Action: func(ctx context.Context, _, _ State) error {
				return s.launch(ctx, channelMap)
			}},
		{From: StateStreaming, Event: eventDrain, To: StateDraining,
			Action: func(ctx context.Context, _, _ State) error {
				s.drain(ctx)
				return nil
			}},
		{From: StateSynced, Event: eventDrain, To: StateDraining,
			Action: func(ctx context.Context, _, _ State) error {
				s.drain(ctx)
				return nil
			}},
		{From: StateDraining, Event: eventReset, To: StateIdle},
	})
	if err != nil {
		return nil, err
	}
	s.machine = machine
	return s, nil
}

// State returns the lifecycle state.
func (s *Splitter) State() State { return s.machine.State() }

// Start syncs the upstream group, activates its stream and dials the DTLS
// client. Any failure leaves the splitter idle so the session can run
// local-only.
func (s *Splitter) Start(ctx context.Context) error {
	if _, err := s.machine.Fire(ctx, eventSync); err != nil {
		return err
	}
	if _, err := s.machine.Fire(ctx, eventLaunch); err != nil {
		s.Stop(ctx)
		return err
	}
	return nil
}

// launch activates streaming upstream, then opens one DTLS client per
// target and the mirror socket.
func (s *Splitter) launch(ctx context.Context, channelMap map[uint8]uint8) error {
	stream := s.group.Stream()
	bridge := s.Syncer.Bridge

	if err := bridge.SetStreamActive(ctx, stream.UpstreamGroupID, true); err != nil {
		return err
	}

	conn, err := dtlsserver.DialUpstream(ctx, bridge.IP, bridge.User, bridge.ClientKey)
	if err != nil {
		// activation happened; make sure it is rolled back
		_ = bridge.SetStreamActive(context.WithoutCancel(ctx), stream.UpstreamGroupID, false)
		return err
	}

	mirrorAddr := &net.UDPAddr{IP: net.ParseIP(s.MirrorHost), Port: s.MirrorPort}
	mirror, err := net.DialUDP("udp", nil, mirrorAddr)
	if err != nil {
		_ = conn.Close()
		_ = bridge.SetStreamActive(context.WithoutCancel(ctx), stream.UpstreamGroupID, false)
		return fmt.Errorf("splitter: mirror socket: %w", err)
	}

	s.mu.Lock()
	s.targets = []*Target{{
		Bridge:     bridge,
		GroupID:    stream.UpstreamGroupID,
		UUID:       stream.UpstreamUUID,
		ChannelMap: channelMap,
		conn:       conn,
	}}
	s.mirror = mirror
	s.mu.Unlock()

	s.logger.Info().Str("upstream", bridge.IP).Int("channels", len(channelMap)).Msg("upstream forwarding up")
	return nil
}

// Forward fans one decrypted frame out to the mirror port and every live
// upstream target. The source buffer is never mutated; each target gets its
// own rewritten copy.
func (s *Splitter) Forward(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mirror != nil {
		if _, err := s.mirror.Write(frame); err != nil {
			s.logger.Debug().Err(err).Msg("mirror send failed")
		}
	}

	for _, t := range s.targets {
		if t.dead {
			continue
		}
		out := huestream.RewriteUUID(frame, t.UUID)
		out = huestream.RemapChannels(out, t.ChannelMap)
		if _, err := t.conn.Write(out); err != nil {
			metrics.SplitterForwards.WithLabelValues("error").Inc()
			t.dead = true
			s.logger.Warn().Str("upstream", t.host()).Err(err).Msg("upstream client died, dropping target")
			continue
		}
		metrics.SplitterForwards.WithLabelValues("ok").Inc()
	}
}

// LocalOnly reports whether no upstream target is left alive.
func (s *Splitter) LocalOnly() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.targets {
		if !t.dead {
			return false
		}
	}
	return true
}

// Stop drains the splitter: closes clients and the mirror socket and issues
// stream.active=false upstream, on error paths included. Idempotent.
func (s *Splitter) Stop(ctx context.Context) {
	if _, err := s.machine.Fire(ctx, eventDrain); err != nil {
		return // already idle or draining
	}
	_, _ = s.machine.Fire(ctx, eventReset)
}

func (s *Splitter) drain(ctx context.Context) {
	s.mu.Lock()
	s.closeTargets()
	if s.mirror != nil {
		_ = s.mirror.Close()
		s.mirror = nil
	}
	s.mu.Unlock()

	stream := s.group.Stream()
	if stream.UpstreamGroupID != "" {
		if err := s.Syncer.Bridge.SetStreamActive(context.WithoutCancel(ctx), stream.UpstreamGroupID, false); err != nil {
			s.logger.Warn().Err(err).Msg("upstream stream deactivation failed")
		}
	}
	s.logger.Info().Msg("splitter drained")
}

// closeTargets marks every target dead and closes its client. Callers hold
// s.mu; conns stay non-nil so a racing Forward never dereferences a gap.
func (s *Splitter) closeTargets() {
	for _, t := range s.targets {
		t.dead = true
		if t.conn != nil {
			_ = t.conn.Close()
		}
	}
	s.targets = nil
}
