// SPDX-License-Identifier: MIT

// Package session owns the entertainment session lifecycle: it terminates
// the DTLS stream, parses HueStream frames, updates light state, and fans
// the per-frame updates out to the protocol emitters through a bounded
// worker pool. At most one session runs per process.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hue2lan/hue2lan/internal/color"
	"github.com/hue2lan/hue2lan/internal/config"
	"github.com/hue2lan/hue2lan/internal/dtlsserver"
	"github.com/hue2lan/hue2lan/internal/emit"
	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/huebridge"
	"github.com/hue2lan/hue2lan/internal/huestream"
	"github.com/hue2lan/hue2lan/internal/log"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/pace"
	"github.com/hue2lan/hue2lan/internal/profile"
	"github.com/hue2lan/hue2lan/internal/sockpool"
	"github.com/hue2lan/hue2lan/internal/splitter"
	"github.com/hue2lan/hue2lan/internal/state"
	"github.com/hue2lan/hue2lan/internal/yeelight"
)

const (
	frameTimeout = 5 * time.Second
	// maxMirrorFrame matches the DTLS server's frame ceiling.
	maxMirrorFrame = 2048
	// maxConsecutiveInvalid aborts the session when the source stops
	// speaking HueStream.
	maxConsecutiveInvalid = 10

	fpsComputeEvery = time.Second
	fpsLogEvery     = 5 * time.Second
)

// FrameSource yields decrypted HueStream frames, one per read.
type FrameSource interface {
	ReadFrame(timeout time.Duration) ([]byte, error)
	Close()
}

// Supervisor drives entertainment sessions for the process.
type Supervisor struct {
	Registry *state.Registry
	Cfg      config.Config
	Profile  profile.Settings

	// Setter is the REST collaborator serving fallback-protocol lights;
	// nil disables the fallback bucket.
	Setter emit.LightSetter
	// Mappings persists the upstream group identity cache.
	Mappings *splitter.Store

	logger zerolog.Logger

	mu       sync.Mutex
	active   *session
	starting bool
	result   Kind
}

// New returns a supervisor bound to the registry.
func New(reg *state.Registry, cfg config.Config, prof profile.Settings) *Supervisor {
	return &Supervisor{
		Registry: reg,
		Cfg:      cfg,
		Profile:  prof,
		Mappings: splitter.NewStore(filepath.Join(cfg.DataDir, "entertainment_mappings.json")),
		logger:   log.WithComponent("session"),
	}
}

// session is the per-run state torn down exactly once.
type session struct {
	group  *state.EntertainmentGroup
	routes *Routes
	pool   *sockpool.Pool
	table  emit.Table
	gate   *gate.Gate
	split  *splitter.Splitter
	server *dtlsserver.Server
	conn   *dtlsserver.Conn
	source FrameSource
	music  *yeelight.MusicServer
	yee    *emit.Yeelight

	logger     zerolog.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	downgraded bool
	teardown   sync.Once
}

// Start brings up a session on the group. It blocks until the DTLS client
// has connected and delivered its first frame, or fails with the error kind.
func (s *Supervisor) Start(ctx context.Context, groupID, owner string) error {
	s.mu.Lock()
	if s.active != nil {
		id := s.active.group.ID
		s.mu.Unlock()
		return fmt.Errorf("session already active on group %s", id)
	}
	if s.starting {
		s.mu.Unlock()
		return fmt.Errorf("session start already in progress")
	}
	// hold the slot across the multi-second launch so a concurrent Start
	// cannot race past the active check
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	group, err := s.Registry.Group(groupID)
	if err != nil {
		return err
	}

	// callers that don't name an owner get the likeliest streaming client
	ownerUser, known := s.Registry.User(owner)
	if !known {
		ownerUser = state.PreferredStreamUser(s.Registry.Users(), nil)
	}
	if ownerUser != nil {
		owner = ownerUser.Username
	}

	sess := &session{
		group:  group,
		routes: Resolve(group),
		gate:   gate.New(gate.Tolerances{CIE: s.Profile.CIETolerance, Bri: s.Profile.BriTolerance}),
		logger: log.WithSession("session", groupID),
		done:   make(chan struct{}),
	}

	group.SetStreamActive(true, owner)
	for _, l := range group.Lights() {
		l.Update(func(st *state.LightState) {
			st.Mode = state.ModeStreaming
			st.On = true
			st.ColorMode = "xy"
		})
	}

	if err := s.launch(ctx, sess); err != nil {
		s.finish(sess, kindOf(err))
		metrics.IncSessionStart(false)
		return err
	}

	s.mu.Lock()
	s.active = sess
	s.result = ""
	s.mu.Unlock()
	metrics.IncSessionStart(true)
	return nil
}

// launch builds the emitters, brings up splitter and DTLS server, and waits
// for the first frame before handing off to the run loop.
func (s *Supervisor) launch(ctx context.Context, sess *session) error {
	sess.pool = sockpool.New(s.Profile.UDPSendBufferBytes)
	if err := s.buildTable(sess); err != nil {
		return err
	}

	var mirror *mirrorSource
	if len(sess.routes.UpstreamSubset) > 0 {
		split, m, err := s.startSplitter(ctx, sess)
		if err != nil {
			// downgrade: the session still runs local-only
			sess.logger.Warn().Err(err).Msg("upstream splitter unavailable, running local-only")
			s.setResult(KindUpstreamRejected)
		} else {
			sess.split = split
			mirror = m
		}
	}

	server, err := dtlsserver.Listen(dtlsserver.Port, &dtlsserver.RegistryCredentials{Registry: s.Registry})
	if err != nil {
		return errKind(KindResourceExhausted, err)
	}
	sess.server = server

	acceptCtx, cancel := context.WithTimeout(ctx, dtlsserver.FirstDataTimeout)
	conn, err := server.Accept(acceptCtx)
	cancel()
	if err != nil {
		if errors.Is(err, dtlsserver.ErrPSKRejected) {
			return errKind(KindAuthRejected, err)
		}
		return errKind(KindTransportFatal, err)
	}
	sess.conn = conn

	first, err := conn.ReadFrame(dtlsserver.FirstDataTimeout)
	if err != nil {
		return errKind(KindTransportFatal, err)
	}

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	sess.cancel = cancelRun

	if sess.split != nil {
		sess.source = mirror
		sess.split.Forward(first)
		go s.forwardLoop(sess)
		first = nil // the run loop reads it back off the mirror
	} else {
		sess.source = conn
	}

	go s.run(runCtx, sess, first)
	return nil
}

// startSplitter syncs the upstream group and opens the mirror path.
func (s *Supervisor) startSplitter(ctx context.Context, sess *session) (*splitter.Splitter, *mirrorSource, error) {
	lead := sess.routes.UpstreamSubset[0]
	ip := lead.CfgString("ip")
	user := lead.CfgString("hue_user")
	key := lead.CfgString("hue_key")
	if ip == "" || user == "" {
		return nil, nil, fmt.Errorf("upstream light %d carries no bridge credentials", lead.ID)
	}

	mirror, err := listenMirror(s.Cfg.Streaming.MirrorHost, s.Cfg.Streaming.MirrorPort, s.Profile.FrameBufferDepth)
	if err != nil {
		return nil, nil, err
	}

	syncer := splitter.NewSyncer(huebridge.New(ip, user, key), s.Mappings)
	split, err := splitter.New(syncer, sess.group, sess.routes.ChannelMap,
		s.Cfg.Streaming.MirrorHost, s.Cfg.Streaming.MirrorPort)
	if err != nil {
		mirror.Close()
		return nil, nil, err
	}
	if err := split.Start(ctx); err != nil {
		mirror.Close()
		return nil, nil, err
	}
	return split, mirror, nil
}

// forwardLoop pumps decrypted DTLS frames into the splitter while the
// session lives. The run loop consumes them back from the mirror port.
func (s *Supervisor) forwardLoop(sess *session) {
	for sess.group.StreamActive() {
		frame, err := sess.conn.ReadFrame(frameTimeout)
		if err != nil {
			sess.logger.Debug().Err(err).Msg("dtls read ended")
			return
		}
		sess.split.Forward(frame)
	}
}

// buildTable wires one emitter per protocol present in the group.
func (s *Supervisor) buildTable(sess *session) error {
	table := make(emit.Table)
	table.Register(&emit.Native{Pool: sess.pool})
	table.Register(&emit.ESPHome{Pool: sess.pool})
	table.Register(&emit.WLED{Pool: sess.pool, Smoothing: s.Profile.EnableSmoothing})
	table.Register(&emit.LIFX{Pool: sess.pool, Limiter: pace.New("lifx", s.Cfg.LIFX.MaxFPS)})

	if len(sess.routes.Buckets[state.ProtocolYeelight]) > 0 {
		music, err := yeelight.NewMusicServer(s.Cfg.Yeelight.Port)
		if err != nil {
			return err
		}
		sess.music = music
		sess.yee = &emit.Yeelight{
			Server:  music,
			Limiter: pace.New("yeelight", s.Cfg.Yeelight.MaxFPS),
			// bulbs tolerate far less chatter than the session gate allows
			Gate:        gate.New(gate.Tolerances{CIE: s.Cfg.Yeelight.CIETolerance, Bri: s.Cfg.Yeelight.BriTolerance}),
			AdvertiseIP: s.Cfg.Yeelight.HostIP,
			SmoothMs:    s.Cfg.Yeelight.SmoothMs,
			Require:     s.Cfg.Yeelight.Require,
		}
		table.Register(sess.yee)
	}

	if s.Cfg.MQTT.Broker != "" && len(sess.routes.Buckets[state.ProtocolMQTT]) > 0 {
		pub, err := emit.NewMQTTPublisher(s.Cfg.MQTT.Broker, s.Cfg.MQTT.ClientID,
			s.Cfg.MQTT.Username, s.Cfg.MQTT.Password)
		if err != nil {
			sess.logger.Warn().Err(err).Msg("mqtt broker unavailable, bucket disabled")
		} else {
			table.Register(&emit.MQTT{Client: pub, Gate: sess.gate})
		}
	}

	if s.Cfg.HomeAssistant.URL != "" && len(sess.routes.Buckets[state.ProtocolHomeAssistant]) > 0 {
		table.Register(&emit.HomeAssistant{
			Caller: emit.NewHomeAssistantCaller(s.Cfg.HomeAssistant.URL, s.Cfg.HomeAssistant.Token),
			Gate:   sess.gate,
		})
	}

	if s.Setter != nil {
		table.Register(&emit.Fallback{Setter: s.Setter, Gate: sess.gate})
	}

	sess.table = table
	return nil
}

// run is the frame loop. first may carry the frame consumed during start.
func (s *Supervisor) run(ctx context.Context, sess *session, first []byte) {
	defer close(sess.done)
	defer s.finish(sess, KindCancelled)

	invalid := 0
	frames := 0
	windowStart := time.Now()
	lastLog := windowStart

	for sess.group.StreamActive() && ctx.Err() == nil {
		frame := first
		first = nil
		if frame == nil {
			var err error
			frame, err = sess.source.ReadFrame(frameTimeout)
			if errors.Is(err, dtlsserver.ErrTimeoutNoData) {
				if !sess.group.StreamActive() {
					return
				}
				sess.logger.Warn().Msg("no frames for 5s, draining session")
				s.setResult(KindTransportFatal)
				return
			}
			if err != nil {
				if sess.group.StreamActive() {
					sess.logger.Warn().Err(err).Msg("frame source died")
					s.setResult(KindTransportFatal)
				}
				return
			}
		}

		if err := s.processFrame(ctx, sess, frame); err != nil {
			invalid++
			metrics.FramesInvalid.Inc()
			if invalid >= maxConsecutiveInvalid {
				sess.logger.Error().Int("consecutive", invalid).Msg("too many invalid frames, aborting")
				s.setResult(KindProtocolFormat)
				return
			}
			continue
		}
		invalid = 0
		frames++

		if sess.split != nil && !sess.downgraded && sess.split.LocalOnly() {
			// the splitter keeps mirroring; upstream deactivation waits
			// for the external stop so it is issued exactly once
			sess.logger.Warn().Msg("all upstream targets dead, continuing local-only")
			sess.downgraded = true
		}

		now := time.Now()
		if elapsed := now.Sub(windowStart); elapsed >= fpsComputeEvery {
			fps := float64(frames) / elapsed.Seconds()
			metrics.SessionFPS.Set(fps)
			if now.Sub(lastLog) >= fpsLogEvery {
				ev := sess.logger.Info()
				if target := float64(s.Profile.TargetFPS); target > 0 && fps < 0.8*target {
					ev = sess.logger.Warn().Int("target_fps", s.Profile.TargetFPS)
				}
				ev.Float64("fps", fps).Msg("session throughput")
				lastLog = now
			}
			frames = 0
			windowStart = now
		}
	}
}

// processFrame parses one frame, applies light state, and dispatches the
// emitter buckets on the worker pool.
func (s *Supervisor) processFrame(ctx context.Context, sess *session, frame []byte) error {
	f, err := huestream.Parse(frame)
	if err != nil {
		return err
	}
	metrics.FramesDecoded.WithLabelValues(fmt.Sprint(f.Version)).Inc()

	updates := s.applyRecords(sess, f)
	if len(updates) == 0 {
		return nil
	}

	buckets := make(map[state.Protocol][]emit.Update)
	for _, u := range updates {
		p := u.Light.Protocol
		if p == state.ProtocolHue {
			continue // the splitter already forwarded the raw frame
		}
		if _, ok := sess.table[p]; !ok {
			p = state.ProtocolFallback
			if _, ok := sess.table[p]; !ok {
				continue
			}
		}
		buckets[p] = append(buckets[p], u)
	}

	workers := s.Profile.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for proto, bucket := range buckets {
		emitter := sess.table[proto]
		bucket := bucket
		g.Go(func() error {
			if err := emitter.Emit(gctx, bucket); err != nil {
				// transient: skip this emitter for the rest of the frame
				sess.logger.Debug().Str("protocol", string(emitter.Protocol())).Err(err).Msg("emitter error")
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// applyRecords folds the frame's records into light state and emitter
// updates. The last record per (light, segment) wins; gate decisions are
// taken once per light from its final sample.
func (s *Supervisor) applyRecords(sess *session, f huestream.Frame) []emit.Update {
	type slot struct{ id, seg int }
	index := make(map[slot]int)
	var updates []emit.Update
	occurrence := make(map[uint16]int)

	for _, rec := range f.Records {
		var light *state.Light
		var segment int

		switch f.Version {
		case 1:
			l, ok := sess.routes.Light(rec.LightID)
			if !ok {
				continue
			}
			light = l
			segment = occurrence[rec.LightID]
			occurrence[rec.LightID]++
		default:
			ch, ok := sess.routes.Channel(rec.Channel)
			if !ok {
				continue
			}
			light = ch.Light
			segment = ch.Segment
		}

		u := decodeRecord(light, segment, rec, f.ColorSpace)
		k := slot{int(light.ID), segment}
		if i, ok := index[k]; ok {
			updates[i] = u
		} else {
			index[k] = len(updates)
			updates = append(updates, u)
		}
	}

	// per-light state and gate decision come from the light's final sample
	final := make(map[uint16]int)
	for i := range updates {
		final[updates[i].Light.ID] = i
	}
	decisions := make(map[uint16]gate.Decision, len(final))
	for id, i := range final {
		u := &updates[i]
		applyState(u)

		var d gate.Decision
		if !u.On {
			d = gate.Color // off must always reach the device
		} else {
			// advisory only; emitters commit the cell after the send
			// actually went out, so paced or round-robined lights keep
			// their pending change
			d = sess.gate.Decide(id, gate.Sample{X: u.X, Y: u.Y, Bri: u.Bri})
		}
		metrics.GateDecisions.WithLabelValues(d.String()).Inc()
		decisions[id] = d
	}
	for i := range updates {
		updates[i].Decision = decisions[updates[i].Light.ID]
	}
	return updates
}

// decodeRecord interprets one record under the frame's color space.
func decodeRecord(light *state.Light, segment int, rec huestream.Record, space huestream.ColorSpace) emit.Update {
	u := emit.Update{Light: light, Segment: segment}

	if rec.Off() {
		u.On = false
		return u
	}
	u.On = true

	if space == huestream.ColorSpaceXY {
		x, y, bri := rec.XYBri()
		if bri == 0 {
			bri = 1
		}
		u.X, u.Y, u.Bri = x, y, bri
		u.Color = color.XYToRGB(x, y, bri)
		return u
	}

	u.Color = rec.RGB()
	u.Bri = rec.Brightness()
	u.X, u.Y, _ = color.RGBToXY(u.Color)
	return u
}

// applyState writes an update's final sample into the light registry. Off
// records only clear the power flag.
func applyState(u *emit.Update) {
	if !u.On {
		u.Light.Update(func(st *state.LightState) { st.On = false })
		return
	}
	u.Light.Update(func(st *state.LightState) {
		st.On = true
		st.Bri = u.Bri
		st.XY = [2]float64{u.X, u.Y}
		st.ColorMode = "xy"
	})
}

// Stop tears the active session down. Always succeeds from the caller's
// perspective; teardown is idempotent.
func (s *Supervisor) Stop(ctx context.Context, groupID string) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess == nil || sess.group.ID != groupID {
		return
	}

	sess.group.SetStreamActive(false, "")
	if sess.cancel != nil {
		sess.cancel()
	}
	select {
	case <-sess.done:
	case <-time.After(2 * frameTimeout):
		sess.logger.Warn().Msg("run loop slow to exit, forcing teardown")
	}
	s.finish(sess, KindCancelled)
}

// Result reports the last session's failure kind; empty while healthy.
func (s *Supervisor) Result() Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Supervisor) setResult(k Kind) {
	s.mu.Lock()
	if s.result == "" || k == KindCancelled {
		s.result = k
	}
	s.mu.Unlock()
}

// finish is the single teardown path: stream flag, splitter, sockets,
// light modes. Safe to call multiple times.
func (s *Supervisor) finish(sess *session, reason Kind) {
	sess.teardown.Do(func() {
		sess.group.SetStreamActive(false, "")

		if sess.split != nil {
			sess.split.Stop(context.Background())
		}
		if sess.conn != nil {
			sess.conn.Close()
		}
		if sess.server != nil {
			sess.server.Close()
		}
		if sess.source != nil {
			sess.source.Close()
		}
		if sess.yee != nil {
			sess.yee.Close()
		}
		if sess.music != nil {
			sess.music.Close()
		}
		if sess.pool != nil {
			sess.pool.Close()
		}

		for _, l := range sess.group.Lights() {
			l.Update(func(st *state.LightState) { st.Mode = state.ModeHomeAutomation })
		}

		s.mu.Lock()
		if s.active == sess {
			s.active = nil
		}
		if s.result == "" {
			s.result = reason
		}
		s.mu.Unlock()

		sess.logger.Info().Str("reason", string(reason)).Msg("session torn down")
	})
}

// mirrorSource reads decrypted frames off the local mirror port.
type mirrorSource struct {
	conn *net.UDPConn
	buf  []byte
}

func listenMirror(host string, port, frameDepth int) (*mirrorSource, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("mirror listen %s:%d: %w", host, port, err)
	}
	if frameDepth > 0 {
		// hold up to a profile's worth of frames when the run loop lags
		_ = conn.SetReadBuffer(frameDepth * maxMirrorFrame)
	}
	return &mirrorSource{conn: conn, buf: make([]byte, maxMirrorFrame)}, nil
}

func (m *mirrorSource) ReadFrame(timeout time.Duration) ([]byte, error) {
	if err := m.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, _, err := m.conn.ReadFromUDP(m.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, dtlsserver.ErrTimeoutNoData
		}
		return nil, err
	}
	frame := make([]byte, n)
	copy(frame, m.buf[:n])
	return frame, nil
}

func (m *mirrorSource) Close() {
	_ = m.conn.Close()
}

// kindOf extracts the failure kind, defaulting to transport-fatal.
func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransportFatal
}
