// SPDX-License-Identifier: MIT

// Package yeelight drives Yeelight bulbs in music mode: a shared TCP server
// accepts the device-initiated music connections, and per-device handles
// carry the connection state machine (disconnected, basic, music).
package yeelight

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/log"
)

// ControlPort is the standard Yeelight TCP control port.
const ControlPort = 55443

// HandshakeTimeout bounds the wait for a device-initiated music connection.
const HandshakeTimeout = 12 * time.Second

const writeTimeout = 5 * time.Second

// MusicServer is the single shared listener all devices connect back to.
// Incoming connections are matched to devices by source IP.
type MusicServer struct {
	ln     net.Listener
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]chan net.Conn // device IP -> waiter
	closed  bool
}

// NewMusicServer starts the shared inbound listener.
func NewMusicServer(port int) (*MusicServer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("yeelight music server listen: %w", err)
	}
	s := &MusicServer{
		ln:      ln,
		logger:  log.WithComponent("yeelight"),
		pending: make(map[string]chan net.Conn),
	}
	go s.acceptLoop()
	return s, nil
}

// Port returns the bound listener port.
func (s *MusicServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *MusicServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return // listener closed
		}
		ip := remoteIP(conn)

		s.mu.Lock()
		waiter, ok := s.pending[ip]
		if ok {
			delete(s.pending, ip)
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Debug().Str("host", ip).Msg("unsolicited music connection dropped")
			_ = conn.Close()
			continue
		}
		waiter <- conn
	}
}

// Await blocks until the device at ip initiates its music connection.
func (s *MusicServer) Await(ctx context.Context, ip string, timeout time.Duration) (net.Conn, error) {
	ch := make(chan net.Conn, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("yeelight music server closed")
	}
	s.pending[ip] = ch
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case conn := <-ch:
		return conn, nil
	case <-timer.C:
		s.abandon(ip, ch)
		return nil, fmt.Errorf("yeelight %s: music handshake timed out after %s", ip, timeout)
	case <-ctx.Done():
		s.abandon(ip, ch)
		return nil, ctx.Err()
	}
}

func (s *MusicServer) abandon(ip string, ch chan net.Conn) {
	s.mu.Lock()
	delete(s.pending, ip)
	s.mu.Unlock()
	// a connection may have raced in
	select {
	case conn := <-ch:
		_ = conn.Close()
	default:
	}
}

// Close stops the listener. Devices already in music mode keep their
// connections; those are owned by their Device handles.
func (s *MusicServer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.ln.Close()
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

// connState is the per-device connection state.
type connState int

const (
	stateDisconnected connState = iota
	stateBasic
	stateMusic
)

// Device is one Yeelight bulb handle. Not safe for concurrent use; the
// pipeline services a given device from a single worker per frame.
type Device struct {
	IP string

	server *MusicServer
	logger zerolog.Logger

	state     connState
	conn      net.Conn
	reqID     int
	musicDead bool // handshake failed once; never retried this session
}

// NewDevice returns a handle for the bulb at ip.
func NewDevice(ip string, server *MusicServer) *Device {
	return &Device{
		IP:     ip,
		server: server,
		logger: log.WithComponent("yeelight"),
	}
}

// MusicMode reports whether the music connection is established.
func (d *Device) MusicMode() bool {
	return d.state == stateMusic
}

// MusicFailed reports whether the handshake failed earlier in this session.
func (d *Device) MusicFailed() bool {
	return d.musicDead
}

// EnsureMusic drives the state machine to music mode: connect the control
// port, request set_music toward advertiseIP and the shared server port,
// drop the control connection and wait for the bulb to dial back. With
// require=false a timeout silently leaves the device in basic mode and the
// handshake is never retried for the session.
func (d *Device) EnsureMusic(ctx context.Context, advertiseIP string, require bool) error {
	if d.state == stateMusic || d.musicDead {
		return nil
	}

	if err := d.connectBasic(); err != nil {
		return err
	}

	req := fmt.Sprintf(`{"id":%d,"method":"set_music","params":[1,"%s",%d]}`+"\r\n",
		d.nextID(), advertiseIP, d.server.Port())
	if err := d.write([]byte(req)); err != nil {
		d.drop()
		return fmt.Errorf("yeelight %s: set_music: %w", d.IP, err)
	}

	// the bulb initiates the music connection; the control one is done
	d.drop()

	conn, err := d.server.Await(ctx, d.IP, HandshakeTimeout)
	if err != nil {
		d.musicDead = true
		if require {
			return err
		}
		d.logger.Warn().Str("host", d.IP).Err(err).Msg("music mode unavailable, falling back to basic mode")
		return d.connectBasic()
	}

	d.conn = conn
	d.state = stateMusic
	d.logger.Info().Str("host", d.IP).Msg("music mode established")
	return nil
}

// SetRGB issues a smooth color change.
func (d *Device) SetRGB(r, g, b uint8, smoothMs int) error {
	rgb := int(r)<<16 | int(g)<<8 | int(b)
	cmd := fmt.Sprintf(`{"id":%d,"method":"set_rgb","params":[%d,"smooth",%d]}`+"\r\n",
		d.nextID(), rgb, smoothMs)
	return d.send([]byte(cmd))
}

// SetBright issues a smooth brightness-only change; bri is 1..100.
func (d *Device) SetBright(bri int, smoothMs int) error {
	if bri < 1 {
		bri = 1
	}
	if bri > 100 {
		bri = 100
	}
	cmd := fmt.Sprintf(`{"id":%d,"method":"set_bright","params":[%d,"smooth",%d]}`+"\r\n",
		d.nextID(), bri, smoothMs)
	return d.send([]byte(cmd))
}

func (d *Device) send(cmd []byte) error {
	if d.state == stateDisconnected {
		if err := d.connectBasic(); err != nil {
			return err
		}
	}
	if err := d.write(cmd); err != nil {
		d.drop()
		return fmt.Errorf("yeelight %s: send: %w", d.IP, err)
	}
	return nil
}

func (d *Device) connectBasic() error {
	if d.state != stateDisconnected {
		return nil
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", d.IP, ControlPort), writeTimeout)
	if err != nil {
		return fmt.Errorf("yeelight %s: connect: %w", d.IP, err)
	}
	d.conn = conn
	d.state = stateBasic
	return nil
}

func (d *Device) write(data []byte) error {
	if d.conn == nil {
		return fmt.Errorf("yeelight %s: not connected", d.IP)
	}
	if err := d.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := d.conn.Write(data)
	return err
}

func (d *Device) drop() {
	if d.conn != nil {
		_ = d.conn.Close()
		d.conn = nil
	}
	d.state = stateDisconnected
}

// Close releases the device connection.
func (d *Device) Close() {
	d.drop()
}

func (d *Device) nextID() int {
	d.reqID++
	return d.reqID
}

// command mirrors the wire shape for tests.
type command struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// ParseCommand decodes one newline-terminated command; used by tests and
// diagnostic tooling.
func ParseCommand(line string) (method string, params []any, err error) {
	var c command
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &c); err != nil {
		return "", nil, err
	}
	return c.Method, c.Params, nil
}
