// SPDX-License-Identifier: MIT

// Package dtlsserver terminates the entertainment client's DTLS 1.2 PSK
// session. It accepts exactly one client per session; decrypted application
// datagrams come out one frame at a time. The handshake never leaks to the
// frame parser.
package dtlsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/log"
)

// Port is the fixed entertainment DTLS port.
const Port = 2100

// FirstDataTimeout bounds the wait between server up and the first frame.
const FirstDataTimeout = 5 * time.Second

// maxFrame is larger than any HueStream frame a bridge emits.
const maxFrame = 2048

var (
	ErrBindFailed    = errors.New("dtls: bind failed")
	ErrPSKRejected   = errors.New("dtls: psk rejected by peer")
	ErrTimeoutNoData = errors.New("dtls: no data within deadline")
)

// Credentials resolves a PSK identity to its key.
type Credentials interface {
	PSK(identity string) ([]byte, error)
}

// Server is the single-client DTLS endpoint.
type Server struct {
	ln     net.Listener
	logger zerolog.Logger

	mu       sync.Mutex
	identity string
	closed   bool
}

// Listen binds the DTLS listener. A failed bind is retried once after a
// short grace period in case a previous session is still tearing down.
func Listen(port int, creds Credentials) (*Server, error) {
	s := &Server{logger: log.WithComponent("dtls")}

	cfg := &dtls.Config{
		CipherSuites: []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
		PSK: func(hint []byte) ([]byte, error) {
			identity := string(hint)
			key, err := creds.PSK(identity)
			if err != nil {
				s.logger.Warn().Str("identity", identity).Err(err).Msg("psk lookup failed")
				return nil, err
			}
			s.mu.Lock()
			s.identity = identity
			s.mu.Unlock()
			return key, nil
		},
		PSKIdentityHint: []byte("hue2lan"),
	}

	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	ln, err := dtls.Listen("udp", addr, cfg)
	if err != nil {
		s.logger.Warn().Int("port", port).Err(err).Msg("bind failed, retrying once")
		time.Sleep(500 * time.Millisecond)
		ln, err = dtls.Listen("udp", addr, cfg)
		if err != nil {
			return nil, fmt.Errorf("%w: port %d: %v", ErrBindFailed, port, err)
		}
	}

	s.ln = ln
	s.logger.Info().Int("port", port).Msg("dtls server listening")
	return s, nil
}

// ClientIdentity returns the PSK identity of the connected client, once the
// handshake has run.
func (s *Server) ClientIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Accept waits for the single client and completes its handshake. A
// handshake failure is reported as a PSK rejection: with this cipher suite
// there is nothing else for the peer to object to.
func (s *Server) Accept(ctx context.Context) (*Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := s.ln.Accept()
		ch <- result{conn, err}
	}()

	var raw net.Conn
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("dtls accept: %w", r.err)
		}
		raw = r.conn
	case <-ctx.Done():
		// a client landing after the deadline is abandoned, not leaked
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}

	dconn, ok := raw.(*dtls.Conn)
	if !ok {
		_ = raw.Close()
		return nil, fmt.Errorf("dtls accept: unexpected conn type %T", raw)
	}

	hsCtx, cancel := context.WithTimeout(ctx, FirstDataTimeout)
	defer cancel()
	if err := dconn.HandshakeContext(hsCtx); err != nil {
		_ = dconn.Close()
		if hsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: handshake", ErrTimeoutNoData)
		}
		return nil, fmt.Errorf("%w: %v", ErrPSKRejected, err)
	}

	s.logger.Info().
		Str("identity", s.ClientIdentity()).
		Str("peer", dconn.RemoteAddr().String()).
		Msg("client connected")
	return &Conn{conn: dconn, buf: make([]byte, maxFrame)}, nil
}

// Close stops the listener. Idempotent.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

// Conn is the accepted client connection. One Read returns one decrypted
// datagram, which is one HueStream frame.
type Conn struct {
	conn net.Conn
	buf  []byte
}

// ReadFrame returns the next frame, waiting at most timeout. A deadline
// expiry surfaces as ErrTimeoutNoData.
func (c *Conn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	n, err := c.conn.Read(c.buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, ErrTimeoutNoData
		}
		return nil, err
	}
	frame := make([]byte, n)
	copy(frame, c.buf[:n])
	return frame, nil
}

// Close tears down the client session.
func (c *Conn) Close() {
	_ = c.conn.Close()
}
