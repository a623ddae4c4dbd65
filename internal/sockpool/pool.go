// SPDX-License-Identifier: MIT

// Package sockpool manages the session-scoped UDP sockets used by the
// emitters. Sockets are created lazily per destination host, get a large
// send buffer, and live until the session tears the pool down. A failed
// send never evicts a socket: the next frame simply retries.
package sockpool

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/log"
)

// Pool is a keyed host -> UDP socket map.
type Pool struct {
	sendBuf int
	logger  zerolog.Logger

	mu    sync.Mutex
	conns map[string]*net.UDPConn
}

// New returns a pool whose sockets get the given send buffer size.
func New(sendBufferBytes int) *Pool {
	return &Pool{
		sendBuf: sendBufferBytes,
		logger:  log.WithComponent("sockpool"),
		conns:   make(map[string]*net.UDPConn),
	}
}

// get returns the socket for host, creating it on first use.
func (p *Pool) get(host string) (*net.UDPConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[host]; ok {
		return c, nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("open udp socket for %s: %w", host, err)
	}
	if p.sendBuf > 0 {
		if err := conn.SetWriteBuffer(p.sendBuf); err != nil {
			p.logger.Debug().
				Err(err).
				Str("host", host).
				Int("bytes", p.sendBuf).
				Msg("could not grow send buffer")
		}
	}
	p.conns[host] = conn
	return conn, nil
}

// Send transmits one datagram to host:port. Transient send errors are
// returned to the caller; the socket stays pooled.
func (p *Pool) Send(host string, port int, payload []byte) error {
	conn, err := p.get(host)
	if err != nil {
		return err
	}

	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
		if err != nil {
			return fmt.Errorf("resolve %s: %w", host, err)
		}
		addr = resolved
	}

	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("udp send to %s:%d: %w", host, port, err)
	}
	return nil
}

// Len reports the number of pooled sockets.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close releases every socket. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, host)
	}
}
