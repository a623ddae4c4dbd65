// SPDX-License-Identifier: MIT

package dtlsserver

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v3"
)

// clientMTU keeps the re-encrypted frames under the path MTU so the
// upstream bridge never sees fragments.
const clientMTU = 1200

const dialTimeout = 5 * time.Second

// DialUpstream opens the DTLS client session toward an upstream bridge.
// identity and hexKey come from the upstream bridge credentials.
func DialUpstream(ctx context.Context, host string, identity, hexKey string) (net.Conn, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: client key is not hex: %w", host, err)
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(Port)))
	if err != nil {
		return nil, fmt.Errorf("upstream %s: resolve: %w", host, err)
	}

	cfg := &dtls.Config{
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
		PSK:             func([]byte) ([]byte, error) { return key, nil },
		PSKIdentityHint: []byte(identity),
		MTU:             clientMTU,
	}

	conn, err := dtls.Dial("udp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: dtls dial: %w", host, err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := conn.HandshakeContext(hsCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("upstream %s: dtls handshake: %w", host, err)
	}
	return conn, nil
}
