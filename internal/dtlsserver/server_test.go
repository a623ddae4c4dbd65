// SPDX-License-Identifier: MIT

package dtlsserver

import (
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hue2lan/hue2lan/internal/state"
)

const testKeyHex = "332b33fe8c6b5a4b5b5c84c2c4c2e4c1"

func testRegistry(t *testing.T) *state.Registry {
	t.Helper()
	reg := state.NewRegistry()
	reg.AddUser(&state.ApiUser{
		Username:  "streamuser",
		Name:      "hue sync box",
		ClientKey: testKeyHex,
	})
	return reg
}

func TestRegistryCredentials(t *testing.T) {
	creds := &RegistryCredentials{Registry: testRegistry(t)}

	key, err := creds.PSK("streamuser")
	require.NoError(t, err)
	assert.Len(t, key, 16)

	_, err = creds.PSK("nobody")
	assert.Error(t, err)
}

func TestRegistryCredentialsBadKey(t *testing.T) {
	reg := state.NewRegistry()
	reg.AddUser(&state.ApiUser{Username: "u1", Name: "app", ClientKey: "not-hex"})
	reg.AddUser(&state.ApiUser{Username: "u2", Name: "app"})

	creds := &RegistryCredentials{Registry: reg}
	_, err := creds.PSK("u1")
	assert.Error(t, err)
	_, err = creds.PSK("u2")
	assert.Error(t, err)
}

func TestServerHandshakeAndFrame(t *testing.T) {
	creds := &RegistryCredentials{Registry: testRegistry(t)}

	srv, err := Listen(0, creds)
	require.NoError(t, err)
	defer srv.Close()

	port := srv.ln.Addr().(*net.UDPAddr).Port

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	frame := []byte("HueStream\x02\x00\x00\x00\x00\x00\x00")

	go func() {
		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
		conn, err := dtls.Dial("udp", addr, &dtls.Config{
			CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
			PSK:             func([]byte) ([]byte, error) { return mustHex(testKeyHex), nil },
			PSKIdentityHint: []byte("streamuser"),
		})
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.HandshakeContext(ctx); err != nil {
			return
		}
		_, _ = conn.Write(frame)
		<-ctx.Done()
	}()

	conn, err := srv.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "streamuser", srv.ClientIdentity())

	got, err := conn.ReadFrame(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestReadFrameTimeout(t *testing.T) {
	creds := &RegistryCredentials{Registry: testRegistry(t)}

	srv, err := Listen(0, creds)
	require.NoError(t, err)
	defer srv.Close()

	port := srv.ln.Addr().(*net.UDPAddr).Port
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
		conn, err := dtls.Dial("udp", addr, &dtls.Config{
			CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
			PSK:             func([]byte) ([]byte, error) { return mustHex(testKeyHex), nil },
			PSKIdentityHint: []byte("streamuser"),
		})
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.HandshakeContext(ctx)
		<-ctx.Done() // connected but silent
	}()

	conn, err := srv.Accept(ctx)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame(200 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeoutNoData)
}

func TestAcceptContextExpired(t *testing.T) {
	creds := &RegistryCredentials{Registry: testRegistry(t)}

	srv, err := Listen(0, creds)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = srv.Accept(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// closing the listener unblocks the abandoned accept path
	srv.Close()
}

func mustHex(s string) []byte {
	key, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return key
}
