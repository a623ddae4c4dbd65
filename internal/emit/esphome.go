// SPDX-License-Identifier: MIT

package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/sockpool"
	"github.com/hue2lan/hue2lan/internal/state"
)

// ESPHome drives ESPHome lights: a single 5-byte record per host,
// [0, r, g, b, max(r,g,b)], on the native UDP port.
type ESPHome struct {
	Pool *sockpool.Pool
}

func (e *ESPHome) Protocol() state.Protocol { return state.ProtocolESPHome }

func (e *ESPHome) Emit(ctx context.Context, updates []Update) error {
	seen := make(map[string]bool)
	var firstErr error

	for _, u := range updates {
		host := hostOf(u.Light)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true

		white := u.Color.R
		if u.Color.G > white {
			white = u.Color.G
		}
		if u.Color.B > white {
			white = u.Color.B
		}

		payload := []byte{0x00, u.Color.R, u.Color.G, u.Color.B, white}
		err := e.Pool.Send(host, NativePort, payload)
		metrics.IncEmitterSend(string(state.ProtocolESPHome), err == nil)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
