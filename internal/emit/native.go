// SPDX-License-Identifier: MIT

package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/sockpool"
	"github.com/hue2lan/hue2lan/internal/state"
)

// NativePort is the UDP port native and esphome bulbs listen on.
const NativePort = 2100

// Native drives generic UDP bulbs: one datagram per host, concatenated
// 4-byte [segment, r, g, b] records. Fire-and-forget.
type Native struct {
	Pool *sockpool.Pool
}

func (n *Native) Protocol() state.Protocol { return state.ProtocolNative }

func (n *Native) Emit(ctx context.Context, updates []Update) error {
	type accum struct {
		host string
		buf  []byte
	}
	var hosts []*accum
	index := make(map[string]*accum)

	for _, u := range updates {
		host := hostOf(u.Light)
		if host == "" {
			continue
		}
		a, ok := index[host]
		if !ok {
			a = &accum{host: host}
			index[host] = a
			hosts = append(hosts, a)
		}
		a.buf = append(a.buf, byte(u.Segment), u.Color.R, u.Color.G, u.Color.B)
	}

	var firstErr error
	for _, a := range hosts {
		err := n.Pool.Send(a.host, NativePort, a.buf)
		metrics.IncEmitterSend(string(state.ProtocolNative), err == nil)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
