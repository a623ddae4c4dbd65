// SPDX-License-Identifier: MIT

package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/pace"
	"github.com/hue2lan/hue2lan/internal/state"
	"github.com/hue2lan/hue2lan/internal/yeelight"
)

// Yeelight drives Yeelight bulbs through music-mode TCP connections. Sends
// are paced per device and suppressed by a dedicated frame-diff gate with
// the yeelight_music tolerances: the bulbs process JSON commands far slower
// than the stream frame rate. Cells commit only after a send went out, so a
// pacing skip leaves the pending change armed for the next frame.
type Yeelight struct {
	Server      *yeelight.MusicServer
	Limiter     *pace.Limiter
	Gate        *gate.Gate
	AdvertiseIP string
	SmoothMs    int
	Require     bool

	devices map[string]*yeelight.Device
}

func (y *Yeelight) Protocol() state.Protocol { return state.ProtocolYeelight }

func (y *Yeelight) Emit(ctx context.Context, updates []Update) error {
	if y.devices == nil {
		y.devices = make(map[string]*yeelight.Device)
	}

	seen := make(map[string]bool)
	var firstErr error

	for _, u := range updates {
		host := hostOf(u.Light)
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true

		if u.Decision == gate.Noop {
			continue
		}
		decision := u.Decision
		sample := gate.Sample{X: u.X, Y: u.Y, Bri: u.Bri}
		if y.Gate != nil && u.On {
			decision = y.Gate.Decide(u.Light.ID, sample)
			if decision == gate.Noop {
				continue
			}
		}
		if !y.Limiter.Allow(host) {
			continue
		}

		d, ok := y.devices[host]
		if !ok {
			d = yeelight.NewDevice(host, y.Server)
			y.devices[host] = d
		}
		if err := d.EnsureMusic(ctx, y.AdvertiseIP, y.Require); err != nil {
			metrics.IncEmitterSend(string(state.ProtocolYeelight), false)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		var err error
		switch decision {
		case gate.Bri:
			err = d.SetBright(briToPercent(u.Bri), y.SmoothMs)
		default:
			err = d.SetRGB(u.Color.R, u.Color.G, u.Color.B, y.SmoothMs)
		}
		metrics.IncEmitterSend(string(state.ProtocolYeelight), err == nil)
		if err == nil && y.Gate != nil {
			y.Gate.Commit(u.Light.ID, sample, decision)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases every device connection. The shared music server is owned
// by the caller.
func (y *Yeelight) Close() {
	for _, d := range y.devices {
		d.Close()
	}
	y.devices = nil
}

// briToPercent maps Hue brightness 0..254 to the Yeelight 1..100 scale.
func briToPercent(bri uint8) int {
	p := int(bri) * 100 / 254
	if p < 1 {
		p = 1
	}
	return p
}
