// SPDX-License-Identifier: MIT

package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/color"
	"github.com/hue2lan/hue2lan/internal/lifx"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/pace"
	"github.com/hue2lan/hue2lan/internal/sockpool"
	"github.com/hue2lan/hue2lan/internal/state"
)

const lifxDefaultKelvin = 3500

// LIFX drives LIFX devices over the native LAN protocol. The device class
// from the light config picks the packet shape: SetColor for plain bulbs,
// SetExtendedColorZones for strips and SetTileState64 for matrix devices.
// Gradient-capable lights get their segment colors resampled to the zone
// count. Sends are paced per device.
type LIFX struct {
	Pool    *sockpool.Pool
	Limiter *pace.Limiter

	seq uint8
}

func (l *LIFX) Protocol() state.Protocol { return state.ProtocolLIFX }

type lifxDevice struct {
	host   string
	class  lifx.DeviceClass
	target [6]byte
	zones  int
	base   color.RGB
	points []GradientPoint
	grad   bool
}

func (l *LIFX) Emit(ctx context.Context, updates []Update) error {
	var devices []*lifxDevice
	index := make(map[string]*lifxDevice)

	for _, u := range updates {
		host := hostOf(u.Light)
		if host == "" {
			continue
		}
		d, ok := index[host]
		if !ok {
			target, err := lifx.ParseTarget(u.Light.CfgString("mac"))
			if err != nil {
				target = [6]byte{}
			}
			d = &lifxDevice{
				host:   host,
				class:  lifx.ParseClass(u.Light.CfgString("device_class")),
				target: target,
				zones:  u.Light.CfgInt("zones", 0),
				grad:   u.Light.Gradient(),
			}
			if d.zones == 0 {
				d.zones = u.Light.Segments()
			}
			index[host] = d
			devices = append(devices, d)
		}
		if d.grad {
			d.points = append(d.points, GradientPoint{ID: u.Segment, Color: u.Color})
		} else {
			d.base = u.Color
		}
	}

	var firstErr error
	for _, d := range devices {
		if !l.Limiter.Allow(d.host) {
			continue
		}
		pkt, err := l.packet(d)
		if err == nil {
			err = l.Pool.Send(d.host, lifx.Port, pkt)
		}
		metrics.IncEmitterSend(string(state.ProtocolLIFX), err == nil)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *LIFX) packet(d *lifxDevice) ([]byte, error) {
	l.seq++

	switch d.class {
	case lifx.ClassMultiZone:
		return lifx.SetExtendedColorZones(d.target, l.seq, l.zoneColors(d, 82), 0)
	case lifx.ClassMatrix:
		return lifx.SetTileState64(d.target, l.seq, l.zoneColors(d, 64), 0)
	default:
		base := d.base
		if d.grad && len(d.points) > 0 {
			base = d.points[0].Color
		}
		return lifx.SetColor(d.target, l.seq, color.RGBToHSBK(base, lifxDefaultKelvin), 0), nil
	}
}

// zoneColors resamples the device's frame colors onto its zone count.
func (l *LIFX) zoneColors(d *lifxDevice, maxZones int) []color.HSBK {
	n := d.zones
	if n < 1 {
		n = 1
	}
	if n > maxZones {
		n = maxZones
	}

	var samples []color.RGB
	if d.grad && len(d.points) >= 2 {
		samples = SampleGradient(d.points, n)
	} else {
		base := d.base
		if d.grad && len(d.points) == 1 {
			base = d.points[0].Color
		}
		samples = make([]color.RGB, n)
		for i := range samples {
			samples[i] = base
		}
	}

	out := make([]color.HSBK, len(samples))
	for i, c := range samples {
		out[i] = color.RGBToHSBK(c, lifxDefaultKelvin)
	}
	return out
}
