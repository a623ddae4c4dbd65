// SPDX-License-Identifier: MIT

package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/color"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/sockpool"
	"github.com/hue2lan/hue2lan/internal/state"
)

// DNRGB protocol constants.
const (
	wledDefaultPort = 21324
	dnrgbProtocol   = 0x04
	dnrgbNoTimeout  = 0xFF
)

// WLED drives WLED controllers over the realtime DNRGB UDP protocol: one
// datagram per host covering every LED, gradient segments interpolated
// per-LED, with temporal smoothing against the previous frame's pixels.
type WLED struct {
	Pool      *sockpool.Pool
	Smoothing bool

	// prev holds the raw (pre-smoothing) pixel buffer per host. Single
	// writer: one worker services a host within a frame.
	prev map[string][]byte
}

func (w *WLED) Protocol() state.Protocol { return state.ProtocolWLED }

type wledLight struct {
	start, stop int
	base        color.RGB
	points      []GradientPoint
	gradient    bool
}

type wledHost struct {
	host      string
	port      int
	totalLEDs int
	lights    map[uint16]*wledLight
}

func (w *WLED) Emit(ctx context.Context, updates []Update) error {
	hosts := w.accumulate(updates)

	var firstErr error
	for _, h := range hosts {
		payload := w.render(h)
		err := w.Pool.Send(h.host, h.port, payload)
		metrics.IncEmitterSend(string(state.ProtocolWLED), err == nil)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WLED) accumulate(updates []Update) []*wledHost {
	var hosts []*wledHost
	index := make(map[string]*wledHost)

	for _, u := range updates {
		hostAddr := hostOf(u.Light)
		if hostAddr == "" {
			continue
		}
		h, ok := index[hostAddr]
		if !ok {
			h = &wledHost{
				host:   hostAddr,
				port:   u.Light.CfgInt("udp_port", wledDefaultPort),
				lights: make(map[uint16]*wledLight),
			}
			index[hostAddr] = h
			hosts = append(hosts, h)
		}

		l, ok := h.lights[u.Light.ID]
		if !ok {
			l = &wledLight{
				start:    u.Light.SegmentStart,
				stop:     u.Light.SegmentStop,
				gradient: u.Light.Gradient(),
			}
			h.lights[u.Light.ID] = l
		}
		if l.gradient {
			l.points = append(l.points, GradientPoint{ID: u.Segment, Color: u.Color})
		} else {
			l.base = u.Color
		}
		if total := u.Light.CfgInt("total_leds", 0); total > h.totalLEDs {
			h.totalLEDs = total
		}
		if l.stop > h.totalLEDs {
			h.totalLEDs = l.stop
		}
	}
	return hosts
}

// render builds the DNRGB datagram for one host and applies smoothing.
func (w *WLED) render(h *wledHost) []byte {
	pixels := make([]byte, 3*h.totalLEDs)

	for _, l := range h.lights {
		length := l.stop - l.start
		if length <= 0 {
			continue
		}
		if l.gradient && len(l.points) >= 2 {
			samples := SampleGradient(l.points, length)
			for i, c := range samples {
				setPixel(pixels, l.start+i, c)
			}
		} else {
			base := l.base
			if l.gradient && len(l.points) == 1 {
				base = l.points[0].Color
			}
			for led := l.start; led < l.stop; led++ {
				setPixel(pixels, led, base)
			}
		}
	}

	out := pixels
	if w.Smoothing {
		if w.prev == nil {
			w.prev = make(map[string][]byte)
		}
		prev := w.prev[h.host]
		out = smooth(pixels, prev)
		w.prev[h.host] = pixels
	}

	payload := make([]byte, 0, 4+len(out))
	payload = append(payload, dnrgbProtocol, dnrgbNoTimeout, 0x00, 0x00) // start index 0
	payload = append(payload, out...)
	return payload
}

func setPixel(pixels []byte, led int, c color.RGB) {
	off := led * 3
	if off+2 >= len(pixels) {
		return
	}
	pixels[off] = c.R
	pixels[off+1] = c.G
	pixels[off+2] = c.B
}

// smooth blends 80% of the new frame with 20% of the previous one.
func smooth(pixels, prev []byte) []byte {
	if len(prev) != len(pixels) {
		return pixels
	}
	out := make([]byte, len(pixels))
	for i := range pixels {
		v := 0.8*float64(pixels[i]) + 0.2*float64(prev[i])
		if v > 255 {
			v = 255
		}
		out[i] = byte(v + 0.5)
	}
	return out
}
