// SPDX-License-Identifier: MIT

package emit

import (
	"context"

	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/state"
)

// fallbackPerFrame caps how many slow REST lights one frame may touch.
const fallbackPerFrame = 2

// LightSetter applies a partial state to a light through the slow REST path.
type LightSetter interface {
	SetLightState(ctx context.Context, l *state.Light, body map[string]any) error
}

// Fallback serves lights with no realtime transport. It round-robins at most
// two lights per frame through the REST setter, with a short transition and
// only the changed field, so a slow device never stalls the frame loop.
// Lights not reached this frame keep their gate cells, so their pending
// change survives into the next frame.
type Fallback struct {
	Setter LightSetter
	Gate   *gate.Gate

	cursor int
}

func (f *Fallback) Protocol() state.Protocol { return state.ProtocolFallback }

func (f *Fallback) Emit(ctx context.Context, updates []Update) error {
	changed := make([]Update, 0, len(updates))
	for _, u := range updates {
		if u.Decision != gate.Noop {
			changed = append(changed, u)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	n := fallbackPerFrame
	if n > len(changed) {
		n = len(changed)
	}

	var firstErr error
	for i := 0; i < n; i++ {
		u := changed[f.cursor%len(changed)]
		f.cursor++

		body := map[string]any{"transitiontime": 2}
		switch u.Decision {
		case gate.Bri:
			body["bri"] = u.Bri
		default:
			body["xy"] = []float64{u.X, u.Y}
		}

		err := f.Setter.SetLightState(ctx, u.Light, body)
		metrics.IncEmitterSend(string(state.ProtocolFallback), err == nil)
		if err == nil && f.Gate != nil {
			f.Gate.Commit(u.Light.ID, gate.Sample{X: u.X, Y: u.Y, Bri: u.Bri}, u.Decision)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
