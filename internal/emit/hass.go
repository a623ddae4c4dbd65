// SPDX-License-Identifier: MIT

package emit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/state"
)

// LightCommand is one Home Assistant entity update within a batch.
type LightCommand struct {
	EntityID string      `json:"entity_id"`
	On       bool        `json:"on"`
	Bri      *uint8      `json:"bri,omitempty"`
	XY       *[2]float64 `json:"xy,omitempty"`
}

// BatchCaller delivers one batch of entity updates per frame; satisfied by
// hassSocket in production and a recording fake in tests.
type BatchCaller interface {
	CallBatch(ctx context.Context, commands []LightCommand) error
}

// HomeAssistant drives Home Assistant lights over its WebSocket API: the
// whole frame collapses into one batched service call. Gate cells commit
// once the batch went out.
type HomeAssistant struct {
	Caller BatchCaller
	Gate   *gate.Gate
}

func (h *HomeAssistant) Protocol() state.Protocol { return state.ProtocolHomeAssistant }

func (h *HomeAssistant) Emit(ctx context.Context, updates []Update) error {
	var commands []LightCommand
	var sent []Update

	for _, u := range updates {
		if u.Decision == gate.Noop {
			continue
		}
		entity := u.Light.CfgString("entity_id")
		if entity == "" {
			continue
		}

		cmd := LightCommand{EntityID: entity, On: u.On}
		switch u.Decision {
		case gate.Bri:
			bri := u.Bri
			cmd.Bri = &bri
		default:
			xy := [2]float64{u.X, u.Y}
			cmd.XY = &xy
			bri := u.Bri
			cmd.Bri = &bri
		}
		commands = append(commands, cmd)
		sent = append(sent, u)
	}

	if len(commands) == 0 {
		return nil
	}
	err := h.Caller.CallBatch(ctx, commands)
	metrics.IncEmitterSend(string(state.ProtocolHomeAssistant), err == nil)
	if err == nil && h.Gate != nil {
		for _, u := range sent {
			h.Gate.Commit(u.Light.ID, gate.Sample{X: u.X, Y: u.Y, Bri: u.Bri}, u.Decision)
		}
	}
	return err
}

// hassSocket is the production BatchCaller: one authenticated WebSocket to
// the Home Assistant core, one light.turn_on service call per entity in the
// batch, fired without waiting for results.
type hassSocket struct {
	url   string
	token string

	mu   sync.Mutex
	conn *websocket.Conn
	id   atomic.Int64
}

// NewHomeAssistantCaller returns a BatchCaller for the given HA base
// WebSocket URL (ws://host:8123/api/websocket) and long-lived access token.
// The connection is dialed lazily on first use.
func NewHomeAssistantCaller(url, token string) BatchCaller {
	return &hassSocket{url: url, token: token}
}

func (h *hassSocket) CallBatch(ctx context.Context, commands []LightCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		if err := h.dial(ctx); err != nil {
			return err
		}
	}

	for _, cmd := range commands {
		data := map[string]any{"entity_id": cmd.EntityID}
		if cmd.Bri != nil {
			data["brightness"] = *cmd.Bri
		}
		if cmd.XY != nil {
			data["xy_color"] = []float64{cmd.XY[0], cmd.XY[1]}
		}
		service := "turn_on"
		if !cmd.On {
			service = "turn_off"
			data = map[string]any{"entity_id": cmd.EntityID}
		}

		msg := map[string]any{
			"id":           h.id.Add(1),
			"type":         "call_service",
			"domain":       "light",
			"service":      service,
			"service_data": data,
		}
		_ = h.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := h.conn.WriteJSON(msg); err != nil {
			_ = h.conn.Close()
			h.conn = nil
			return fmt.Errorf("homeassistant ws write: %w", err)
		}
	}
	return nil
}

func (h *hassSocket) dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, h.url, http.Header{})
	if err != nil {
		return fmt.Errorf("homeassistant ws dial %s: %w", h.url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	// auth_required -> auth -> auth_ok
	var hello map[string]any
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("homeassistant ws hello: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "auth", "access_token": h.token}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("homeassistant ws auth: %w", err)
	}
	var ok map[string]any
	if err := conn.ReadJSON(&ok); err != nil {
		_ = conn.Close()
		return fmt.Errorf("homeassistant ws auth reply: %w", err)
	}
	if t, _ := ok["type"].(string); t != "auth_ok" {
		_ = conn.Close()
		return fmt.Errorf("homeassistant ws auth rejected: %v", ok["type"])
	}

	h.conn = conn
	// drain the result stream so the read buffer never fills
	go func(c *websocket.Conn) {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}(conn)
	return nil
}
