// SPDX-License-Identifier: MIT

// Package metrics defines the prometheus instruments for the entertainment
// pipeline. Everything lives under the hue2lan namespace and is exposed on
// the control listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesDecoded counts successfully parsed HueStream frames.
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "frames_decoded_total",
		Help:      "HueStream frames decoded by protocol version",
	}, []string{"version"})

	// FramesInvalid counts frames rejected by the parser.
	FramesInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "frames_invalid_total",
		Help:      "Frames that failed HueStream parsing",
	})

	// EmitterSends counts per-protocol emitter transmissions.
	EmitterSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "emitter_sends_total",
		Help:      "Emitter transmissions by protocol and result",
	}, []string{"protocol", "result"})

	// GateDecisions counts frame-diff gate outcomes.
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "gate_decisions_total",
		Help:      "Frame-diff gate outcomes",
	}, []string{"decision"})

	// SessionFPS is the window FPS of the active entertainment session.
	SessionFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hue2lan",
		Name:      "session_fps",
		Help:      "Frames per second over the last accounting window",
	})

	// SessionStarts counts session start attempts.
	SessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "session_starts_total",
		Help:      "Entertainment session start attempts by result",
	}, []string{"result"})

	// SplitterForwards counts frames re-encrypted to upstream bridges.
	SplitterForwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "splitter_forwards_total",
		Help:      "Frames forwarded to upstream Hue bridges by result",
	}, []string{"result"})
)

// IncEmitterSend records one emitter transmission outcome.
func IncEmitterSend(protocol string, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	EmitterSends.WithLabelValues(protocol, result).Inc()
}

// IncSessionStart records a session start outcome.
func IncSessionStart(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	SessionStarts.WithLabelValues(result).Inc()
}
