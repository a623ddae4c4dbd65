// SPDX-License-Identifier: MIT

// Package pace rate-limits per-device sends for emitters whose targets
// cannot absorb the full frame rate (yeelight music mode, LIFX LAN).
package pace

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var paceSkipped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hue2lan",
		Name:      "pace_skipped_total",
		Help:      "Frames skipped per device because the pacing window had not elapsed",
	},
	[]string{"protocol"},
)

// Limiter paces per-device sends. Rate limiting is skip-based: when a frame
// arrives inside the pacing window the send is dropped, never delayed. The
// next frame carries fresher data anyway.
type Limiter struct {
	protocol string
	maxFPS   int
	burst    int

	mu      sync.Mutex
	devices map[string]*rate.Limiter
}

// New creates a limiter for one emitter protocol with a per-device ceiling.
func New(protocol string, maxFPS int) *Limiter {
	if maxFPS < 1 {
		maxFPS = 1
	}
	return &Limiter{
		protocol: protocol,
		maxFPS:   maxFPS,
		burst:    1,
		devices:  make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a send to the keyed device may go out now.
func (l *Limiter) Allow(device string) bool {
	if l.deviceLimiter(device).Allow() {
		return true
	}
	paceSkipped.WithLabelValues(l.protocol).Inc()
	return false
}

// MinInterval is the spacing between two allowed sends to one device.
func (l *Limiter) MinInterval() time.Duration {
	return time.Second / time.Duration(l.maxFPS)
}

func (l *Limiter) deviceLimiter(device string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.devices[device]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(l.maxFPS), l.burst)
		l.devices[device] = limiter
	}
	return limiter
}
