// SPDX-License-Identifier: MIT

package pace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowBurstThenSkip(t *testing.T) {
	l := New("lifx", 10)

	assert.True(t, l.Allow("dev-a"), "first send always passes")
	// immediately after, the 100ms window has not elapsed
	assert.False(t, l.Allow("dev-a"))
}

func TestPerDeviceIsolation(t *testing.T) {
	l := New("yeelight", 1)

	assert.True(t, l.Allow("dev-a"))
	assert.True(t, l.Allow("dev-b"), "devices pace independently")
	assert.False(t, l.Allow("dev-a"))
}

func TestWindowElapses(t *testing.T) {
	l := New("lifx", 100) // 10ms window

	assert.True(t, l.Allow("dev"))
	assert.False(t, l.Allow("dev"))
	time.Sleep(15 * time.Millisecond)
	assert.True(t, l.Allow("dev"))
}

func TestMinInterval(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, New("lifx", 100).MinInterval())
	assert.Equal(t, time.Second, New("x", 0).MinInterval(), "fps floor of 1")
}
