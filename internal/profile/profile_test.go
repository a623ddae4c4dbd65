// SPDX-License-Identifier: MIT

package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hue2lan/hue2lan/internal/config"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		host Host
		want Class
	}{
		{"rpi zero", Host{NumCPU: 1, MemoryBytes: 512 * mib, Arch: "arm"}, ClassRPiMinimal},
		{"rpi 3", Host{NumCPU: 4, MemoryBytes: 1 * gib, Arch: "arm64"}, ClassRPiLow},
		{"rpi 4", Host{NumCPU: 4, MemoryBytes: 4 * gib, Arch: "arm64"}, ClassRPiMedium},
		{"tiny container", Host{NumCPU: 1, MemoryBytes: 2 * gib, Container: true, Arch: "amd64"}, ClassDockerMinimal},
		{"small container", Host{NumCPU: 2, MemoryBytes: 4 * gib, Container: true, Arch: "amd64"}, ClassDockerLow},
		{"container", Host{NumCPU: 8, MemoryBytes: 16 * gib, Container: true, Arch: "amd64"}, ClassDockerNormal},
		{"single core", Host{NumCPU: 1, MemoryBytes: 2 * gib, Arch: "amd64"}, ClassMinimal},
		{"dual core", Host{NumCPU: 2, MemoryBytes: 8 * gib, Arch: "amd64"}, ClassLow},
		{"quad core", Host{NumCPU: 4, MemoryBytes: 8 * gib, Arch: "amd64"}, ClassMedium},
		{"workstation", Host{NumCPU: 16, MemoryBytes: 32 * gib, Arch: "amd64"}, ClassFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.host)
			assert.Equal(t, tt.want, got.Class)
		})
	}
}

func TestSettingsSpread(t *testing.T) {
	full := Classify(Host{NumCPU: 16, MemoryBytes: 32 * gib, Arch: "amd64"})
	rpi := Classify(Host{NumCPU: 1, MemoryBytes: 256 * mib, Arch: "arm"})

	assert.Equal(t, 8, full.MaxWorkers)
	assert.InDelta(t, 0.008, full.CIETolerance, 1e-9)
	assert.InDelta(t, 6, full.BriTolerance, 1e-9)
	assert.True(t, full.EnableSmoothing)

	assert.Equal(t, 1, rpi.MaxWorkers)
	assert.InDelta(t, 0.020, rpi.CIETolerance, 1e-9)
	assert.InDelta(t, 12, rpi.BriTolerance, 1e-9)
	assert.False(t, rpi.EnableSmoothing)
	assert.Less(t, rpi.UDPSendBufferBytes, full.UDPSendBufferBytes)
}

func TestOverrides(t *testing.T) {
	s := applyOverrides(settingsFor(ClassFull), config.Profile{
		MaxWorkers:   16, // clamped to the worker-pool ceiling
		CIETolerance: 0.02,
		TargetFPS:    30,
	})
	assert.Equal(t, 8, s.MaxWorkers)
	assert.InDelta(t, 0.02, s.CIETolerance, 1e-9)
	assert.Equal(t, 30, s.TargetFPS)
}

func TestDetect(t *testing.T) {
	s := Detect(config.Profile{TargetFPS: 24, MaxWorkers: 2})
	assert.NotEmpty(t, s.Class)
	assert.Equal(t, 24, s.TargetFPS)
	assert.Equal(t, 2, s.MaxWorkers)
	assert.Positive(t, s.FrameBufferDepth)
}

func TestDetectHost(t *testing.T) {
	host := DetectHost()
	assert.Positive(t, host.NumCPU)
	assert.NotEmpty(t, host.Arch)
}
