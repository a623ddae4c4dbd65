// SPDX-License-Identifier: MIT

// Package profile classifies the host at process start and derives the
// pipeline tunables. Classification happens once; sessions copy the settings
// at start and never observe a change mid-stream.
package profile

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/hue2lan/hue2lan/internal/config"
	"github.com/hue2lan/hue2lan/internal/log"
)

// Class identifies a host resource class.
type Class string

const (
	ClassRPiMinimal    Class = "rpi_minimal"
	ClassRPiLow        Class = "rpi_low"
	ClassRPiMedium     Class = "rpi_medium"
	ClassDockerMinimal Class = "docker_minimal"
	ClassDockerLow     Class = "docker_low"
	ClassDockerNormal  Class = "docker_normal"
	ClassMinimal       Class = "minimal"
	ClassLow           Class = "low"
	ClassMedium        Class = "medium"
	ClassFull          Class = "full"
)

// Settings are the tunables the pipeline consults at session start.
type Settings struct {
	Class              Class
	MaxWorkers         int
	UDPSendBufferBytes int
	TargetFPS          int
	FrameBufferDepth   int
	CIETolerance       float64
	BriTolerance       float64
	EnableSmoothing    bool
	LogLevel           string
}

// Host captures the raw signals used for classification.
type Host struct {
	NumCPU      int
	MemoryBytes uint64
	Container   bool
	Arch        string
}

// DetectHost inspects the running host.
func DetectHost() Host {
	return Host{
		NumCPU:      runtime.NumCPU(),
		MemoryBytes: physicalMemory(),
		Container:   inContainer(),
		Arch:        runtime.GOARCH,
	}
}

// Detect classifies the host and returns the derived settings, with any
// operator overrides applied on top.
func Detect(overrides config.Profile) Settings {
	host := DetectHost()
	s := Classify(host)
	s = applyOverrides(s, overrides)

	logger := log.WithComponent("profile")
	logger.Info().
		Str("class", string(s.Class)).
		Int("cpus", host.NumCPU).
		Uint64("memory_bytes", host.MemoryBytes).
		Bool("container", host.Container).
		Int("max_workers", s.MaxWorkers).
		Int("target_fps", s.TargetFPS).
		Msg("host classified")

	return s
}

const (
	gib = 1 << 30
	mib = 1 << 20
)

// Classify maps host signals to a resource class and its tunables.
func Classify(host Host) Settings {
	arm := strings.HasPrefix(host.Arch, "arm")

	var class Class
	switch {
	case arm && host.MemoryBytes <= 512*mib:
		class = ClassRPiMinimal
	case arm && host.MemoryBytes <= 1*gib:
		class = ClassRPiLow
	case arm:
		class = ClassRPiMedium
	case host.Container && host.NumCPU <= 1:
		class = ClassDockerMinimal
	case host.Container && host.NumCPU <= 2:
		class = ClassDockerLow
	case host.Container:
		class = ClassDockerNormal
	case host.NumCPU <= 1 || host.MemoryBytes <= 512*mib:
		class = ClassMinimal
	case host.NumCPU <= 2 || host.MemoryBytes <= 1*gib:
		class = ClassLow
	case host.NumCPU <= 4:
		class = ClassMedium
	default:
		class = ClassFull
	}

	return settingsFor(class)
}

func settingsFor(class Class) Settings {
	switch class {
	case ClassRPiMinimal:
		return Settings{class, 1, 128 * 1024, 25, 8, 0.020, 12, false, "warn"}
	case ClassRPiLow, ClassDockerMinimal, ClassMinimal:
		return Settings{class, 2, 256 * 1024, 30, 16, 0.015, 10, false, "warn"}
	case ClassRPiMedium, ClassDockerLow, ClassLow:
		return Settings{class, 4, 512 * 1024, 40, 32, 0.012, 8, true, "info"}
	case ClassDockerNormal, ClassMedium:
		return Settings{class, 6, 1024 * 1024, 50, 48, 0.010, 6, true, "info"}
	default:
		return Settings{ClassFull, 8, 1024 * 1024, 60, 64, 0.008, 6, true, "info"}
	}
}

func applyOverrides(s Settings, o config.Profile) Settings {
	if o.MaxWorkers > 0 {
		s.MaxWorkers = o.MaxWorkers
		if s.MaxWorkers > 8 {
			s.MaxWorkers = 8
		}
	}
	if o.CIETolerance > 0 {
		s.CIETolerance = o.CIETolerance
	}
	if o.BriTolerance > 0 {
		s.BriTolerance = o.BriTolerance
	}
	if o.TargetFPS > 0 {
		s.TargetFPS = o.TargetFPS
	}
	return s
}

// physicalMemory reads MemTotal from /proc/meminfo; zero when unavailable.
func physicalMemory() uint64 {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// inContainer checks the usual container markers.
func inContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	s := string(data)
	return strings.Contains(s, "docker") || strings.Contains(s, "kubepods") || strings.Contains(s, "containerd")
}
