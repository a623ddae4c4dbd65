// SPDX-License-Identifier: MIT

// Package config holds the streaming daemon configuration: a YAML file as the
// base layer with HUE2LAN_* environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Streaming carries every knob the entertainment pipeline consults at
// session start. The pipeline never re-reads configuration mid-session.
type Streaming struct {
	// MirrorHost/MirrorPort name the local UDP endpoint carrying decrypted
	// HueStream frames while the splitter owns the DTLS termination.
	MirrorHost string `yaml:"mirror_host"`
	MirrorPort int    `yaml:"mirror_port"`
}

// YeelightMusic controls the shared music-mode transport.
type YeelightMusic struct {
	MaxFPS       int     `yaml:"max_fps"`
	SmoothMs     int     `yaml:"smooth_ms"`
	CIETolerance float64 `yaml:"cie_tolerance"`
	BriTolerance float64 `yaml:"bri_tolerance"`
	HostIP       string  `yaml:"host_ip"`
	Port         int     `yaml:"port"`
	Require      bool    `yaml:"require"`
}

// LIFX controls pacing for the native LIFX LAN path.
type LIFX struct {
	MaxFPS int `yaml:"max_fps"`
}

// MQTT names the broker the mqtt emitter publishes to.
type MQTT struct {
	Broker   string `yaml:"broker"` // tcp://host:1883
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HomeAssistant names the websocket endpoint for the homeassistant emitter.
type HomeAssistant struct {
	URL   string `yaml:"url"` // ws://host:8123/api/websocket
	Token string `yaml:"token"`
}

// Profile overrides selected resource-profile tunables.
type Profile struct {
	MaxWorkers   int     `yaml:"max_workers"`
	CIETolerance float64 `yaml:"cie_tolerance"`
	BriTolerance float64 `yaml:"bri_tolerance"`
	TargetFPS    int     `yaml:"target_fps"`
}

// Config is the root configuration structure.
type Config struct {
	Listen        string        `yaml:"listen"` // control surface address
	DataDir       string        `yaml:"data_dir"`
	LogLevel      string        `yaml:"log_level"`
	Streaming     Streaming     `yaml:"streaming"`
	Yeelight      YeelightMusic `yaml:"yeelight_music"`
	LIFX          LIFX          `yaml:"lifx"`
	MQTT          MQTT          `yaml:"mqtt"`
	HomeAssistant HomeAssistant `yaml:"homeassistant"`
	Profile       Profile       `yaml:"profile"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Listen:  ":8090",
		DataDir: "/var/lib/hue2lan",
		Streaming: Streaming{
			MirrorHost: "127.0.0.1",
			MirrorPort: 2101,
		},
		Yeelight: YeelightMusic{
			MaxFPS:       30,
			SmoothMs:     200,
			CIETolerance: 0.01,
			BriTolerance: 6,
			Port:         58710,
			Require:      false,
		},
		LIFX: LIFX{MaxFPS: 120},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if non-empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.clamp()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = ParseString("HUE2LAN_LISTEN", c.Listen)
	c.DataDir = ParseString("HUE2LAN_DATA_DIR", c.DataDir)
	c.LogLevel = ParseString("HUE2LAN_LOG_LEVEL", c.LogLevel)

	c.Streaming.MirrorHost = ParseString("HUE2LAN_MIRROR_HOST", c.Streaming.MirrorHost)
	c.Streaming.MirrorPort = ParseInt("HUE2LAN_MIRROR_PORT", c.Streaming.MirrorPort)

	c.Yeelight.MaxFPS = ParseInt("HUE2LAN_YEELIGHT_MAX_FPS", c.Yeelight.MaxFPS)
	c.Yeelight.SmoothMs = ParseInt("HUE2LAN_YEELIGHT_SMOOTH_MS", c.Yeelight.SmoothMs)
	c.Yeelight.CIETolerance = ParseFloat("HUE2LAN_YEELIGHT_CIE_TOLERANCE", c.Yeelight.CIETolerance)
	c.Yeelight.BriTolerance = ParseFloat("HUE2LAN_YEELIGHT_BRI_TOLERANCE", c.Yeelight.BriTolerance)
	c.Yeelight.HostIP = ParseString("HUE2LAN_YEELIGHT_HOST_IP", c.Yeelight.HostIP)
	c.Yeelight.Port = ParseInt("HUE2LAN_YEELIGHT_PORT", c.Yeelight.Port)
	c.Yeelight.Require = ParseBool("HUE2LAN_YEELIGHT_REQUIRE", c.Yeelight.Require)

	c.LIFX.MaxFPS = ParseInt("HUE2LAN_LIFX_MAX_FPS", c.LIFX.MaxFPS)

	c.MQTT.Broker = ParseString("HUE2LAN_MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = ParseString("HUE2LAN_MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = ParseString("HUE2LAN_MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = ParseString("HUE2LAN_MQTT_PASSWORD", c.MQTT.Password)

	c.HomeAssistant.URL = ParseString("HUE2LAN_HASS_URL", c.HomeAssistant.URL)
	c.HomeAssistant.Token = ParseString("HUE2LAN_HASS_TOKEN", c.HomeAssistant.Token)

	c.Profile.MaxWorkers = ParseInt("HUE2LAN_MAX_WORKERS", c.Profile.MaxWorkers)
	c.Profile.CIETolerance = ParseFloat("HUE2LAN_CIE_TOLERANCE", c.Profile.CIETolerance)
	c.Profile.BriTolerance = ParseFloat("HUE2LAN_BRI_TOLERANCE", c.Profile.BriTolerance)
	c.Profile.TargetFPS = ParseInt("HUE2LAN_TARGET_FPS", c.Profile.TargetFPS)
}

// clamp enforces documented floors so a bad config cannot overdrive devices.
func (c *Config) clamp() {
	if c.LIFX.MaxFPS < 30 {
		c.LIFX.MaxFPS = 30
	}
	if c.Yeelight.MaxFPS < 1 {
		c.Yeelight.MaxFPS = 1
	}
	if c.Streaming.MirrorPort <= 0 || c.Streaming.MirrorPort > 65535 {
		c.Streaming.MirrorPort = 2101
	}
}

// YeelightMinInterval derives the per-host send spacing from max_fps.
func (c *Config) YeelightMinInterval() time.Duration {
	return time.Second / time.Duration(c.Yeelight.MaxFPS)
}
