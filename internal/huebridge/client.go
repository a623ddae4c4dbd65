// SPDX-License-Identifier: MIT

// Package huebridge is the REST client for an upstream Hue bridge: v1 group
// CRUD and stream activation, plus the CLIP v2 entertainment configuration
// calls the splitter needs for UUID reconciliation and channel positions.
package huebridge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/log"
)

const requestTimeout = 3 * time.Second

// Bridge is one upstream Hue bridge with streaming credentials.
type Bridge struct {
	IP        string
	User      string
	ClientKey string

	// ClipBase is the CLIP v2 endpoint base, https://{ip} unless overridden.
	ClipBase string

	http   *http.Client
	logger zerolog.Logger
}

// New returns a client for the bridge at ip. Hue bridges serve self-signed
// certificates, so verification is off for the CLIP v2 endpoint.
func New(ip, user, clientKey string) *Bridge {
	return &Bridge{
		IP:        ip,
		User:      user,
		ClientKey: clientKey,
		ClipBase:  "https://" + ip,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		logger: log.WithComponent("huebridge"),
	}
}

// Group is the v1 group shape, trimmed to the fields the splitter uses.
type Group struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Class  string   `json:"class,omitempty"`
	Lights []string `json:"lights"`
	Stream struct {
		Active bool `json:"active"`
	} `json:"stream"`
}

// Groups lists the bridge's groups keyed by v1 id.
func (b *Bridge) Groups(ctx context.Context) (map[string]Group, error) {
	var out map[string]Group
	if err := b.doJSON(ctx, http.MethodGet, b.v1URL("groups"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateGroup creates an Entertainment group and returns its v1 id.
func (b *Bridge) CreateGroup(ctx context.Context, name string, lights []string) (string, error) {
	body := map[string]any{
		"name":   name,
		"type":   "Entertainment",
		"class":  "TV",
		"lights": lights,
	}
	var replies []struct {
		Success struct {
			ID string `json:"id"`
		} `json:"success"`
		Error *apiError `json:"error"`
	}
	if err := b.doJSON(ctx, http.MethodPost, b.v1URL("groups"), body, &replies); err != nil {
		return "", err
	}
	for _, r := range replies {
		if r.Error != nil {
			return "", fmt.Errorf("upstream %s: create group: %s", b.IP, r.Error.Description)
		}
		if r.Success.ID != "" {
			return r.Success.ID, nil
		}
	}
	return "", fmt.Errorf("upstream %s: create group: no id in response", b.IP)
}

// UpdateGroup replaces the group's light membership and channel locations.
func (b *Bridge) UpdateGroup(ctx context.Context, id string, lights []string, locations map[string][3]float64) error {
	body := map[string]any{"lights": lights}
	if len(locations) > 0 {
		body["locations"] = locations
	}
	return b.doJSON(ctx, http.MethodPut, b.v1URL("groups/"+id), body, nil)
}

// SetStreamActive toggles entertainment streaming on the group. Activation
// responses are frequently ambiguous; a 2xx is treated as success and later
// DTLS errors downgrade the session instead.
func (b *Bridge) SetStreamActive(ctx context.Context, id string, active bool) error {
	stream := map[string]any{"active": active}
	if active {
		stream["owner"] = b.User
		stream["proxymode"] = "auto"
		stream["proxynode"] = "/bridge"
	}
	err := b.doJSON(ctx, http.MethodPut, b.v1URL("groups/"+id), map[string]any{"stream": stream}, nil)
	if err != nil {
		return fmt.Errorf("upstream %s: stream.active=%t: %w", b.IP, active, err)
	}
	b.logger.Debug().Str("host", b.IP).Str("group", id).Bool("active", active).Msg("stream toggled")
	return nil
}

// EntertainmentConfiguration is one CLIP v2 entertainment resource.
type EntertainmentConfiguration struct {
	ID       string `json:"id"`
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
}

// EntertainmentConfigurations lists the bridge's v2 entertainment
// configurations.
func (b *Bridge) EntertainmentConfigurations(ctx context.Context) ([]EntertainmentConfiguration, error) {
	var out struct {
		Data []EntertainmentConfiguration `json:"data"`
	}
	url := b.ClipBase + "/clip/v2/resource/entertainment_configuration"
	if err := b.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ServiceLocation positions one light service within the configuration.
type ServiceLocation struct {
	Service struct {
		RID   string `json:"rid"`
		RType string `json:"rtype"`
	} `json:"service"`
	Positions [][3]float64 `json:"positions"`
}

// PatchServiceLocations pushes channel positions to a v2 entertainment
// configuration.
func (b *Bridge) PatchServiceLocations(ctx context.Context, uuid string, locations []ServiceLocation) error {
	url := fmt.Sprintf("%s/clip/v2/resource/entertainment_configuration/%s", b.ClipBase, uuid)
	body := map[string]any{"service_locations": locations}
	return b.doJSON(ctx, http.MethodPatch, url, body, nil)
}

type apiError struct {
	Type        int    `json:"type"`
	Description string `json:"description"`
}

func (b *Bridge) v1URL(path string) string {
	return fmt.Sprintf("http://%s/api/%s/%s", b.IP, b.User, path)
}

func (b *Bridge) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("hue-application-key", b.User)

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %s %s: %w", b.IP, method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upstream %s: %s %s: status %d: %s", b.IP, method, url, resp.StatusCode, data)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
