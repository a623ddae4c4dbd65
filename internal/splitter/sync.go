// SPDX-License-Identifier: MIT

package splitter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/hue2lan/hue2lan/internal/huebridge"
	"github.com/hue2lan/hue2lan/internal/log"
	"github.com/hue2lan/hue2lan/internal/state"
)

// Syncer reconciles a local entertainment group with its upstream bridge
// counterpart: group id, entertainment UUID and channel positions.
type Syncer struct {
	Bridge *huebridge.Bridge
	Store  *Store

	logger zerolog.Logger
}

// NewSyncer wires a syncer for one upstream bridge.
func NewSyncer(bridge *huebridge.Bridge, store *Store) *Syncer {
	return &Syncer{
		Bridge: bridge,
		Store:  store,
		logger: log.WithComponent("splitter"),
	}
}

// Sync ensures the upstream bridge carries an entertainment group mirroring
// the local one, then adopts the upstream UUID as the group's v2 id. The
// cached mapping seeds the lookup but the bridge's answer wins.
func (s *Syncer) Sync(ctx context.Context, group *state.EntertainmentGroup) error {
	lights := upstreamLights(group)
	if len(lights) == 0 {
		return fmt.Errorf("splitter: group %s has no upstream lights", group.Name)
	}

	ids := make([]string, 0, len(lights))
	locations := make(map[string][3]float64, len(lights))
	for _, l := range lights {
		id := l.CfgString("light_id")
		if id == "" {
			continue
		}
		ids = append(ids, id)
		if p, ok := group.Positions[l.ID]; ok {
			locations[id] = [3]float64{p.X, p.Y, p.Z}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("splitter: group %s upstream lights carry no light_id", group.Name)
	}

	cached, _, err := s.Store.Get(group.Name)
	if err != nil {
		s.logger.Warn().Err(err).Msg("mapping cache unreadable, resyncing from bridge")
	}

	groupID, err := s.ensureGroup(ctx, group.Name, cached.BridgeGroupID, ids)
	if err != nil {
		return err
	}
	if err := s.Bridge.UpdateGroup(ctx, groupID, ids, locations); err != nil {
		return err
	}

	entUUID, err := s.entertainmentUUID(ctx, group.Name, cached.BridgeUUID)
	if err != nil {
		return err
	}

	if err := s.pushPositions(ctx, entUUID, group, lights); err != nil {
		// positions are cosmetic on the upstream side; streaming still works
		s.logger.Warn().Err(err).Msg("position push to upstream failed")
	}

	if err := s.Store.Put(group.Name, Mapping{
		LocalUUID:     group.IDv2,
		BridgeUUID:    entUUID,
		BridgeGroupID: groupID,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("mapping persist failed, identity may change on restart")
	}

	group.SetUpstream(groupID, entUUID)
	s.logger.Info().
		Str(log.FieldGroupID, group.ID).
		Str("upstream_group", groupID).
		Str("upstream_uuid", entUUID).
		Msg("upstream group synced")
	return nil
}

// ensureGroup finds the upstream group by cached id or name, creating it
// when neither matches.
func (s *Syncer) ensureGroup(ctx context.Context, name, cachedID string, lights []string) (string, error) {
	groups, err := s.Bridge.Groups(ctx)
	if err != nil {
		return "", err
	}

	if cachedID != "" {
		if g, ok := groups[cachedID]; ok && g.Type == "Entertainment" {
			return cachedID, nil
		}
	}
	for id, g := range groups {
		if g.Type == "Entertainment" && g.Name == name {
			return id, nil
		}
	}
	return s.Bridge.CreateGroup(ctx, name, lights)
}

// entertainmentUUID resolves the v2 entertainment configuration UUID,
// preferring the cached one when the bridge still lists it.
func (s *Syncer) entertainmentUUID(ctx context.Context, name, cachedUUID string) (string, error) {
	configs, err := s.Bridge.EntertainmentConfigurations(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range configs {
		if cachedUUID != "" && c.ID == cachedUUID {
			return c.ID, nil
		}
	}
	for _, c := range configs {
		if c.Metadata.Name == name {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("splitter: no upstream entertainment configuration for %q", name)
}

// pushPositions patches per-channel positions into the upstream v2
// entertainment configuration. Lights without a v2 resource id are skipped;
// gradient strips contribute their derived segment positions.
func (s *Syncer) pushPositions(ctx context.Context, entUUID string, group *state.EntertainmentGroup, lights []*state.Light) error {
	var locations []huebridge.ServiceLocation
	for _, l := range lights {
		rid := l.CfgString("v2_rid")
		if rid == "" {
			continue
		}
		base, ok := group.Positions[l.ID]
		if !ok {
			continue
		}

		var loc huebridge.ServiceLocation
		loc.Service.RID = rid
		loc.Service.RType = "light"
		if l.Gradient() {
			for _, p := range state.SegmentPositions(base, group.Orientations[l.ID]) {
				loc.Positions = append(loc.Positions, [3]float64{p.X, p.Y, p.Z})
			}
		} else {
			loc.Positions = [][3]float64{{base.X, base.Y, base.Z}}
		}
		locations = append(locations, loc)
	}
	if len(locations) == 0 {
		return nil
	}
	return s.Bridge.PatchServiceLocations(ctx, entUUID, locations)
}

// upstreamLights filters the group's members to the hue-upstream protocol.
func upstreamLights(group *state.EntertainmentGroup) []*state.Light {
	var out []*state.Light
	for _, l := range group.Lights() {
		if l.Protocol == state.ProtocolHue {
			out = append(out, l)
		}
	}
	return out
}
