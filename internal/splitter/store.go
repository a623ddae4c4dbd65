// SPDX-License-Identifier: MIT

package splitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Mapping ties a local group to its upstream counterpart. The file is a
// cache for stable identity across restarts; session start always reconciles
// it against the upstream bridge.
type Mapping struct {
	LocalUUID     string    `json:"local_uuid"`
	BridgeUUID    string    `json:"bridge_uuid"`
	BridgeGroupID string    `json:"bridge_group_id"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Store persists the group name to upstream mapping as a single JSON file.
// Read-modify-write runs under a file-scoped mutex; writes are atomic.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the full mapping table. A missing file is an empty table.
func (s *Store) Load() (map[string]Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns the mapping for one group name.
func (s *Store) Get(groupName string) (Mapping, bool, error) {
	table, err := s.Load()
	if err != nil {
		return Mapping{}, false, err
	}
	m, ok := table[groupName]
	return m, ok, nil
}

// Put upserts one group's mapping and persists the table.
func (s *Store) Put(groupName string, m Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.load()
	if err != nil {
		return err
	}
	m.LastUpdated = time.Now().UTC()
	table[groupName] = m

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("splitter: persist mapping %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) load() (map[string]Mapping, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Mapping), nil
	}
	if err != nil {
		return nil, fmt.Errorf("splitter: read mapping %s: %w", s.path, err)
	}

	table := make(map[string]Mapping)
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("splitter: parse mapping %s: %w", s.path, err)
	}
	return table, nil
}
