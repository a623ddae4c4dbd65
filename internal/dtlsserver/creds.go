// SPDX-License-Identifier: MIT

package dtlsserver

import (
	"encoding/hex"
	"fmt"

	"github.com/hue2lan/hue2lan/internal/state"
)

// RegistryCredentials resolves PSK identities against the API user store.
// The wire key is the hex-decoded client key.
type RegistryCredentials struct {
	Registry *state.Registry
}

func (c *RegistryCredentials) PSK(identity string) ([]byte, error) {
	u, ok := c.Registry.User(identity)
	if !ok {
		return nil, fmt.Errorf("unknown psk identity %q", identity)
	}
	if u.ClientKey == "" {
		return nil, fmt.Errorf("user %q has no client key", identity)
	}
	key, err := hex.DecodeString(u.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("user %q client key is not hex: %w", identity, err)
	}
	u.Touch()
	return key, nil
}
