// SPDX-License-Identifier: MIT

package state

import (
	"sort"
	"strings"
	"time"
)

// ApiUser is an authorized API client. ClientKey doubles as the DTLS PSK
// for entertainment sessions (32 hex chars).
type ApiUser struct {
	Username    string
	Name        string
	ClientKey   string
	LastUseDate time.Time
}

// Touch records an authorized access.
func (u *ApiUser) Touch() {
	u.LastUseDate = time.Now()
}

// entertainment sources usually register with one of these markers in their
// application name
var streamerMarkers = []string{"sync", "tv", "box", "entertain"}

func streamerRank(name string) int {
	lower := strings.ToLower(name)
	for _, m := range streamerMarkers {
		if strings.Contains(lower, m) {
			return 1
		}
	}
	return 0
}

// PreferredStreamUser ranks candidates for the DTLS PSK identity: users that
// look like entertainment sources first, then most recently used, falling
// back to the session owner.
func PreferredStreamUser(users []*ApiUser, owner *ApiUser) *ApiUser {
	candidates := make([]*ApiUser, 0, len(users))
	for _, u := range users {
		if u.ClientKey != "" {
			candidates = append(candidates, u)
		}
	}
	if len(candidates) == 0 {
		return owner
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := streamerRank(candidates[i].Name), streamerRank(candidates[j].Name)
		if ri != rj {
			return ri > rj
		}
		return candidates[i].LastUseDate.After(candidates[j].LastUseDate)
	})
	return candidates[0]
}
