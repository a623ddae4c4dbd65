// SPDX-License-Identifier: MIT

package state

import (
	"fmt"
	"sync"
)

// Registry is the process-wide store of lights, groups and users. The REST
// layer owns creation and deletion; the entertainment pipeline holds
// references for the lifetime of a session.
type Registry struct {
	mu     sync.RWMutex
	lights map[uint16]*Light
	groups map[string]*EntertainmentGroup
	users  map[string]*ApiUser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		lights: make(map[uint16]*Light),
		groups: make(map[string]*EntertainmentGroup),
		users:  make(map[string]*ApiUser),
	}
}

// AddLight registers a light.
func (r *Registry) AddLight(l *Light) {
	r.mu.Lock()
	r.lights[l.ID] = l
	r.mu.Unlock()
}

// Light looks up a light by its v1 numeric id.
func (r *Registry) Light(id uint16) (*Light, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lights[id]
	return l, ok
}

// Lights returns all registered lights.
func (r *Registry) Lights() []*Light {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Light, 0, len(r.lights))
	for _, l := range r.lights {
		out = append(out, l)
	}
	return out
}

// AddGroup registers an entertainment group.
func (r *Registry) AddGroup(g *EntertainmentGroup) {
	r.mu.Lock()
	r.groups[g.ID] = g
	r.mu.Unlock()
}

// Group looks up a group by id.
func (r *Registry) Group(id string) (*EntertainmentGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return nil, fmt.Errorf("group %q not found", id)
	}
	return g, nil
}

// AddUser registers an API user.
func (r *Registry) AddUser(u *ApiUser) {
	r.mu.Lock()
	r.users[u.Username] = u
	r.mu.Unlock()
}

// User looks up a user by username.
func (r *Registry) User(username string) (*ApiUser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[username]
	return u, ok
}

// Users returns all registered users.
func (r *Registry) Users() []*ApiUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ApiUser, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out
}
