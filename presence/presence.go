// Package presence indexes which sessions are in which location and carries
// room scoped notifications.
package presence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zond/usurper"
	"github.com/zond/usurper/authority"
)

// Member is what the registry needs to know about a session.
type Member interface {
	Username() string
	Tier() authority.Tier
	Invisible() bool
	Notify(msg string)
}

type room struct {
	members map[string]Member
}

// Registry maps locations to members and members back to their location.
// A member is in at most one room; moves take the member's lock, then each
// room's lock in turn, never two rooms at once.
type Registry struct {
	rooms     *usurper.SyncMap[string, *room]
	locations *usurper.SyncMap[string, string]
}

func New() *Registry {
	return &Registry{
		rooms:     usurper.NewSyncMap[string, *room](),
		locations: usurper.NewSyncMap[string, string](),
	}
}

func key(username string) string {
	return strings.ToLower(username)
}

// Enter moves m to location, leaving its previous room first.
func (r *Registry) Enter(location string, m Member) {
	k := key(m.Username())
	r.locations.WithLock(k, func() {
		if old, found := r.locations.GetHas(k); found {
			if old == location {
				return
			}
			r.remove(old, m, fmt.Sprintf("%s leaves toward %s.", m.Username(), location))
		}
		r.rooms.WithLock(location, func() {
			rm := r.rooms.Get(location)
			if rm == nil {
				rm = &room{members: map[string]Member{}}
				r.rooms.Set(location, rm)
			}
			if !m.Invisible() {
				msg := fmt.Sprintf("%s arrives.", m.Username())
				for _, other := range rm.members {
					other.Notify(msg)
				}
			}
			rm.members[k] = m
		})
		r.locations.Set(k, location)
	})
}

// Leave removes m from location if it is there. An empty destination renders
// as an unspecified departure.
func (r *Registry) Leave(location string, m Member, destination string) {
	k := key(m.Username())
	r.locations.WithLock(k, func() {
		if current, found := r.locations.GetHas(k); !found || current != location {
			return
		}
		msg := fmt.Sprintf("%s leaves.", m.Username())
		if destination != "" {
			msg = fmt.Sprintf("%s leaves toward %s.", m.Username(), destination)
		}
		r.remove(location, m, msg)
	})
}

// Disconnect removes m from whatever room it is in.
func (r *Registry) Disconnect(m Member) {
	k := key(m.Username())
	r.locations.WithLock(k, func() {
		if current, found := r.locations.GetHas(k); found {
			r.remove(current, m, fmt.Sprintf("%s has disconnected.", m.Username()))
		}
	})
}

// remove must be called with the member's lock held.
func (r *Registry) remove(location string, m Member, departure string) {
	k := key(m.Username())
	r.rooms.WithLock(location, func() {
		rm := r.rooms.Get(location)
		if rm == nil {
			return
		}
		delete(rm.members, k)
		if len(rm.members) == 0 {
			r.rooms.Del(location)
			return
		}
		if !m.Invisible() {
			for _, other := range rm.members {
				other.Notify(departure)
			}
		}
	})
	r.locations.Del(k)
}

// Location returns where username is.
func (r *Registry) Location(username string) (string, bool) {
	return r.locations.GetHas(key(username))
}

// Broadcast notifies everyone in location except the excluded usernames.
func (r *Registry) Broadcast(location string, msg string, exclude ...string) {
	skip := map[string]bool{}
	for _, e := range exclude {
		skip[key(e)] = true
	}
	r.rooms.WithLock(location, func() {
		rm := r.rooms.Get(location)
		if rm == nil {
			return
		}
		for k, m := range rm.members {
			if !skip[k] {
				m.Notify(msg)
			}
		}
	})
}

// Members returns a snapshot of everyone in location.
func (r *Registry) Members(location string) []Member {
	var result []Member
	r.rooms.WithLock(location, func() {
		if rm := r.rooms.Get(location); rm != nil {
			for _, m := range rm.members {
				result = append(result, m)
			}
		}
	})
	sort.Slice(result, func(i, j int) bool {
		return key(result[i].Username()) < key(result[j].Username())
	})
	return result
}

// Visible reports whether viewer can see m in listings.
func Visible(viewer Member, m Member) bool {
	if !m.Invisible() {
		return true
	}
	return viewer != nil && viewer.Tier() >= m.Tier()
}

// NamesAt lists the others at location that viewer can see, with tier titles.
func (r *Registry) NamesAt(location string, viewer Member) []string {
	var result []string
	for _, m := range r.Members(location) {
		if viewer != nil && key(m.Username()) == key(viewer.Username()) {
			continue
		}
		if !Visible(viewer, m) {
			continue
		}
		name := m.Username()
		if title := m.Tier().Title(); title != "" {
			name = fmt.Sprintf("%s %s", name, title)
		}
		if m.Invisible() {
			name += " (invisible)"
		}
		result = append(result, name)
	}
	return result
}

// Counts returns the number of members per occupied location.
func (r *Registry) Counts() map[string]int {
	result := map[string]int{}
	for _, location := range r.locations.Each() {
		result[location]++
	}
	return result
}
