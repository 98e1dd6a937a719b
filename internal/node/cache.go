package node

import "github.com/starford/reliefnet/internal/frame"

// VolunteerCache holds the last volunteer list received from the hub.
type VolunteerCache struct {
	service string
	entries []frame.Volunteer
}

// Apply folds one VOL_LIST part into the cache. Part 0 replaces the whole
// snapshot; a later part extends it only while it belongs to the same reply.
func (c *VolunteerCache) Apply(l frame.VolList) {
	if l.Part == 0 || l.Service != c.service {
		c.service = l.Service
		c.entries = l.Volunteers()
		return
	}
	c.entries = append(c.entries, l.Volunteers()...)
}

// Service returns the service code of the cached snapshot.
func (c *VolunteerCache) Service() string { return c.service }

// Entries returns a copy of the snapshot.
func (c *VolunteerCache) Entries() []frame.Volunteer {
	return append([]frame.Volunteer(nil), c.entries...)
}
