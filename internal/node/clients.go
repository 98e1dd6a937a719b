package node

import (
	"time"

	"github.com/starford/reliefnet/internal/apperr"
	"github.com/starford/reliefnet/internal/frame"
)

// ClientRecord is one end user connected to this node.
type ClientRecord struct {
	UserID      string    `json:"userId"`
	Offering    string    `json:"offering,omitempty"`
	Requesting  string    `json:"requesting,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ClientRegistry is the bounded set of local users, in registration order.
type ClientRegistry struct {
	max     int
	records []ClientRecord
	index   map[string]int
}

// NewClientRegistry returns an empty registry holding at most max users.
func NewClientRegistry(max int) *ClientRegistry {
	return &ClientRegistry{max: max, index: make(map[string]int)}
}

// Upsert sets the offered or requested service of user depending on role.
// The other code is left untouched. A new user beyond capacity is rejected
// with apperr.ErrFull.
func (r *ClientRegistry) Upsert(user, role, service string, now time.Time) (ClientRecord, error) {
	i, ok := r.index[user]
	if !ok {
		if len(r.records) >= r.max {
			return ClientRecord{}, apperr.ErrFull
		}
		i = len(r.records)
		r.index[user] = i
		r.records = append(r.records, ClientRecord{UserID: user, ConnectedAt: now})
	}
	if role == frame.RoleOffer {
		r.records[i].Offering = service
	} else {
		r.records[i].Requesting = service
	}
	return r.records[i], nil
}

// Get returns the record of user.
func (r *ClientRegistry) Get(user string) (ClientRecord, bool) {
	i, ok := r.index[user]
	if !ok {
		return ClientRecord{}, false
	}
	return r.records[i], true
}

// Offering returns the users offering service, in registration order.
func (r *ClientRegistry) Offering(service string) []ClientRecord {
	var out []ClientRecord
	for _, c := range r.records {
		if c.Offering == service {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered users.
func (r *ClientRegistry) Len() int { return len(r.records) }
