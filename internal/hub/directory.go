package hub

import "github.com/starford/reliefnet/internal/apperr"

// VolunteerRecord is one entry of the global volunteer directory.
type VolunteerRecord struct {
	UserID  string `json:"userId"`
	NodeID  string `json:"nodeId"`
	Service string `json:"service"`
}

// Directory is the bounded, insertion-ordered volunteer directory keyed by
// user id. Not safe for concurrent use.
type Directory struct {
	max     int
	records []VolunteerRecord
	index   map[string]int
}

// NewDirectory returns an empty directory holding at most max users.
func NewDirectory(max int) *Directory {
	return &Directory{max: max, index: make(map[string]int)}
}

// Upsert sets the node and service of user, keeping its original position
// when it already exists. A new user beyond capacity is rejected with
// apperr.ErrFull and nothing is evicted.
func (d *Directory) Upsert(user, node, service string) error {
	if i, ok := d.index[user]; ok {
		d.records[i].NodeID = node
		d.records[i].Service = service
		return nil
	}
	if len(d.records) >= d.max {
		return apperr.ErrFull
	}
	d.index[user] = len(d.records)
	d.records = append(d.records, VolunteerRecord{UserID: user, NodeID: node, Service: service})
	return nil
}

// Lookup returns the record for user.
func (d *Directory) Lookup(user string) (VolunteerRecord, bool) {
	i, ok := d.index[user]
	if !ok {
		return VolunteerRecord{}, false
	}
	return d.records[i], true
}

// Match returns every record offering service, in insertion order.
func (d *Directory) Match(service string) []VolunteerRecord {
	var out []VolunteerRecord
	for _, r := range d.records {
		if r.Service == service {
			out = append(out, r)
		}
	}
	return out
}

// All returns a copy of the directory in insertion order.
func (d *Directory) All() []VolunteerRecord {
	return append([]VolunteerRecord(nil), d.records...)
}

// Len returns the number of records.
func (d *Directory) Len() int { return len(d.records) }
