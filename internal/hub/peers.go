package hub

import (
	"fmt"
	"time"

	"github.com/starford/reliefnet/internal/apperr"
	"github.com/starford/reliefnet/internal/liveness"
)

// PeerRecord is a snapshot of one node as the hub knows it.
type PeerRecord struct {
	Addr     string    `json:"addr"`
	NodeID   string    `json:"nodeId"`
	Active   bool      `json:"active"`
	LastSeen time.Time `json:"lastSeen"`
}

// Contact describes what a frame from an address meant for the peer table.
type Contact int

const (
	// ContactKnown is an ordinary frame from an online peer.
	ContactKnown Contact = iota
	// ContactNew is the first frame from an unseen address.
	ContactNew
	// ContactRecovered is a frame from a peer previously marked lost.
	ContactRecovered
)

type peer struct {
	addr   string
	nodeID string
	mon    *liveness.Monitor
}

func (p *peer) snapshot() PeerRecord {
	return PeerRecord{Addr: p.addr, NodeID: p.nodeID, Active: p.mon.Online(), LastSeen: p.mon.LastSeen()}
}

// PeerTable is the hub's bounded set of known nodes. Records are never
// removed and node ids are never reused. Not safe for concurrent use.
type PeerTable struct {
	max     int
	timeout time.Duration
	peers   []*peer
	byAddr  map[string]*peer
	nextID  int
}

// NewPeerTable returns an empty table holding at most max peers.
func NewPeerTable(max int, timeout time.Duration) *PeerTable {
	return &PeerTable{
		max:     max,
		timeout: timeout,
		byAddr:  make(map[string]*peer),
		nextID:  1,
	}
}

// Touch records contact from addr at now, allocating a record and node id
// for an unseen address. It returns apperr.ErrFull when addr is new and the
// table is at capacity.
func (t *PeerTable) Touch(addr string, now time.Time) (PeerRecord, Contact, error) {
	if p, ok := t.byAddr[addr]; ok {
		if p.mon.Seen(now) {
			return p.snapshot(), ContactRecovered, nil
		}
		return p.snapshot(), ContactKnown, nil
	}
	if len(t.peers) >= t.max {
		return PeerRecord{}, ContactKnown, apperr.ErrFull
	}
	p := &peer{
		addr:   addr,
		nodeID: fmt.Sprintf("D%d", t.nextID),
		mon:    liveness.NewMonitor(t.timeout),
	}
	t.nextID++
	p.mon.Seen(now)
	t.peers = append(t.peers, p)
	t.byAddr[addr] = p
	return p.snapshot(), ContactNew, nil
}

// ByNodeID returns the first peer carrying id, active or not.
func (t *PeerTable) ByNodeID(id string) (PeerRecord, bool) {
	for _, p := range t.peers {
		if p.nodeID == id {
			return p.snapshot(), true
		}
	}
	return PeerRecord{}, false
}

// ActiveByNodeID is ByNodeID restricted to peers currently online.
func (t *PeerTable) ActiveByNodeID(id string) (PeerRecord, bool) {
	rec, ok := t.ByNodeID(id)
	if !ok || !rec.Active {
		return PeerRecord{}, false
	}
	return rec, true
}

// Active returns the online peers in first-contact order.
func (t *PeerTable) Active() []PeerRecord {
	var out []PeerRecord
	for _, p := range t.peers {
		if p.mon.Online() {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// All returns every peer in first-contact order.
func (t *PeerTable) All() []PeerRecord {
	out := make([]PeerRecord, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p.snapshot())
	}
	return out
}

// Sweep runs the staleness check on every peer and returns those that went
// offline on this call.
func (t *PeerTable) Sweep(now time.Time) []PeerRecord {
	var lost []PeerRecord
	for _, p := range t.peers {
		if p.mon.Check(now) {
			lost = append(lost, p.snapshot())
		}
	}
	return lost
}

// Len returns the number of known peers.
func (t *PeerTable) Len() int { return len(t.peers) }
