// Package link carries fixed-size frames between the hub and nodes over a
// connectionless, broadcast-capable channel. It offers no acknowledgement,
// retry or ordering; callers must tolerate loss and duplication.
package link

import (
	"sync"

	"github.com/starford/reliefnet/internal/frame"
)

// Handler is invoked for every well-formed inbound frame.
type Handler func(src string, f frame.Frame)

// Link is a frame channel to a set of peer addresses.
type Link interface {
	// Send transmits one frame to dst, registering dst as a peer on first use.
	Send(dst string, f frame.Frame) error
	// Broadcast sends f to every peer currently marked active.
	Broadcast(f frame.Frame)
	// OnReceive installs the inbound handler. It replaces any previous one.
	OnReceive(h Handler)
	// SetActive marks a registered peer active or inactive for Broadcast.
	SetActive(addr string, active bool)
	// LocalAddr returns the address peers use to reach this link.
	LocalAddr() string
	// Close releases the underlying channel.
	Close() error
}

// peerSet is the active/inactive registry shared by link implementations.
type peerSet struct {
	mu     sync.Mutex
	order  []string
	active map[string]bool
}

func newPeerSet() *peerSet {
	return &peerSet{active: make(map[string]bool)}
}

// touch registers addr (active) if unseen, reactivating it otherwise.
func (p *peerSet) touch(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[addr]; !ok {
		p.order = append(p.order, addr)
	}
	p.active[addr] = true
}

func (p *peerSet) set(addr string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[addr]; ok {
		p.active[addr] = active
	}
}

func (p *peerSet) activeAddrs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.order))
	for _, a := range p.order {
		if p.active[a] {
			out = append(out, a)
		}
	}
	return out
}

func (p *peerSet) isActive(addr string) (active, known bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	active, known = p.active[addr]
	return active, known
}
