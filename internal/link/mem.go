package link

import (
	"sync"
	"sync/atomic"

	"github.com/starford/reliefnet/internal/frame"
)

// MemNetwork connects MemLinks in-process. Frames go through the real wire
// encoding and are delivered synchronously on the sender's goroutine, so a
// handler must not block.
type MemNetwork struct {
	mu    sync.RWMutex
	links map[string]*MemLink
}

// NewMemNetwork returns an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{links: make(map[string]*MemLink)}
}

// Attach creates a link reachable at addr.
func (n *MemNetwork) Attach(addr string) *MemLink {
	l := &MemLink{net: n, addr: addr, peers: newPeerSet()}
	n.mu.Lock()
	n.links[addr] = l
	n.mu.Unlock()
	return l
}

// Detach removes addr from the network; frames to it are lost from now on.
func (n *MemNetwork) Detach(addr string) {
	n.mu.Lock()
	delete(n.links, addr)
	n.mu.Unlock()
}

func (n *MemNetwork) lookup(addr string) *MemLink {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.links[addr]
}

// MemLink is one endpoint on a MemNetwork.
type MemLink struct {
	net     *MemNetwork
	addr    string
	peers   *peerSet
	handler atomic.Pointer[Handler]
}

// LocalAddr implements Link.
func (l *MemLink) LocalAddr() string { return l.addr }

// OnReceive implements Link.
func (l *MemLink) OnReceive(h Handler) { l.handler.Store(&h) }

// SetActive implements Link.
func (l *MemLink) SetActive(addr string, active bool) { l.peers.set(addr, active) }

// Send implements Link. Sending to a detached address is silently lost.
func (l *MemLink) Send(dst string, f frame.Frame) error {
	if _, known := l.peers.isActive(dst); !known {
		l.peers.touch(dst)
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	return l.net.deliver(l.addr, dst, b)
}

// Broadcast implements Link.
func (l *MemLink) Broadcast(f frame.Frame) {
	for _, addr := range l.peers.activeAddrs() {
		_ = l.Send(addr, f)
	}
}

// Inject delivers raw bytes to l as if they came from src. Short input is
// discarded like any malformed datagram.
func (l *MemLink) Inject(src string, raw []byte) {
	_ = l.net.deliver(src, l.addr, raw)
}

// Close implements Link.
func (l *MemLink) Close() error {
	l.net.Detach(l.addr)
	return nil
}

func (n *MemNetwork) deliver(src, dst string, raw []byte) error {
	to := n.lookup(dst)
	if to == nil {
		return nil
	}
	f, err := frame.Decode(raw)
	if err != nil {
		return nil
	}
	to.peers.touch(src)
	if h := to.handler.Load(); h != nil {
		(*h)(src, f)
	}
	return nil
}
