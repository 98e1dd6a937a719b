package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/reliefnet/internal/frame"
)

// UDPLink is a Link over a single UDP socket. Each datagram carries one frame.
type UDPLink struct {
	conn    *net.UDPConn
	peers   *peerSet
	logger  *slog.Logger
	handler atomic.Pointer[Handler]

	addrMu sync.Mutex
	addrs  map[string]*net.UDPAddr

	dropped atomic.Uint64
}

// ListenUDP binds a UDP socket on addr (e.g. ":4210").
func ListenUDP(addr string, logger *slog.Logger) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("link: listen %s: %w", addr, err)
	}
	return &UDPLink{
		conn:   conn,
		peers:  newPeerSet(),
		logger: logger,
		addrs:  make(map[string]*net.UDPAddr),
	}, nil
}

// LocalAddr implements Link.
func (l *UDPLink) LocalAddr() string {
	return l.conn.LocalAddr().String()
}

// OnReceive implements Link.
func (l *UDPLink) OnReceive(h Handler) {
	l.handler.Store(&h)
}

// SetActive implements Link.
func (l *UDPLink) SetActive(addr string, active bool) {
	l.peers.set(addr, active)
}

// Send implements Link.
func (l *UDPLink) Send(dst string, f frame.Frame) error {
	ua, err := l.resolve(dst)
	if err != nil {
		return err
	}
	if _, known := l.peers.isActive(dst); !known {
		l.peers.touch(dst)
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := l.conn.WriteToUDP(b, ua); err != nil {
		return fmt.Errorf("link: send to %s: %w", dst, err)
	}
	return nil
}

// Broadcast implements Link. Per-peer failures are logged and skipped.
func (l *UDPLink) Broadcast(f frame.Frame) {
	for _, addr := range l.peers.activeAddrs() {
		if err := l.Send(addr, f); err != nil {
			l.logger.Debug("link: broadcast send failed", slog.String("peer", addr), slog.String("error", err.Error()))
		}
	}
}

// Dropped returns the number of inbound datagrams discarded as malformed.
func (l *UDPLink) Dropped() uint64 { return l.dropped.Load() }

// Serve reads datagrams until ctx is cancelled. It returns nil on
// cancellation and an error if the socket fails otherwise.
func (l *UDPLink) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.conn.Close()
	}()

	buf := make([]byte, 2*frame.Size)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("link: read: %w", err)
		}

		f, err := frame.Decode(buf[:n])
		if err != nil {
			l.dropped.Add(1)
			l.logger.Debug("link: discarding datagram", slog.String("from", raddr.String()), slog.Int("bytes", n))
			continue
		}

		src := raddr.String()
		l.remember(src, raddr)
		l.peers.touch(src)
		if h := l.handler.Load(); h != nil {
			(*h)(src, f)
		}
	}
}

// Close implements Link.
func (l *UDPLink) Close() error {
	return l.conn.Close()
}

func (l *UDPLink) resolve(dst string) (*net.UDPAddr, error) {
	l.addrMu.Lock()
	ua, ok := l.addrs[dst]
	l.addrMu.Unlock()
	if ok {
		return ua, nil
	}
	ua, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %s: %w", dst, err)
	}
	l.remember(dst, ua)
	return ua, nil
}

func (l *UDPLink) remember(key string, ua *net.UDPAddr) {
	l.addrMu.Lock()
	defer l.addrMu.Unlock()
	if _, ok := l.addrs[key]; !ok {
		l.addrs[key] = ua
	}
}
