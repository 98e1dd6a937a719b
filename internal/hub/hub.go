// Package hub implements the central relay: it tracks node liveness, owns
// the global volunteer directory and routes frames between nodes.
//
// Concurrency model: a single loop goroutine (Run) owns the peer table and
// the directory. The link's receive handler only enqueues frames, operator
// commands and status queries are submitted as closures, so registries are
// never touched from two goroutines.
package hub

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/starford/reliefnet/internal/bridge"
	"github.com/starford/reliefnet/internal/frame"
	"github.com/starford/reliefnet/internal/link"
)

// Sink receives events destined for the operator console.
type Sink interface {
	Emit(ev bridge.Event)
}

// Config holds the hub tunables.
type Config struct {
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	MaxPeers          int
	MaxVolunteers     int
	InboxSize         int
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

type inbound struct {
	src string
	f   frame.Frame
}

// Hub is the relay and directory.
type Hub struct {
	cfg    Config
	link   link.Link
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	peers *PeerTable
	dir   *Directory

	inbox   chan inbound
	calls   chan func()
	dropped atomic.Uint64
}

// New builds a hub around l. Events go to sink.
func New(cfg Config, l link.Link, sink Sink, logger *slog.Logger, opts ...Option) *Hub {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	h := &Hub{
		cfg:    cfg,
		link:   l,
		sink:   sink,
		logger: logger,
		now:    time.Now,
		peers:  NewPeerTable(cfg.MaxPeers, cfg.PeerTimeout),
		dir:    NewDirectory(cfg.MaxVolunteers),
		inbox:  make(chan inbound, cfg.InboxSize),
		calls:  make(chan func()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Deliver is the link receive handler. It never blocks: when the inbox is
// full the frame is dropped, as if lost on the air.
func (h *Hub) Deliver(src string, f frame.Frame) {
	select {
	case h.inbox <- inbound{src: src, f: f}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("hub: inbox full, dropping frame", slog.String("from", src), slog.String("kind", string(f.Kind)))
	}
}

// Dropped returns the number of frames lost to a full inbox.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Run owns the hub state until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.link.OnReceive(h.Deliver)
	h.emit(bridge.Event{Kind: bridge.EventHubBoot, Source: frame.TagHub, Timestamp: h.stamp()})
	h.logger.Info("hub: running",
		slog.String("link", h.link.LocalAddr()),
		slog.Duration("heartbeat", h.cfg.HeartbeatInterval),
		slog.Duration("timeout", h.cfg.PeerTimeout))

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub: stopped")
			return nil
		case in := <-h.inbox:
			h.handleFrame(in.src, in.f)
		case fn := <-h.calls:
			fn()
		case <-ticker.C:
			h.tick()
		}
	}
}

// Command submits an operator command to the loop.
func (h *Hub) Command(ctx context.Context, cmd bridge.Command) error {
	return h.do(ctx, func() { h.handleCommand(cmd) })
}

// Peers returns a snapshot of every known node.
func (h *Hub) Peers(ctx context.Context) ([]PeerRecord, error) {
	var out []PeerRecord
	if err := h.do(ctx, func() { out = h.peers.All() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Volunteers returns a snapshot of the directory.
func (h *Hub) Volunteers(ctx context.Context) ([]VolunteerRecord, error) {
	var out []VolunteerRecord
	if err := h.do(ctx, func() { out = h.dir.All() }); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Hub) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case h.calls <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) emit(ev bridge.Event) {
	if h.sink != nil {
		h.sink.Emit(ev)
	}
}

func (h *Hub) stamp() uint32 {
	return uint32(h.now().Unix())
}
