// Package node implements a relief node: the local store of users, chats and
// the cached volunteer list, and the agent that keeps it in sync with the
// hub over the radio link.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/reliefnet/internal/apperr"
	"github.com/starford/reliefnet/internal/frame"
	"github.com/starford/reliefnet/internal/link"
	"github.com/starford/reliefnet/internal/liveness"
)

// Config holds the node tunables.
type Config struct {
	Hub               string
	HeartbeatInterval time.Duration
	HubTimeout        time.Duration
	ProvisionalID     string
	InboxSize         int
	Store             StoreConfig
}

// Status is a snapshot of the node's view of the network.
type Status struct {
	NodeID     string    `json:"nodeId"`
	Assigned   bool      `json:"assigned"`
	HubOnline  bool      `json:"hubOnline"`
	LastHub    time.Time `json:"lastHubContact"`
	Clients    int       `json:"clients"`
	Chats      int       `json:"chats"`
	Volunteers string    `json:"cachedService,omitempty"`
	Dropped    uint64    `json:"dropped"`
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

type inbound struct {
	src string
	f   frame.Frame
}

// Agent owns a Store and speaks to the hub on its behalf. All state is
// confined to the Run goroutine; the link handler and request methods only
// pass messages to it.
type Agent struct {
	cfg    Config
	link   link.Link
	logger *slog.Logger
	now    func() time.Time

	store  *Store
	hub    *liveness.Monitor
	nodeID string

	inbox   chan inbound
	calls   chan func()
	dropped atomic.Uint64
}

// NewAgent builds a node agent talking to the hub at cfg.Hub over l.
func NewAgent(cfg Config, l link.Link, logger *slog.Logger, opts ...Option) *Agent {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.ProvisionalID == "" {
		cfg.ProvisionalID = "D0"
	}
	a := &Agent{
		cfg:    cfg,
		link:   l,
		logger: logger,
		now:    time.Now,
		store:  NewStore(cfg.Store),
		hub:    liveness.NewMonitor(cfg.HubTimeout),
		inbox:  make(chan inbound, cfg.InboxSize),
		calls:  make(chan func()),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Deliver is the link receive handler; it drops the frame when the inbox is
// full.
func (a *Agent) Deliver(src string, f frame.Frame) {
	select {
	case a.inbox <- inbound{src: src, f: f}:
	default:
		a.dropped.Add(1)
		a.logger.Warn("node: inbox full, dropping frame", slog.String("kind", string(f.Kind)))
	}
}

// Run announces the node to the hub and serves frames, requests and
// heartbeats until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.link.OnReceive(a.Deliver)
	a.sendHub(frame.Frame{Kind: frame.KindBoot})
	a.logger.Info("node: running",
		slog.String("hub", a.cfg.Hub),
		slog.String("link", a.link.LocalAddr()),
		slog.Duration("heartbeat", a.cfg.HeartbeatInterval))

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("node: stopped")
			return nil
		case in := <-a.inbox:
			a.handleFrame(in.f)
		case fn := <-a.calls:
			fn()
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Agent) id() string {
	if a.nodeID != "" {
		return a.nodeID
	}
	return a.cfg.ProvisionalID
}

func (a *Agent) sendHub(f frame.Frame) {
	f.From = a.id()
	f.To = frame.TagHub
	f.Timestamp = uint32(a.now().Unix())
	if err := a.link.Send(a.cfg.Hub, f); err != nil {
		a.logger.Debug("node: send to hub failed", slog.String("kind", string(f.Kind)), slog.String("error", err.Error()))
	}
}

func (a *Agent) tick() {
	a.sendHub(frame.Frame{Kind: frame.KindHeartbeat})
	if a.hub.Check(a.now()) {
		a.logger.Warn("node: hub lost", slog.Time("last_seen", a.hub.LastSeen()))
	}
}

func (a *Agent) handleFrame(f frame.Frame) {
	if f.Kind == frame.KindHeartbeat && f.From == frame.TagHub && a.hub.Seen(a.now()) {
		a.logger.Info("node: hub online")
	}
	if f.To != "" && f.To != frame.TagAll && a.nodeID != "" && f.To != a.nodeID {
		a.logger.Debug("node: frame for another node ignored", slog.String("to", f.To), slog.String("kind", string(f.Kind)))
		return
	}

	switch f.Kind {
	case frame.KindHeartbeat:
		a.adopt(f)
	case frame.KindVolList:
		vl, err := frame.DecodeVolList(f.Payload)
		if err != nil {
			a.logger.Warn("node: malformed VOL_LIST", slog.String("error", err.Error()))
			return
		}
		a.store.ApplyVolList(vl)
		a.logger.Debug("node: volunteer list received",
			slog.String("service", vl.Service), slog.Int("part", vl.Part), slog.Int("entries", len(vl.Entries)))
	case frame.KindChat:
		if _, ok := a.store.AddChat(f.UserFrom, f.UserTo, string(f.Payload), f.Timestamp); ok {
			a.logger.Debug("node: chat received", slog.String("from", f.UserFrom), slog.String("to", f.UserTo))
		}
	case frame.KindBoot, frame.KindServiceReg, frame.KindVolReq:
	default:
		a.store.AddNotice(Notice{Kind: string(f.Kind), UserID: f.UserFrom, Text: string(f.Payload), Timestamp: f.Timestamp})
		a.logger.Info("node: operator notice", slog.String("kind", string(f.Kind)))
	}
}

// adopt takes the node id from a hub heartbeat addressed to this node.
func (a *Agent) adopt(f frame.Frame) {
	if f.From != frame.TagHub || f.To == "" || f.To == frame.TagAll || f.To == a.nodeID {
		return
	}
	prev := a.nodeID
	a.nodeID = f.To
	a.logger.Info("node: identifier assigned", slog.String("node", a.nodeID), slog.String("previous", prev))
}

func (a *Agent) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case a.calls <- func() { fn(); close(done) }:
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

// Register records user as offering or requesting service and announces it
// to the hub. A full client registry drops the registration silently.
func (a *Agent) Register(ctx context.Context, user, role, service string) error {
	if role != frame.RoleOffer && role != frame.RoleRequest {
		return fmt.Errorf("node: role %q: %w", role, apperr.ErrMalformed)
	}
	user = frame.Truncate(user, frame.UserSize-1)
	return a.do(ctx, func() {
		if _, err := a.store.Register(user, role, service, a.now()); err != nil {
			a.logger.Warn("node: registration dropped", slog.String("user", user), slog.String("error", err.Error()))
			return
		}
		p, err := frame.Encode(frame.ServiceReg{Role: role, Service: service, Node: a.id()})
		if err != nil {
			a.logger.Warn("node: cannot encode SERVICE_REG", slog.String("error", err.Error()))
			return
		}
		a.sendHub(frame.Frame{Kind: frame.KindServiceReg, UserFrom: user, Payload: p})
	})
}

// MyServices returns what user offers and requests; unknown users get an
// empty record.
func (a *Agent) MyServices(ctx context.Context, user string) (ClientRecord, error) {
	var rec ClientRecord
	err := a.do(ctx, func() {
		rec, _ = a.store.Client(user)
	})
	if err != nil {
		return ClientRecord{}, err
	}
	return rec, nil
}

// RequestVolunteers asks the hub for volunteers offering service. The reply
// arrives later as VOL_LIST.
func (a *Agent) RequestVolunteers(ctx context.Context, service string) error {
	return a.do(ctx, func() {
		p, err := frame.Encode(frame.VolReq{Service: service})
		if err != nil {
			a.logger.Warn("node: cannot encode VOL_REQ", slog.String("error", err.Error()))
			return
		}
		a.sendHub(frame.Frame{Kind: frame.KindVolReq, Payload: p})
	})
}

// Volunteers returns the known volunteers for service without exclude.
func (a *Agent) Volunteers(ctx context.Context, service, exclude string) ([]frame.Volunteer, error) {
	var out []frame.Volunteer
	if err := a.do(ctx, func() { out = a.store.Volunteers(a.id(), service, exclude) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Inbox returns the conversations addressed to user.
func (a *Agent) Inbox(ctx context.Context, user string) ([]InboxEntry, error) {
	var out []InboxEntry
	if err := a.do(ctx, func() { out = a.store.Inbox(user) }); err != nil {
		return nil, err
	}
	return out, nil
}

// Thread returns the messages between user and partner and marks them read.
func (a *Agent) Thread(ctx context.Context, user, partner string) ([]ChatEntry, error) {
	var out []ChatEntry
	if err := a.do(ctx, func() { out = a.store.Thread(user, partner) }); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage stores the message locally, then forwards it to the hub.
// A repeat of a recent message is forwarded again but stored once, so a
// user can resend after a lost frame. Text longer than a frame payload is
// truncated.
func (a *Agent) SendMessage(ctx context.Context, from, to, text string) (ChatEntry, error) {
	from = frame.Truncate(from, frame.UserSize-1)
	to = frame.Truncate(to, frame.UserSize-1)
	text = frame.Truncate(text, frame.MaxPayload)
	var entry ChatEntry
	err := a.do(ctx, func() {
		ts := uint32(a.now().Unix())
		e, ok := a.store.AddChat(from, to, text, ts)
		if !ok {
			a.logger.Debug("node: duplicate message not stored again", slog.String("from", from), slog.String("to", to))
		}
		entry = e
		a.sendHub(frame.Frame{Kind: frame.KindChat, UserFrom: from, UserTo: to, Payload: []byte(text)})
	})
	if err != nil {
		return ChatEntry{}, err
	}
	return entry, nil
}

// NewSession returns a fresh user id scoped to this node.
func (a *Agent) NewSession(ctx context.Context) (string, error) {
	var id string
	err := a.do(ctx, func() {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		id = a.id() + "-" + suffix
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Notices returns operator notices, newest first.
func (a *Agent) Notices(ctx context.Context) ([]Notice, error) {
	var out []Notice
	if err := a.do(ctx, func() { out = a.store.Notices() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Status returns a snapshot of the node.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	var st Status
	err := a.do(ctx, func() {
		clients, chats := a.store.Counts()
		st = Status{
			NodeID:     a.id(),
			Assigned:   a.nodeID != "",
			HubOnline:  a.hub.Online(),
			LastHub:    a.hub.LastSeen(),
			Clients:    clients,
			Chats:      chats,
			Volunteers: a.store.cache.Service(),
			Dropped:    a.dropped.Load(),
		}
	})
	if err != nil {
		return Status{}, err
	}
	return st, nil
}
