// Package console is the operator side of the hub bridge: it folds hub
// events into a dashboard state, journals the notable ones and serves them
// over HTTP, SSE and MCP.
package console

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/starford/reliefnet/internal/bridge"
	"github.com/starford/reliefnet/internal/frame"
)

// Event kinds that only the console understands.
const (
	KindGPSUpdate = "GPS_UPDATE"
	KindUserLeft  = "USER_LEFT"
	KindTicker    = "TICKER"
)

// User status values.
const (
	StatusActive = "active"
	StatusLeft   = "left"
)

// NodeView is a node as the operator sees it.
type NodeView struct {
	NodeID   string    `json:"nodeId"`
	Addr     string    `json:"addr,omitempty"`
	Active   bool      `json:"active"`
	LastSeen time.Time `json:"lastSeen"`
}

// UserView is an end user as reported by SERVICE_REG and GPS updates.
type UserView struct {
	UserID      string     `json:"userId"`
	NodeID      string     `json:"nodeId"`
	Offering    string     `json:"offering,omitempty"`
	Requesting  string     `json:"requesting,omitempty"`
	ConnectedAt time.Time  `json:"connectedAt"`
	Status      string     `json:"status"`
	Lat         *float64   `json:"lat,omitempty"`
	Lng         *float64   `json:"lng,omitempty"`
	LeftAt      *time.Time `json:"leftAt,omitempty"`
}

// ChatView is one relayed message seen by the hub.
type ChatView struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Text   string    `json:"text"`
	NodeID string    `json:"nodeId"`
	At     time.Time `json:"at"`
}

// Snapshot is the dashboard summary.
type Snapshot struct {
	Nodes     []NodeView `json:"nodes"`
	Users     []UserView `json:"users"`
	ChatCount int        `json:"chatCount"`
	Connected bool       `json:"connected"`
	Ticker    string     `json:"ticker"`
}

// GPSFix is the payload of a GPS_UPDATE.
type GPSFix struct {
	UserID string   `json:"uid"`
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	NodeID string   `json:"drone,omitempty"`
}

// State is the console's in-memory picture of the network. HTTP readers and
// the bridge writer run on different goroutines, so access goes through mu.
type State struct {
	mu        sync.RWMutex
	maxChats  int
	maxEvents int

	nodes     map[string]*NodeView
	users     map[string]*UserView
	chats     []ChatView
	events    []bridge.Event
	connected bool
	ticker    string
}

// NewState returns an empty state keeping at most maxChats chats and
// maxEvents raw events.
func NewState(maxChats, maxEvents int) *State {
	return &State{
		maxChats:  maxChats,
		maxEvents: maxEvents,
		nodes:     make(map[string]*NodeView),
		users:     make(map[string]*UserView),
	}
}

// Apply folds one hub event into the state.
func (s *State) Apply(ev bridge.Event, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = prepend(s.events, ev, s.maxEvents)

	switch ev.Kind {
	case bridge.EventNodeJoin, bridge.EventNodeBoot, string(frame.KindHeartbeat):
		if ev.Source == "" || ev.Source == frame.TagHub {
			return
		}
		n := s.node(ev.Source)
		n.Active = true
		n.LastSeen = now
		if ev.Kind == bridge.EventNodeJoin {
			var p struct {
				Addr string `json:"addr"`
			}
			if json.Unmarshal([]byte(ev.Payload), &p) == nil && p.Addr != "" {
				n.Addr = p.Addr
			}
		}

	case bridge.EventNodeLost:
		if n, ok := s.nodes[ev.Source]; ok {
			n.Active = false
		}

	case string(frame.KindServiceReg):
		if ev.UserID == "" {
			return
		}
		reg, _ := frame.DecodeServiceReg([]byte(ev.Payload))
		u := s.user(ev.UserID, ev.Source, now)
		if reg.Role == frame.RoleOffer {
			u.Offering = reg.Service
		} else {
			u.Requesting = reg.Service
		}
		u.NodeID = ev.Source
		u.Status = StatusActive
		u.LeftAt = nil

	case KindGPSUpdate:
		var fix GPSFix
		if err := json.Unmarshal([]byte(ev.Payload), &fix); err != nil {
			return
		}
		if fix.UserID == "" {
			fix.UserID = ev.UserID
		}
		if fix.NodeID == "" {
			fix.NodeID = ev.Source
		}
		s.applyGPS(fix, now)

	case string(frame.KindChat):
		s.chats = prepend(s.chats, ChatView{From: ev.UserID, To: ev.ToUser, Text: ev.Payload, NodeID: ev.Source, At: now}, s.maxChats)

	case KindUserLeft:
		if u, ok := s.users[ev.UserID]; ok {
			u.Status = StatusLeft
			left := now
			u.LeftAt = &left
		}
	}
}

// ApplyGPS records a position fix for a user, creating the user if needed.
// Fixes without a user or coordinates are ignored.
func (s *State) ApplyGPS(fix GPSFix, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyGPS(fix, now)
}

func (s *State) applyGPS(fix GPSFix, now time.Time) bool {
	if fix.UserID == "" || fix.Lat == nil || fix.Lng == nil {
		return false
	}
	u := s.user(fix.UserID, fix.NodeID, now)
	lat, lng := *fix.Lat, *fix.Lng
	u.Lat, u.Lng = &lat, &lng
	if fix.NodeID != "" {
		u.NodeID = fix.NodeID
	}
	u.Status = StatusActive
	return true
}

func (s *State) node(id string) *NodeView {
	n, ok := s.nodes[id]
	if !ok {
		n = &NodeView{NodeID: id}
		s.nodes[id] = n
	}
	return n
}

func (s *State) user(id, nodeID string, now time.Time) *UserView {
	u, ok := s.users[id]
	if !ok {
		u = &UserView{UserID: id, NodeID: nodeID, ConnectedAt: now, Status: StatusActive}
		s.users[id] = u
	}
	return u
}

// SetConnected records whether the hub bridge is up.
func (s *State) SetConnected(up bool) {
	s.mu.Lock()
	s.connected = up
	s.mu.Unlock()
}

// SetTicker replaces the ticker message.
func (s *State) SetTicker(msg string) {
	s.mu.Lock()
	s.ticker = msg
	s.mu.Unlock()
}

// Nodes returns the known nodes ordered by id.
func (s *State) Nodes() []NodeView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeView, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Users returns the known users ordered by first sighting.
func (s *State) Users() []UserView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserView, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Chats returns up to limit chats, newest first, optionally only those
// involving uid.
func (s *State) Chats(uid string, limit int) []ChatView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ChatView{}
	for _, c := range s.chats {
		if len(out) >= limit {
			break
		}
		if uid == "" || c.From == uid || c.To == uid {
			out = append(out, c)
		}
	}
	return out
}

// Events returns up to limit raw hub events, newest first.
func (s *State) Events(limit int) []bridge.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.events))
	return append([]bridge.Event(nil), s.events[:n]...)
}

// Snapshot returns the dashboard summary.
func (s *State) Snapshot() Snapshot {
	nodes, users := s.Nodes(), s.Users()
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Nodes:     nodes,
		Users:     users,
		ChatCount: len(s.chats),
		Connected: s.connected,
		Ticker:    s.ticker,
	}
}

func prepend[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	copy(list[1:], list[:len(list)-1])
	list[0] = v
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}
