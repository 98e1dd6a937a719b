package node

import (
	"sort"
	"time"

	"github.com/starford/reliefnet/internal/frame"
)

// StoreConfig bounds the node registries.
type StoreConfig struct {
	MaxClients   int
	ChatCapacity int
	DedupWindow  int
	MaxNotices   int
}

// InboxEntry summarizes the conversation with one sender.
type InboxEntry struct {
	Sender        string `json:"sender"`
	LastText      string `json:"lastText"`
	LastTimestamp uint32 `json:"lastTs"`
	Unread        int    `json:"unread"`
}

// Notice is an operator frame shown to local users (commands, ticker).
type Notice struct {
	Kind      string `json:"kind"`
	UserID    string `json:"userId,omitempty"`
	Text      string `json:"text"`
	Timestamp uint32 `json:"ts"`
}

type pair struct{ user, partner string }

// Store is the node's local state. It is not safe for concurrent use; the
// Agent loop owns it.
type Store struct {
	cfg     StoreConfig
	clients *ClientRegistry
	chats   *ChatLog
	cache   VolunteerCache
	read    map[pair]uint64
	notices []Notice
}

// NewStore returns an empty store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10
	}
	if cfg.MaxNotices <= 0 {
		cfg.MaxNotices = 20
	}
	return &Store{
		cfg:     cfg,
		clients: NewClientRegistry(cfg.MaxClients),
		chats:   NewChatLog(cfg.ChatCapacity, cfg.DedupWindow),
		read:    make(map[pair]uint64),
	}
}

// Register creates or updates a local user.
func (s *Store) Register(user, role, service string, now time.Time) (ClientRecord, error) {
	return s.clients.Upsert(user, role, service, now)
}

// Client returns the local record of user.
func (s *Store) Client(user string) (ClientRecord, bool) {
	return s.clients.Get(user)
}

// Volunteers lists who offers service: local clients first, then the cached
// hub snapshot, each user once with the local record winning. exclude is
// left out of the result.
func (s *Store) Volunteers(nodeID, service, exclude string) []frame.Volunteer {
	seen := make(map[string]bool)
	out := []frame.Volunteer{}
	for _, c := range s.clients.Offering(service) {
		if c.UserID == exclude || seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		out = append(out, frame.Volunteer{UserID: c.UserID, NodeID: nodeID, Service: service})
	}
	if s.cache.Service() != service {
		return out
	}
	for _, v := range s.cache.Entries() {
		if v.UserID == exclude || seen[v.UserID] {
			continue
		}
		seen[v.UserID] = true
		out = append(out, v)
	}
	return out
}

// ApplyVolList folds a VOL_LIST part into the volunteer cache.
func (s *Store) ApplyVolList(l frame.VolList) {
	s.cache.Apply(l)
}

// AddChat stores a message. Duplicates of a recent message are dropped.
func (s *Store) AddChat(from, to, text string, ts uint32) (ChatEntry, bool) {
	return s.chats.Add(from, to, text, ts)
}

// Inbox groups the messages addressed to user by sender, most recent
// conversation first. Unread counts messages newer than the last time the
// thread with that sender was viewed.
func (s *Store) Inbox(user string) []InboxEntry {
	bySender := make(map[string]*InboxEntry)
	lastSeq := make(map[string]uint64)
	s.chats.Each(func(e ChatEntry) {
		if e.To != user {
			return
		}
		ie, ok := bySender[e.From]
		if !ok {
			ie = &InboxEntry{Sender: e.From}
			bySender[e.From] = ie
		}
		ie.LastText = e.Text
		ie.LastTimestamp = e.Timestamp
		lastSeq[e.From] = e.Seq
		if e.Seq > s.read[pair{user: user, partner: e.From}] {
			ie.Unread++
		}
	})

	out := make([]InboxEntry, 0, len(bySender))
	for _, ie := range bySender {
		out = append(out, *ie)
	}
	sort.Slice(out, func(i, j int) bool {
		return lastSeq[out[i].Sender] > lastSeq[out[j].Sender]
	})
	return out
}

// Thread returns the messages between user and partner in either direction,
// in storage order, and marks them read for user.
func (s *Store) Thread(user, partner string) []ChatEntry {
	out := []ChatEntry{}
	s.chats.Each(func(e ChatEntry) {
		if (e.From == user && e.To == partner) || (e.From == partner && e.To == user) {
			out = append(out, e)
		}
	})
	if n := len(out); n > 0 {
		key := pair{user: user, partner: partner}
		if last := out[n-1].Seq; last > s.read[key] {
			s.read[key] = last
		}
	}
	return out
}

// AddNotice keeps an operator notice, evicting the oldest past capacity.
func (s *Store) AddNotice(n Notice) {
	if len(s.notices) >= s.cfg.MaxNotices {
		s.notices = s.notices[1:]
	}
	s.notices = append(s.notices, n)
}

// Notices returns the stored notices, newest first.
func (s *Store) Notices() []Notice {
	out := make([]Notice, 0, len(s.notices))
	for i := len(s.notices) - 1; i >= 0; i-- {
		out = append(out, s.notices[i])
	}
	return out
}

// Counts reports registry sizes.
func (s *Store) Counts() (clients, chats int) {
	return s.clients.Len(), s.chats.Len()
}
