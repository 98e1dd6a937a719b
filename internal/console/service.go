package console

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/reliefnet/internal/bridge"
	"github.com/starford/reliefnet/internal/frame"
	"github.com/starford/reliefnet/internal/journal"
	"github.com/starford/reliefnet/internal/sse"
)

// Commander delivers operator commands to the hub. *bridge.Client
// implements it.
type Commander interface {
	Send(cmd bridge.Command) error
}

// Publisher pushes live updates to dashboards. *sse.Broker implements it.
type Publisher interface {
	Publish(ev sse.Event)
	PublishHubEvent(kind string, data any)
}

var (
	_ Commander = (*bridge.Client)(nil)
	_ Publisher = (*sse.Broker)(nil)
)

// journaled lists the event kinds kept in the journal.
var journaled = map[string]bool{
	bridge.EventHubBoot:          true,
	bridge.EventNodeLost:         true,
	string(frame.KindServiceReg): true,
	string(frame.KindChat):       true,
	KindUserLeft:                 true,
	KindTicker:                   true,
}

// Service ties the dashboard state to the journal, the hub bridge and live
// subscribers.
type Service struct {
	state   *State
	journal journal.Store
	cmd     Commander
	pub     Publisher
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a console service. pub may be nil.
func NewService(state *State, j journal.Store, cmd Commander, pub Publisher, logger *slog.Logger) *Service {
	return &Service{state: state, journal: j, cmd: cmd, pub: pub, logger: logger, now: time.Now}
}

// HandleEvent is the bridge event callback.
func (s *Service) HandleEvent(ev bridge.Event) {
	s.state.Apply(ev, s.now())
	if journaled[ev.Kind] {
		s.record(journal.Entry{
			Kind:      ev.Kind,
			Node:      ev.Source,
			UserID:    ev.UserID,
			ToUser:    ev.ToUser,
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
		})
	}
	if s.pub != nil {
		s.pub.PublishHubEvent(ev.Kind, ev)
	}
}

// HandleConnection is the bridge state callback.
func (s *Service) HandleConnection(up bool) {
	s.state.SetConnected(up)
	if s.pub != nil {
		s.pub.Publish(sse.Event{Type: "bridge", Data: map[string]bool{"connected": up}})
	}
}

func (s *Service) record(e journal.Entry) {
	if _, err := s.journal.Append(e); err != nil {
		s.logger.Error("console: journal append failed", slog.String("kind", e.Kind), slog.String("error", err.Error()))
	}
}

// Snapshot returns the dashboard summary.
func (s *Service) Snapshot() Snapshot { return s.state.Snapshot() }

// Nodes returns the known nodes.
func (s *Service) Nodes() []NodeView { return s.state.Nodes() }

// Users returns the known users.
func (s *Service) Users() []UserView { return s.state.Users() }

// Chats returns up to limit recent chats, optionally for one user.
func (s *Service) Chats(uid string, limit int) []ChatView { return s.state.Chats(uid, limit) }

// Events returns up to limit journaled events, newest first.
func (s *Service) Events(limit int) ([]journal.Entry, error) {
	return s.journal.Recent(limit)
}

// Send forwards an operator message to one node or, when to is empty or
// "all", to every node.
func (s *Service) Send(to, userID, text string) error {
	if to == "" {
		to = "all"
	}
	cmd := bridge.Command{Kind: bridge.DefaultCommandKind, To: to, UserID: userID, Payload: text}
	if err := s.cmd.Send(cmd); err != nil {
		return fmt.Errorf("console: send command: %w", err)
	}
	s.logger.Info("console: command sent", slog.String("to", to))
	return nil
}

// SetTicker replaces the ticker message, journals it and broadcasts it to
// every node. The local state is updated even when the hub is unreachable.
func (s *Service) SetTicker(msg string) error {
	msg = strings.TrimSpace(msg)
	s.state.SetTicker(msg)
	s.record(journal.Entry{Kind: KindTicker, Node: frame.TagHub, Payload: msg, Timestamp: uint32(s.now().Unix())})
	if s.pub != nil {
		s.pub.Publish(sse.Event{Type: "ticker", Data: map[string]string{"message": msg}})
	}
	if err := s.cmd.Send(bridge.Command{Kind: KindTicker, To: "all", Payload: msg}); err != nil {
		return fmt.Errorf("console: broadcast ticker: %w", err)
	}
	return nil
}

// UpdateGPS records a position posted directly by a client.
func (s *Service) UpdateGPS(fix GPSFix) bool {
	if !s.state.ApplyGPS(fix, s.now()) {
		return false
	}
	if s.pub != nil {
		data, _ := json.Marshal(fix)
		s.pub.Publish(sse.Event{Type: "gps", Data: json.RawMessage(data)})
	}
	return true
}
