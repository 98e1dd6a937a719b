package hub

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/starford/reliefnet/internal/apperr"
	"github.com/starford/reliefnet/internal/bridge"
	"github.com/starford/reliefnet/internal/frame"
)

// handleFrame dispatches one inbound frame. Failures are logged and never
// surfaced to the sender.
func (h *Hub) handleFrame(src string, f frame.Frame) {
	rec, contact, err := h.peers.Touch(src, h.now())
	if err != nil {
		h.logger.Warn("hub: peer table full, ignoring frame",
			slog.String("from", src), slog.Int("peers", h.peers.Len()))
		return
	}

	if contact != ContactKnown {
		h.link.SetActive(src, true)
		payload, _ := json.Marshal(map[string]any{"addr": src, "recovered": contact == ContactRecovered})
		h.emit(bridge.Event{
			Kind:      bridge.EventNodeJoin,
			Source:    rec.NodeID,
			Dest:      frame.TagHub,
			Payload:   string(payload),
			Timestamp: h.stamp(),
		})
		h.logger.Info("hub: node joined",
			slog.String("node", rec.NodeID),
			slog.String("addr", src),
			slog.Bool("recovered", contact == ContactRecovered))
	}

	switch f.Kind {
	case frame.KindHeartbeat:
		h.emit(h.eventFor(rec, f, string(frame.KindHeartbeat)))
	case frame.KindBoot:
		h.emit(h.eventFor(rec, f, bridge.EventNodeBoot))
	case frame.KindServiceReg:
		h.handleServiceReg(rec, f)
	case frame.KindVolReq:
		h.handleVolReq(rec, f)
	case frame.KindChat:
		h.handleChat(rec, f)
	default:
		h.emit(h.eventFor(rec, f, string(f.Kind)))
	}
}

func (h *Hub) handleServiceReg(from PeerRecord, f frame.Frame) {
	reg, err := frame.DecodeServiceReg(f.Payload)
	if err != nil {
		h.logger.Warn("hub: malformed SERVICE_REG", slog.String("node", from.NodeID), slog.String("error", err.Error()))
	}
	if reg.Role == frame.RoleOffer && f.UserFrom != "" {
		if err := h.dir.Upsert(f.UserFrom, from.NodeID, reg.Service); err != nil {
			h.logger.Warn("hub: volunteer not registered",
				slog.String("user", f.UserFrom),
				slog.Int("volunteers", h.dir.Len()),
				slog.String("error", err.Error()))
		} else {
			h.logger.Debug("hub: volunteer registered",
				slog.String("user", f.UserFrom), slog.String("node", from.NodeID), slog.String("service", reg.Service))
		}
	}
	h.emit(h.eventFor(from, f, string(frame.KindServiceReg)))
}

func (h *Hub) handleVolReq(from PeerRecord, f frame.Frame) {
	req, err := frame.DecodeVolReq(f.Payload)
	if err != nil {
		h.logger.Warn("hub: malformed VOL_REQ", slog.String("node", from.NodeID), slog.String("error", err.Error()))
	}

	matches := h.dir.Match(req.Service)
	vols := make([]frame.Volunteer, 0, len(matches))
	for _, m := range matches {
		vols = append(vols, frame.Volunteer{UserID: m.UserID, NodeID: m.NodeID, Service: m.Service})
	}
	parts, err := frame.PackVolList(req.Service, vols)
	if err != nil {
		h.logger.Warn("hub: cannot pack VOL_LIST", slog.String("error", err.Error()))
		return
	}

	requester, ok := h.peers.ActiveByNodeID(from.NodeID)
	if !ok {
		h.logger.Debug("hub: requester not resolvable, dropping VOL_LIST", slog.String("node", from.NodeID))
		return
	}
	for _, p := range parts {
		reply := frame.Frame{
			Kind:      frame.KindVolList,
			From:      frame.TagHub,
			To:        requester.NodeID,
			UserTo:    f.UserFrom,
			Payload:   p,
			Timestamp: h.stamp(),
		}
		if err := h.link.Send(requester.Addr, reply); err != nil {
			h.logger.Debug("hub: VOL_LIST send failed", slog.String("node", requester.NodeID), slog.String("error", err.Error()))
		}
	}
	h.logger.Debug("hub: answered VOL_REQ",
		slog.String("node", requester.NodeID),
		slog.String("service", req.Service),
		slog.Int("matches", len(vols)),
		slog.Int("frames", len(parts)))
}

func (h *Hub) handleChat(from PeerRecord, f frame.Frame) {
	h.emit(h.eventFor(from, f, string(frame.KindChat)))

	home, err := h.resolveHome(f.UserTo)
	if err != nil {
		h.logger.Debug("hub: chat recipient unreachable, dropping",
			slog.String("from", f.UserFrom), slog.String("to", f.UserTo), slog.String("error", err.Error()))
		return
	}
	if home.NodeID == from.NodeID {
		return
	}

	relay := f
	relay.From = from.NodeID
	relay.To = home.NodeID
	if err := h.link.Send(home.Addr, relay); err != nil {
		h.logger.Debug("hub: chat relay failed", slog.String("node", home.NodeID), slog.String("error", err.Error()))
		return
	}
	h.logger.Debug("hub: chat relayed",
		slog.String("from", f.UserFrom), slog.String("to", f.UserTo),
		slog.String("src_node", from.NodeID), slog.String("dst_node", home.NodeID))
}

// resolveHome finds the live peer a user is reachable through. Only users
// present in the volunteer directory can be resolved.
func (h *Hub) resolveHome(user string) (PeerRecord, error) {
	vol, ok := h.dir.Lookup(user)
	if !ok {
		return PeerRecord{}, apperr.ErrNotFound
	}
	home, ok := h.peers.ActiveByNodeID(vol.NodeID)
	if !ok {
		return PeerRecord{}, apperr.ErrUnknownPeer
	}
	return home, nil
}

func (h *Hub) handleCommand(cmd bridge.Command) {
	kind := cmd.Kind
	if kind == "" {
		kind = bridge.DefaultCommandKind
	}
	f := frame.Frame{
		Kind:      frame.Kind(kind),
		From:      frame.TagHub,
		UserFrom:  cmd.UserID,
		Payload:   []byte(cmd.Payload),
		Timestamp: h.stamp(),
	}

	if cmd.IsBroadcast() {
		f.To = frame.TagAll
		h.link.Broadcast(f)
		h.logger.Info("hub: command broadcast", slog.String("kind", kind))
		return
	}

	dst, ok := h.peers.ByNodeID(cmd.To)
	if !ok {
		h.logger.Debug("hub: command for unknown node ignored", slog.String("to", cmd.To))
		return
	}
	f.To = dst.NodeID
	if err := h.link.Send(dst.Addr, f); err != nil {
		h.logger.Debug("hub: command send failed", slog.String("node", dst.NodeID), slog.String("error", err.Error()))
	}
}

// tick sends a heartbeat to every active peer, addressed with its node id so
// the node learns its identifier, then runs the staleness sweep.
func (h *Hub) tick() {
	now := h.now()
	for _, p := range h.peers.Active() {
		hb := frame.Frame{Kind: frame.KindHeartbeat, From: frame.TagHub, To: p.NodeID, Timestamp: uint32(now.Unix())}
		if err := h.link.Send(p.Addr, hb); err != nil && !errors.Is(err, apperr.ErrUnknownPeer) {
			h.logger.Debug("hub: heartbeat send failed", slog.String("node", p.NodeID), slog.String("error", err.Error()))
		}
	}

	for _, p := range h.peers.Sweep(now) {
		h.link.SetActive(p.Addr, false)
		h.emit(bridge.Event{Kind: bridge.EventNodeLost, Source: p.NodeID, Dest: frame.TagHub, Timestamp: uint32(now.Unix())})
		h.logger.Warn("hub: node lost", slog.String("node", p.NodeID), slog.Time("last_seen", p.LastSeen))
	}
}

func (h *Hub) eventFor(from PeerRecord, f frame.Frame, kind string) bridge.Event {
	return bridge.Event{
		Kind:      kind,
		Source:    from.NodeID,
		Dest:      f.To,
		UserID:    f.UserFrom,
		ToUser:    f.UserTo,
		Payload:   string(f.Payload),
		Timestamp: f.Timestamp,
	}
}
