package api

import (
	"context"

	"github.com/starford/reliefnet/internal/frame"
	"github.com/starford/reliefnet/internal/hub"
	"github.com/starford/reliefnet/internal/node"
)

// NodeService is what the portal needs from a node. *node.Agent implements it.
type NodeService interface {
	Register(ctx context.Context, user, role, service string) error
	MyServices(ctx context.Context, user string) (node.ClientRecord, error)
	RequestVolunteers(ctx context.Context, service string) error
	Volunteers(ctx context.Context, service, exclude string) ([]frame.Volunteer, error)
	Inbox(ctx context.Context, user string) ([]node.InboxEntry, error)
	Thread(ctx context.Context, user, partner string) ([]node.ChatEntry, error)
	SendMessage(ctx context.Context, from, to, text string) (node.ChatEntry, error)
	NewSession(ctx context.Context) (string, error)
	Notices(ctx context.Context) ([]node.Notice, error)
	Status(ctx context.Context) (node.Status, error)
}

// HubService is the read side of the hub exposed over HTTP. *hub.Hub
// implements it.
type HubService interface {
	Peers(ctx context.Context) ([]hub.PeerRecord, error)
	Volunteers(ctx context.Context) ([]hub.VolunteerRecord, error)
	Dropped() uint64
}

var (
	_ NodeService = (*node.Agent)(nil)
	_ HubService  = (*hub.Hub)(nil)
)
