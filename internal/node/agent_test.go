package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/starford/reliefnet/internal/frame"
	"github.com/starford/reliefnet/internal/hub"
	"github.com/starford/reliefnet/internal/link"
	"github.com/starford/reliefnet/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (r *recorder) handle(_ string, f frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}

func (r *recorder) ofKind(k frame.Kind) []frame.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame.Frame
	for _, f := range r.frames {
		if f.Kind == k {
			out = append(out, f)
		}
	}
	return out
}

func testConfig() Config {
	return Config{
		Hub:               "hub",
		HeartbeatInterval: time.Hour,
		HubTimeout:        9 * time.Second,
		Store:             StoreConfig{MaxClients: 8, ChatCapacity: 32, DedupWindow: 10},
	}
}

// startAgent runs an agent against a recording fake hub.
func startAgent(t *testing.T) (*Agent, *recorder) {
	t.Helper()
	net := link.NewMemNetwork()
	rec := &recorder{}
	net.Attach("hub").OnReceive(rec.handle)
	a := NewAgent(testConfig(), net.Attach("n1"), testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.Run(ctx) }()
	testutil.Eventually(t, 2*time.Second, func() bool { return len(rec.ofKind(frame.KindBoot)) == 1 }, "BOOT not sent")
	return a, rec
}

func TestAgentAdoptsNodeIDFromHeartbeat(t *testing.T) {
	a := NewAgent(testConfig(), link.NewMemNetwork().Attach("n1"), testutil.Logger())
	if a.id() != "D0" {
		t.Fatalf("provisional id = %q", a.id())
	}
	a.handleFrame(frame.Frame{Kind: frame.KindHeartbeat, From: frame.TagHub, To: "D3"})
	if a.id() != "D3" {
		t.Errorf("id = %q, want D3", a.id())
	}
	if !a.hub.Online() {
		t.Error("hub should be online after a heartbeat")
	}
}

func TestAgentIgnoresFramesForOtherNodes(t *testing.T) {
	a := NewAgent(testConfig(), link.NewMemNetwork().Attach("n1"), testutil.Logger())
	a.handleFrame(frame.Frame{Kind: frame.KindHeartbeat, From: frame.TagHub, To: "D1"})
	a.handleFrame(frame.Frame{Kind: frame.KindChat, From: "D2", To: "D5", UserFrom: "X", UserTo: "Y", Payload: []byte("nope")})
	a.handleFrame(frame.Frame{Kind: frame.KindChat, From: "D2", To: "D1", UserFrom: "X", UserTo: "Z", Payload: []byte("yes")})
	a.handleFrame(frame.Frame{Kind: "TICKER", From: frame.TagHub, To: frame.TagAll, Payload: []byte("water at 5")})

	if got := a.store.Thread("Z", "X"); len(got) != 1 || got[0].Text != "yes" {
		t.Errorf("thread = %+v", got)
	}
	if got := a.store.Thread("Y", "X"); len(got) != 0 {
		t.Errorf("stored a chat addressed to another node: %+v", got)
	}
	if n := a.store.Notices(); len(n) != 1 || n[0].Kind != "TICKER" || n[0].Text != "water at 5" {
		t.Errorf("notices = %+v", n)
	}
}

func TestAgentHubLiveness(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	a := NewAgent(testConfig(), link.NewMemNetwork().Attach("n1"), testutil.Logger(),
		WithClock(func() time.Time { return clock }))
	a.handleFrame(frame.Frame{Kind: frame.KindHeartbeat, From: frame.TagHub, To: "D1"})
	clock = clock.Add(10 * time.Second)
	a.tick()
	if a.hub.Online() {
		t.Error("hub should be offline after the timeout")
	}
}

func TestAgentRegisterAnnounces(t *testing.T) {
	a, rec := startAgent(t)
	ctx := context.Background()

	if err := a.Register(ctx, "D0-AAA", frame.RoleOffer, "FOOD"); err != nil {
		t.Fatal(err)
	}
	regs := rec.ofKind(frame.KindServiceReg)
	if len(regs) != 1 {
		t.Fatalf("SERVICE_REG frames = %d", len(regs))
	}
	reg, err := frame.DecodeServiceReg(regs[0].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Role != frame.RoleOffer || reg.Service != "FOOD" || reg.Node != "D0" || regs[0].UserFrom != "D0-AAA" {
		t.Errorf("registration = %+v from %q", reg, regs[0].UserFrom)
	}

	svc, err := a.MyServices(ctx, "D0-AAA")
	if err != nil {
		t.Fatal(err)
	}
	if svc.Offering != "FOOD" || svc.Requesting != "" {
		t.Errorf("services = %+v", svc)
	}

	if err := a.Register(ctx, "D0-AAA", "lurk", "FOOD"); err == nil {
		t.Error("unknown role accepted")
	}
}

func TestAgentSendStoresFirst(t *testing.T) {
	a, rec := startAgent(t)
	ctx := context.Background()

	e, err := a.SendMessage(ctx, "D0-XYZ", "D1-AAA", "need rice")
	if err != nil {
		t.Fatal(err)
	}
	if e.Seq == 0 || e.Text != "need rice" {
		t.Errorf("entry = %+v", e)
	}
	thread, err := a.Thread(ctx, "D0-XYZ", "D1-AAA")
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 {
		t.Fatalf("local copy missing: %+v", thread)
	}
	chats := rec.ofKind(frame.KindChat)
	if len(chats) != 1 || chats[0].To != frame.TagHub || chats[0].UserTo != "D1-AAA" {
		t.Errorf("forwarded = %v", chats)
	}
}

func TestAgentResendAfterLostFrame(t *testing.T) {
	net := link.NewMemNetwork()
	a := NewAgent(testConfig(), net.Attach("n1"), testutil.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.Run(ctx) }()

	first, err := a.SendMessage(ctx, "D0-XYZ", "D1-AAA", "need rice")
	if err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	net.Attach("hub").OnReceive(rec.handle)
	again, err := a.SendMessage(ctx, "D0-XYZ", "D1-AAA", "need rice")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("resend entry = %+v, want stored %+v", again, first)
	}
	if chats := rec.ofKind(frame.KindChat); len(chats) != 1 || string(chats[0].Payload) != "need rice" {
		t.Errorf("chats reaching hub = %v", chats)
	}
	thread, err := a.Thread(ctx, "D0-XYZ", "D1-AAA")
	if err != nil {
		t.Fatal(err)
	}
	if len(thread) != 1 {
		t.Errorf("thread = %+v, want one stored copy", thread)
	}
}

func TestAgentHubContactIsHubHeartbeat(t *testing.T) {
	a := NewAgent(testConfig(), link.NewMemNetwork().Attach("n1"), testutil.Logger())
	a.handleFrame(frame.Frame{Kind: frame.KindChat, From: "D2", UserFrom: "X", UserTo: "Y", Payload: []byte("hi")})
	a.handleFrame(frame.Frame{Kind: frame.KindHeartbeat, From: "D2"})
	if a.hub.Online() {
		t.Fatal("hub online after frames not sent by the hub")
	}
	a.handleFrame(frame.Frame{Kind: frame.KindHeartbeat, From: frame.TagHub, To: "D1"})
	if !a.hub.Online() {
		t.Error("hub heartbeat not counted")
	}
}

func TestAgentNewSession(t *testing.T) {
	a, _ := startAgent(t)
	id, err := a.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != len("D0-")+6 || id[:3] != "D0-" {
		t.Errorf("session id = %q", id)
	}
}

func TestAgentRequestCancelled(t *testing.T) {
	a := NewAgent(testConfig(), link.NewMemNetwork().Attach("n1"), testutil.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Inbox(ctx, "A"); err == nil {
		t.Error("expected context error without a running loop")
	}
}

type network struct {
	hub *hub.Hub
	d1  *Agent
	d2  *Agent
}

// startNetwork runs a hub and two nodes, waiting until each node knows its id.
func startNetwork(t *testing.T) network {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := link.NewMemNetwork()
	h := hub.New(hub.Config{
		HeartbeatInterval: 20 * time.Millisecond,
		PeerTimeout:       5 * time.Second,
		MaxPeers:          8,
		MaxVolunteers:     64,
	}, mem.Attach("hub"), nil, testutil.Logger())
	go func() { _ = h.Run(ctx) }()

	start := func(addr, want string) *Agent {
		cfg := testConfig()
		cfg.HeartbeatInterval = 20 * time.Millisecond
		a := NewAgent(cfg, mem.Attach(addr), testutil.Logger())
		go func() { _ = a.Run(ctx) }()
		testutil.Eventually(t, 3*time.Second, func() bool {
			st, err := a.Status(ctx)
			return err == nil && st.Assigned && st.NodeID == want
		}, addr+" never got id "+want)
		return a
	}
	return network{hub: h, d1: start("n1", "D1"), d2: start("n2", "D2")}
}

func TestEndToEndVolunteerDiscoveryAndChat(t *testing.T) {
	n := startNetwork(t)
	ctx := context.Background()

	if err := n.d1.Register(ctx, "D1-AAA", frame.RoleOffer, "FOOD"); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		vols, err := n.hub.Volunteers(ctx)
		return err == nil && len(vols) == 1
	}, "hub never registered D1-AAA")

	if err := n.d2.RequestVolunteers(ctx, "FOOD"); err != nil {
		t.Fatal(err)
	}
	var vols []frame.Volunteer
	testutil.Eventually(t, 2*time.Second, func() bool {
		vols, _ = n.d2.Volunteers(ctx, "FOOD", "")
		return len(vols) == 1
	}, "D2 never cached the volunteer list")
	if vols[0] != (frame.Volunteer{UserID: "D1-AAA", NodeID: "D1", Service: "FOOD"}) {
		t.Errorf("volunteer = %+v", vols[0])
	}

	if err := n.d2.Register(ctx, "D2-XYZ", frame.RoleRequest, "FOOD"); err != nil {
		t.Fatal(err)
	}
	if _, err := n.d2.SendMessage(ctx, "D2-XYZ", "D1-AAA", "need rice"); err != nil {
		t.Fatal(err)
	}
	sent, _ := n.d2.Thread(ctx, "D2-XYZ", "D1-AAA")
	if len(sent) != 1 {
		t.Errorf("sender-side copy missing: %+v", sent)
	}

	var inbox []InboxEntry
	testutil.Eventually(t, 2*time.Second, func() bool {
		inbox, _ = n.d1.Inbox(ctx, "D1-AAA")
		return len(inbox) == 1
	}, "chat never reached D1")
	if inbox[0].Sender != "D2-XYZ" || inbox[0].LastText != "need rice" || inbox[0].Unread != 1 {
		t.Errorf("inbox = %+v", inbox[0])
	}
	thread, _ := n.d1.Thread(ctx, "D1-AAA", "D2-XYZ")
	if len(thread) != 1 || thread[0].From != "D2-XYZ" || thread[0].To != "D1-AAA" {
		t.Errorf("D1 thread = %+v", thread)
	}
	inbox, _ = n.d1.Inbox(ctx, "D1-AAA")
	if inbox[0].Unread != 0 {
		t.Errorf("unread after viewing thread = %d", inbox[0].Unread)
	}
}

func TestEndToEndRequesterUnreachable(t *testing.T) {
	n := startNetwork(t)
	ctx := context.Background()

	_ = n.d1.Register(ctx, "D1-AAA", frame.RoleOffer, "FOOD")
	_ = n.d2.Register(ctx, "D2-QQQ", frame.RoleRequest, "FOOD")
	_ = n.d2.Register(ctx, "D2-VVV", frame.RoleOffer, "WATER")
	testutil.Eventually(t, 2*time.Second, func() bool {
		vols, err := n.hub.Volunteers(ctx)
		return err == nil && len(vols) == 2
	}, "hub never registered the volunteers")

	if _, err := n.d1.SendMessage(ctx, "D1-AAA", "D2-QQQ", "hello requester"); err != nil {
		t.Fatal(err)
	}
	// Frames travel in order, so once the second message lands the first
	// would have been stored already if it had been relayed.
	if _, err := n.d1.SendMessage(ctx, "D1-AAA", "D2-VVV", "hello volunteer"); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 2*time.Second, func() bool {
		th, _ := n.d2.Thread(ctx, "D2-VVV", "D1-AAA")
		return len(th) == 1
	}, "control message never reached D2")

	if th, _ := n.d2.Thread(ctx, "D2-QQQ", "D1-AAA"); len(th) != 0 {
		t.Errorf("requester received a relayed chat: %+v", th)
	}
	if in, _ := n.d2.Inbox(ctx, "D2-QQQ"); len(in) != 0 {
		t.Errorf("requester inbox = %+v", in)
	}
}
