package link

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/starford/reliefnet/internal/frame"
)

type recorder struct {
	mu     sync.Mutex
	frames []frame.Frame
	srcs   []string
}

func (r *recorder) handle(src string, f frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.srcs = append(r.srcs, src)
	r.frames = append(r.frames, f)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestMemSendAndBroadcastActiveOnly(t *testing.T) {
	n := NewMemNetwork()
	hub := n.Attach("hub")
	a := n.Attach("a")
	b := n.Attach("b")

	var ra, rb recorder
	a.OnReceive(ra.handle)
	b.OnReceive(rb.handle)

	if err := hub.Send("a", frame.Frame{Kind: frame.KindHeartbeat, To: "D1"}); err != nil {
		t.Fatal(err)
	}
	_ = hub.Send("b", frame.Frame{Kind: frame.KindHeartbeat, To: "D2"})

	hub.SetActive("b", false)
	hub.Broadcast(frame.Frame{Kind: "CMD", To: frame.TagAll, Payload: []byte("hello")})

	if ra.count() != 2 {
		t.Errorf("a got %d frames, want 2", ra.count())
	}
	if rb.count() != 1 {
		t.Errorf("inactive b got %d frames, want 1", rb.count())
	}
	if ra.srcs[0] != "hub" {
		t.Errorf("src = %q, want hub", ra.srcs[0])
	}
	if string(ra.frames[1].Payload) != "hello" {
		t.Errorf("payload = %q", ra.frames[1].Payload)
	}
}

func TestMemShortFrameDiscarded(t *testing.T) {
	n := NewMemNetwork()
	a := n.Attach("a")
	var r recorder
	a.OnReceive(r.handle)

	a.Inject("x", make([]byte, frame.Size-1))
	if r.count() != 0 {
		t.Fatalf("short frame was delivered")
	}
}

func TestMemDetachedPeerLosesFrames(t *testing.T) {
	n := NewMemNetwork()
	hub := n.Attach("hub")
	a := n.Attach("a")
	var r recorder
	a.OnReceive(r.handle)

	n.Detach("a")
	if err := hub.Send("a", frame.Frame{Kind: frame.KindChat}); err != nil {
		t.Fatalf("send to detached peer should not error: %v", err)
	}
	if r.count() != 0 {
		t.Fatal("detached link received a frame")
	}
}

func TestUDPRoundTripAndShortDatagram(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := ListenUDP("127.0.0.1:0", logger)
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan frame.Frame, 4)
	srv.OnReceive(func(_ string, f frame.Frame) { got <- f })
	go func() { _ = srv.Serve(ctx) }()

	raw, err := net.Dial("udp", srv.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	// Malformed datagram first; the link must keep serving.
	if _, err := raw.Write([]byte("short")); err != nil {
		t.Fatal(err)
	}

	cli, err := ListenUDP("127.0.0.1:0", logger)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()
	if err := cli.Send(srv.LocalAddr(), frame.Frame{Kind: frame.KindBoot, From: "D1", To: frame.TagHub}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case f := <-got:
		if f.Kind != frame.KindBoot || f.From != "D1" {
			t.Errorf("got %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	deadline := time.Now().Add(time.Second)
	for srv.Dropped() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", srv.Dropped())
	}
}
