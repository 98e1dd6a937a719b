// Package sse implements a Server-Sent Events broker that pushes hub events
// to operator dashboards.
//
// Every broadcast carries an increasing id. A dashboard that reconnects with
// Last-Event-ID gets the events it missed from a bounded replay ring; a
// fresh one gets a full snapshot first.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithStateThrottle sets the minimum interval between two state.updated
// events. Default 1s.
func WithStateThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.stateMin = d
		}
	}
}

// WithReplay keeps the last n broadcasts for reconnecting clients.
// Default 128.
func WithReplay(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.replay = n
		}
	}
}

// WithSnapshot makes the broker greet new clients with a "snapshot" event
// built by fn. fn runs on the broker goroutine and must not block.
func WithSnapshot(fn func() any) Option {
	return func(b *Broker) { b.snapshot = fn }
}

// WithKeepAlive writes an SSE comment every d on idle streams. Zero
// disables it.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

type hubEventReq struct {
	kind string
	data any
}

type subscribeReq struct {
	ch     chan []byte
	resume bool
	after  uint64
}

type sent struct {
	id  uint64
	raw []byte
}

// canReplay reports whether every event after "after" is still in ring.
func canReplay(ring []sent, after, last uint64) bool {
	switch {
	case after > last:
		return false
	case after == last:
		return true
	default:
		return len(ring) > 0 && ring[0].id <= after+1
	}
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal loop owns the clients, the replay ring and the id
// counter. Public methods reach it through channels.
type Broker struct {
	stateMin  time.Duration
	replay    int
	snapshot  func() any
	keepAlive time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	hubEventCh    chan hubEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates and starts a broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		stateMin:      time.Second,
		replay:        128,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		hubEventCh:    make(chan hubEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func encode(id uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
	}
	return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", id, event.Type, payload)), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	ring := make([]sent, 0, b.replay)
	var nextID uint64
	var lastState time.Time

	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			// Slow client; it can catch up with Last-Event-ID.
		}
	}

	broadcast := func(event Event) {
		nextID++
		raw, err := encode(nextID, event)
		if err != nil {
			return
		}
		if b.replay > 0 {
			if len(ring) == b.replay {
				ring = append(ring[:0], ring[1:]...)
			}
			ring = append(ring, sent{id: nextID, raw: raw})
		}
		for ch := range clients {
			send(ch, raw)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = struct{}{}
			if req.resume && canReplay(ring, req.after, nextID) {
				for _, f := range ring {
					if f.id > req.after {
						send(req.ch, f.raw)
					}
				}
				continue
			}
			if b.snapshot != nil {
				if raw, err := encode(0, Event{Type: "snapshot", Data: b.snapshot()}); err == nil {
					send(req.ch, raw)
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.hubEventCh:
			broadcast(Event{Type: "hub." + strings.ToLower(req.kind), Data: req.data})

			now := time.Now()
			if now.Sub(lastState) >= b.stateMin {
				lastState = now
				var data any = map[string]string{}
				if b.snapshot != nil {
					data = b.snapshot()
				}
				broadcast(Event{Type: "state.updated", Data: data})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. The client first
// receives a snapshot, if one is configured.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe(subscribeReq{})
}

// Resume adds a client that last saw event id after. Missed events still in
// the replay ring are sent first; if the gap is too old the client gets a
// snapshot instead.
func (b *Broker) Resume(after uint64) chan []byte {
	return b.subscribe(subscribeReq{resume: true, after: after})
}

func (b *Broker) subscribe(req subscribeReq) chan []byte {
	req.ch = make(chan []byte, 64)
	if b.closed.Load() {
		close(req.ch)
		return req.ch
	}

	select {
	case b.subscribeCh <- req:
	case <-b.stopped:
		close(req.ch)
	}
	return req.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishHubEvent publishes a hub event as "hub.<kind>" followed by a
// throttled state.updated.
func (b *Broker) PublishHubEvent(kind string, data any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.hubEventCh <- hubEventReq{kind: kind, data: data}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/stream). It honours the
// Last-Event-ID header sent by reconnecting EventSource clients.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var ch chan []byte
	if last, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		ch = b.Resume(last)
	} else {
		ch = b.Subscribe()
	}
	defer b.Unsubscribe(ch)

	var ping <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		ping = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
