package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/reliefnet/internal/frame"
	"github.com/starford/reliefnet/internal/hub"
	"github.com/starford/reliefnet/internal/link"
	"github.com/starford/reliefnet/internal/node"
	"github.com/starford/reliefnet/internal/testutil"
)

// testEnv runs a node agent on an in-memory network with no hub and returns
// the portal router.
func testEnv(t *testing.T) (*node.Agent, http.Handler) {
	t.Helper()
	net := link.NewMemNetwork()
	agent := node.NewAgent(node.Config{
		Hub:               "hub",
		HeartbeatInterval: time.Hour,
		HubTimeout:        9 * time.Second,
		ProvisionalID:     "D7",
		Store:             node.StoreConfig{MaxClients: 8, ChatCapacity: 16, DedupWindow: 10},
	}, net.Attach("n1"), testutil.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = agent.Run(ctx) }()

	return agent, NewNodeRouter(agent, testutil.Logger())
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRegisterAndServices(t *testing.T) {
	_, router := testEnv(t)

	w := do(t, router, http.MethodPost, "/register", RegisterRequest{UserID: "D7-AAA", Role: "offer", Service: "FOOD"})
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	do(t, router, http.MethodPost, "/register", RegisterRequest{UserID: "D7-AAA", Role: "request", Service: "WATER"})

	w = do(t, router, http.MethodGet, "/services?userId=D7-AAA", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("services status = %d", w.Code)
	}
	var got ServicesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Offering != "FOOD" || got.Requesting != "WATER" {
		t.Errorf("services = %+v", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	_, router := testEnv(t)
	cases := []RegisterRequest{
		{UserID: "", Role: "offer", Service: "FOOD"},
		{UserID: "D7-AAA", Role: "maybe", Service: "FOOD"},
		{UserID: "D7-AAA", Role: "offer", Service: ""},
		{UserID: "a-user-id-that-is-far-too-long", Role: "offer", Service: "FOOD"},
	}
	for _, c := range cases {
		if w := do(t, router, http.MethodPost, "/register", c); w.Code != http.StatusBadRequest {
			t.Errorf("%+v: status = %d, want 400", c, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", w.Code)
	}
}

func TestVolunteersFlow(t *testing.T) {
	_, router := testEnv(t)
	do(t, router, http.MethodPost, "/register", RegisterRequest{UserID: "D7-AAA", Role: "offer", Service: "FOOD"})
	do(t, router, http.MethodPost, "/register", RegisterRequest{UserID: "D7-BBB", Role: "offer", Service: "FOOD"})

	w := do(t, router, http.MethodPost, "/volunteers/request", VolunteerRequest{Service: "FOOD"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("request status = %d", w.Code)
	}

	w = do(t, router, http.MethodGet, "/volunteers?service=FOOD&exclude=D7-BBB", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var vols []VolunteerItem
	if err := json.Unmarshal(w.Body.Bytes(), &vols); err != nil {
		t.Fatal(err)
	}
	if len(vols) != 1 || vols[0] != (VolunteerItem{UserID: "D7-AAA", NodeID: "D7"}) {
		t.Errorf("volunteers = %+v", vols)
	}

	if w := do(t, router, http.MethodGet, "/volunteers", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing service status = %d", w.Code)
	}
}

func TestMessagesInboxThread(t *testing.T) {
	_, router := testEnv(t)

	w := do(t, router, http.MethodPost, "/messages", SendMessageRequest{From: "D7-AAA", To: "D7-BBB", Text: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d, body = %s", w.Code, w.Body.String())
	}
	do(t, router, http.MethodPost, "/messages", SendMessageRequest{From: "D7-AAA", To: "D7-BBB", Text: "still there?"})

	w = do(t, router, http.MethodGet, "/inbox?userId=D7-BBB", nil)
	var inbox []node.InboxEntry
	if err := json.Unmarshal(w.Body.Bytes(), &inbox); err != nil {
		t.Fatal(err)
	}
	if len(inbox) != 1 || inbox[0].Sender != "D7-AAA" || inbox[0].Unread != 2 || inbox[0].LastText != "still there?" {
		t.Fatalf("inbox = %+v", inbox)
	}

	w = do(t, router, http.MethodGet, "/thread?userId=D7-BBB&partner=D7-AAA", nil)
	var thread []node.ChatEntry
	if err := json.Unmarshal(w.Body.Bytes(), &thread); err != nil {
		t.Fatal(err)
	}
	if len(thread) != 2 || thread[0].Text != "hello" {
		t.Errorf("thread = %+v", thread)
	}

	w = do(t, router, http.MethodGet, "/inbox?userId=D7-BBB", nil)
	_ = json.Unmarshal(w.Body.Bytes(), &inbox)
	if inbox[0].Unread != 0 {
		t.Errorf("unread after thread view = %d", inbox[0].Unread)
	}

	if w := do(t, router, http.MethodGet, "/thread?userId=D7-BBB", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing partner status = %d", w.Code)
	}
	long := SendMessageRequest{From: "D7-AAA", To: "D7-BBB", Text: string(bytes.Repeat([]byte("x"), frame.MaxPayload+1))}
	if w := do(t, router, http.MethodPost, "/messages", long); w.Code != http.StatusBadRequest {
		t.Errorf("oversized text status = %d", w.Code)
	}
}

func TestSessionAndStatus(t *testing.T) {
	_, router := testEnv(t)

	w := do(t, router, http.MethodPost, "/session", nil)
	var sess SessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if len(sess.UserID) != 9 || sess.UserID[:3] != "D7-" {
		t.Errorf("session = %q", sess.UserID)
	}

	w = do(t, router, http.MethodGet, "/status", nil)
	var st node.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.NodeID != "D7" || st.Assigned || st.HubOnline {
		t.Errorf("status = %+v", st)
	}

	w = do(t, router, http.MethodGet, "/notices", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]\n" {
		t.Errorf("notices = %d %q", w.Code, w.Body.String())
	}
}

type fakeHub struct{}

func (fakeHub) Peers(context.Context) ([]hub.PeerRecord, error) {
	return []hub.PeerRecord{{Addr: "10.0.0.2:4210", NodeID: "D1", Active: true}}, nil
}

func (fakeHub) Volunteers(context.Context) ([]hub.VolunteerRecord, error) {
	return []hub.VolunteerRecord{{UserID: "D1-AAA", NodeID: "D1", Service: "FOOD"}}, nil
}

func (fakeHub) Dropped() uint64 { return 3 }

func TestHubRoutesAuth(t *testing.T) {
	router := NewHubRouter(fakeHub{}, true, "secret", testutil.Logger())

	if w := do(t, router, http.MethodGet, "/peers", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var peers []hub.PeerRecord
	if err := json.Unmarshal(w.Body.Bytes(), &peers); err != nil {
		t.Fatal(err)
	}
	if len(peers) != 1 || peers[0].NodeID != "D1" {
		t.Errorf("peers = %+v", peers)
	}
}

func TestHubRoutesOpen(t *testing.T) {
	router := NewHubRouter(fakeHub{}, false, "", testutil.Logger())
	w := do(t, router, http.MethodGet, "/volunteers", nil)
	var vols []hub.VolunteerRecord
	if err := json.Unmarshal(w.Body.Bytes(), &vols); err != nil {
		t.Fatal(err)
	}
	if len(vols) != 1 || vols[0].Service != "FOOD" {
		t.Errorf("volunteers = %+v", vols)
	}
}

func TestHubStats(t *testing.T) {
	router := NewHubRouter(fakeHub{}, false, "", testutil.Logger())
	w := do(t, router, http.MethodGet, "/stats", nil)
	var stats HubStatsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.DroppedFrames != 3 {
		t.Errorf("dropped = %d, want 3", stats.DroppedFrames)
	}
}
