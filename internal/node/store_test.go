package node

import (
	"errors"
	"testing"
	"time"

	"github.com/starford/reliefnet/internal/apperr"
	"github.com/starford/reliefnet/internal/frame"
)

func newStore() *Store {
	return NewStore(StoreConfig{MaxClients: 4, ChatCapacity: 5, DedupWindow: 10})
}

func TestChatDedup(t *testing.T) {
	s := newStore()
	first, ok := s.AddChat("A", "B", "hello", 1)
	if !ok {
		t.Fatal("first message dropped")
	}
	if dup, ok := s.AddChat("A", "B", "hello", 2); ok || dup != first {
		t.Errorf("duplicate = %+v stored=%v, want existing %+v", dup, ok, first)
	}
	if _, ok := s.AddChat("B", "A", "hello", 3); !ok {
		t.Error("reverse direction treated as duplicate")
	}
	if got := len(s.Thread("A", "B")); got != 2 {
		t.Errorf("thread length = %d, want 2", got)
	}
}

func TestChatDedupWindow(t *testing.T) {
	l := NewChatLog(50, 3)
	l.Add("A", "B", "x", 0)
	l.Add("A", "B", "1", 0)
	l.Add("A", "B", "2", 0)
	l.Add("A", "B", "3", 0)
	if _, ok := l.Add("A", "B", "x", 0); !ok {
		t.Error("message outside the window should be stored again")
	}
}

func TestChatEvictsOldest(t *testing.T) {
	l := NewChatLog(3, 10)
	for _, text := range []string{"1", "2", "3", "4"} {
		l.Add("A", "B", text, 0)
	}
	got := l.All()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"2", "3", "4"} {
		if got[i].Text != want {
			t.Errorf("entry %d = %q, want %q", i, got[i].Text, want)
		}
	}
	if got[0].Seq >= got[1].Seq || got[1].Seq >= got[2].Seq {
		t.Error("sequence numbers not increasing")
	}
}

func TestRegisterRolesIndependent(t *testing.T) {
	s := newStore()
	now := time.Unix(100, 0)
	if _, err := s.Register("U", frame.RoleOffer, "FOOD", now); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Register("U", frame.RoleRequest, "WATER", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Offering != "FOOD" || rec.Requesting != "WATER" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.ConnectedAt.Equal(now) {
		t.Errorf("connection time changed on update: %v", rec.ConnectedAt)
	}
}

func TestRegisterCapacity(t *testing.T) {
	s := NewStore(StoreConfig{MaxClients: 1, ChatCapacity: 4})
	_, _ = s.Register("A", frame.RoleOffer, "FOOD", time.Now())
	if _, err := s.Register("B", frame.RoleOffer, "FOOD", time.Now()); !errors.Is(err, apperr.ErrFull) {
		t.Errorf("err = %v, want ErrFull", err)
	}
	if _, err := s.Register("A", frame.RoleRequest, "WATER", time.Now()); err != nil {
		t.Errorf("update of existing client rejected: %v", err)
	}
}

func TestVolunteersLocalPrecedence(t *testing.T) {
	s := newStore()
	_, _ = s.Register("D1-LOCAL", frame.RoleOffer, "FOOD", time.Now())
	_, _ = s.Register("D1-ME", frame.RoleOffer, "FOOD", time.Now())
	s.ApplyVolList(frame.VolList{Service: "FOOD", Entries: [][2]string{
		{"D1-LOCAL", "D9"},
		{"D2-REMOTE", "D2"},
	}})

	got := s.Volunteers("D1", "FOOD", "D1-ME")
	want := []frame.Volunteer{
		{UserID: "D1-LOCAL", NodeID: "D1", Service: "FOOD"},
		{UserID: "D2-REMOTE", NodeID: "D2", Service: "FOOD"},
	}
	if len(got) != len(want) {
		t.Fatalf("volunteers = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("volunteer %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if other := s.Volunteers("D1", "WATER", ""); len(other) != 0 {
		t.Errorf("cache for FOOD leaked into WATER: %+v", other)
	}
}

func TestVolListReplaceAndAppend(t *testing.T) {
	s := newStore()
	s.ApplyVolList(frame.VolList{Service: "FOOD", Entries: [][2]string{{"A", "D1"}, {"B", "D1"}}})
	s.ApplyVolList(frame.VolList{Service: "FOOD", Part: 1, Entries: [][2]string{{"C", "D2"}}})
	if got := s.Volunteers("D3", "FOOD", ""); len(got) != 3 {
		t.Fatalf("after append = %+v", got)
	}

	s.ApplyVolList(frame.VolList{Service: "WATER", Entries: [][2]string{{"W", "D2"}}})
	if got := s.Volunteers("D3", "FOOD", ""); len(got) != 0 {
		t.Errorf("stale FOOD entries survived replace: %+v", got)
	}
	if got := s.Volunteers("D3", "WATER", ""); len(got) != 1 || got[0].UserID != "W" {
		t.Errorf("WATER = %+v", got)
	}

	s.ApplyVolList(frame.VolList{Service: "WATER", Entries: [][2]string{}})
	if got := s.Volunteers("D3", "WATER", ""); len(got) != 0 {
		t.Errorf("empty list did not clear the cache: %+v", got)
	}
}

func TestInboxUnreadAndThreadMarksRead(t *testing.T) {
	s := newStore()
	s.AddChat("B", "A", "one", 10)
	s.AddChat("C", "A", "hey", 11)
	s.AddChat("B", "A", "two", 12)
	s.AddChat("A", "B", "reply", 13)

	inbox := s.Inbox("A")
	if len(inbox) != 2 {
		t.Fatalf("inbox = %+v", inbox)
	}
	if inbox[0].Sender != "B" || inbox[0].LastText != "two" || inbox[0].LastTimestamp != 12 || inbox[0].Unread != 2 {
		t.Errorf("B entry = %+v", inbox[0])
	}
	if inbox[1].Sender != "C" || inbox[1].Unread != 1 {
		t.Errorf("C entry = %+v", inbox[1])
	}

	if again := s.Inbox("A"); again[0].Unread != 2 {
		t.Errorf("viewing the inbox changed unread: %d", again[0].Unread)
	}

	thread := s.Thread("A", "B")
	if len(thread) != 3 || thread[0].Text != "one" || thread[2].Text != "reply" {
		t.Errorf("thread = %+v", thread)
	}
	for _, ie := range s.Inbox("A") {
		if ie.Sender == "B" && ie.Unread != 0 {
			t.Errorf("B unread after viewing thread = %d", ie.Unread)
		}
		if ie.Sender == "C" && ie.Unread != 1 {
			t.Errorf("C unread changed by viewing B's thread = %d", ie.Unread)
		}
	}

	s.AddChat("B", "A", "three", 14)
	for _, ie := range s.Inbox("A") {
		if ie.Sender == "B" && ie.Unread != 1 {
			t.Errorf("B unread after new message = %d, want 1", ie.Unread)
		}
	}
}

func TestNoticesBounded(t *testing.T) {
	s := NewStore(StoreConfig{MaxClients: 1, ChatCapacity: 1, MaxNotices: 2})
	s.AddNotice(Notice{Kind: "CMD", Text: "a"})
	s.AddNotice(Notice{Kind: "CMD", Text: "b"})
	s.AddNotice(Notice{Kind: "TICKER", Text: "c"})
	got := s.Notices()
	if len(got) != 2 || got[0].Text != "c" || got[1].Text != "b" {
		t.Errorf("notices = %+v", got)
	}
}
