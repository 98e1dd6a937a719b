package journal

import (
	"os"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "reliefnet-journal-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("events table missing: %v", err)
	}
}

func TestAppendAssignsID(t *testing.T) {
	db := testDB(t)
	e, err := db.Append(Entry{Kind: "HUB_BOOT"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Errorf("entry = %+v, want id and time", e)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	db := testDB(t)
	for _, k := range []string{"HUB_BOOT", "SERVICE_REG", "CHAT", "NODE_LOST"} {
		if _, err := db.Append(Entry{Kind: k, Node: "D1"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.Recent(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Kind != "NODE_LOST" || got[2].Kind != "SERVICE_REG" {
		t.Errorf("order = %s,%s,%s", got[0].Kind, got[1].Kind, got[2].Kind)
	}

	n, err := db.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

func TestRecentByKind(t *testing.T) {
	db := testDB(t)
	_, _ = db.Append(Entry{Kind: "CHAT", UserID: "A", ToUser: "B", Payload: "one"})
	_, _ = db.Append(Entry{Kind: "NODE_LOST", Node: "D2"})
	_, _ = db.Append(Entry{Kind: "CHAT", UserID: "B", ToUser: "A", Payload: "two"})

	got, err := db.RecentByKind("CHAT", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Payload != "two" || got[1].ToUser != "B" {
		t.Errorf("chats = %+v", got)
	}
}
