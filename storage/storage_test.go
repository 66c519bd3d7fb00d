package storage

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAndQueryExchange(t *testing.T) {
	db := testDB(t)
	ex := &Exchange{
		Timestamp:  time.Now(),
		SessionID:  "sess-1",
		Query:      "how do I list files",
		Suggestion: "use ls",
		Commands:   []string{"ls -la"},
		Executable: true,
	}
	if err := db.InsertExchange(context.Background(), ex); err != nil {
		t.Fatal(err)
	}
	if ex.ID == 0 {
		t.Error("id not filled in")
	}

	got, err := db.RecentExchanges(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d exchanges, want 1", len(got))
	}
	if got[0].Query != ex.Query || got[0].Suggestion != ex.Suggestion {
		t.Errorf("round trip mismatch: %+v", got[0])
	}
	if !got[0].Executable || len(got[0].Commands) != 1 || got[0].Commands[0] != "ls -la" {
		t.Errorf("commands mismatch: %+v", got[0])
	}
}

func TestExchangesBySession(t *testing.T) {
	db := testDB(t)
	for _, sess := range []string{"a", "a", "b"} {
		ex := &Exchange{Timestamp: time.Now(), SessionID: sess, Query: "q", Suggestion: "s"}
		if err := db.InsertExchange(context.Background(), ex); err != nil {
			t.Fatal(err)
		}
	}

	got, err := db.ExchangesBySession(context.Background(), "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("got %d exchanges for session a, want 2", len(got))
	}
}

func TestRecentExchangesOrder(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		ex := &Exchange{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			SessionID:  "s",
			Query:      "q",
			Suggestion: "s",
		}
		if err := db.InsertExchange(context.Background(), ex); err != nil {
			t.Fatal(err)
		}
	}
	got, err := db.RecentExchanges(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d exchanges", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Errorf("not newest first: %v then %v", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestHistoryAsyncWrite(t *testing.T) {
	db := testDB(t)
	h := NewHistory(db, log.New(io.Discard, "", 0))
	defer h.Stop()

	h.Record("sess-1", "query", "suggestion", []string{"ls"}, false)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := db.RecentExchanges(context.Background(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) == 1 {
			if got[0].Query != "query" {
				t.Errorf("stored query = %q", got[0].Query)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("async write never landed")
}

func TestHistoryStopDrains(t *testing.T) {
	db := testDB(t)
	h := NewHistory(db, log.New(io.Discard, "", 0))
	for i := 0; i < 10; i++ {
		h.Record("sess", "q", "s", nil, false)
	}
	h.Stop()

	got, err := db.RecentExchanges(context.Background(), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Errorf("got %d exchanges after Stop, want 10", len(got))
	}
}

func TestHistoryRecordSync(t *testing.T) {
	db := testDB(t)
	h := NewHistory(db, log.New(io.Discard, "", 0))
	defer h.Stop()

	if err := h.RecordSync("sess", "q", "s", []string{"git status"}, true); err != nil {
		t.Fatal(err)
	}
	got, err := db.RecentExchanges(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatal("sync write missing")
	}
}

func TestNewDBOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ex := &Exchange{Timestamp: time.Now(), SessionID: "s", Query: "q", Suggestion: "sg"}
	if err := db.InsertExchange(context.Background(), ex); err != nil {
		t.Fatal(err)
	}
}
