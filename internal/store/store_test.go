package store

import (
	"context"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	tables := []string{"stacks", "tasks", "reminders", "tags", "arcs", "attachments", "devices", "events", "sync_conflicts", "sync_state"}
	for _, tbl := range tables {
		var name string
		err := db.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, tbl).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", tbl, err)
		}
	}
}

func TestIDPrefixes(t *testing.T) {
	cases := []struct {
		name string
		id   string
		want string
	}{
		{"stack", NewStackID(), prefixStack},
		{"task", NewTaskID(), prefixTask},
		{"reminder", NewReminderID(), prefixReminder},
		{"tag", NewTagID(), prefixTag},
		{"arc", NewArcID(), prefixArc},
		{"attachment", NewAttachmentID(), prefixAttachment},
		{"device", NewDeviceID(), prefixDevice},
		{"event", NewEventID(), prefixEvent},
	}
	for _, c := range cases {
		if len(c.id) != len(c.want)+6 {
			t.Errorf("%s: id %q has unexpected length", c.name, c.id)
		}
		if c.id[:len(c.want)] != c.want {
			t.Errorf("%s: id %q missing prefix %q", c.name, c.id, c.want)
		}
	}
}

func TestWithWriteLockSerializesAccess(t *testing.T) {
	db := openTestDB(t)

	var order []string
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		db.WithWriteLock(ctx, time.Second, func() error {
			order = append(order, "first")
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	if err := db.WithWriteLock(ctx, time.Second, func() error {
		order = append(order, "second")
		return nil
	}); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	<-done

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected serialized order [first second], got %v", order)
	}
}
