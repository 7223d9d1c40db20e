package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/eventlog"
	"github.com/DequeueApp/dequeue-sync-core/internal/projector"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
	"github.com/DequeueApp/dequeue-sync-core/internal/syncclient"
)

type fixedToken struct{ token string }

func (f fixedToken) Token(ctx context.Context) (string, error)   { return f.token, nil }
func (f fixedToken) Refresh(ctx context.Context) (string, error) { return f.token, nil }

type fixedDeviceID struct{ id string }

func (f fixedDeviceID) DeviceID(ctx context.Context) (string, error) { return f.id, nil }

func newTestRelay(t *testing.T) (*httptest.Server, []byte) {
	t.Helper()
	key := []byte("test-signing-key")
	srv, err := NewServer(Config{DBPath: ":memory:", SigningKey: key})
	if err != nil {
		t.Fatalf("new relay server: %v", err)
	}
	t.Cleanup(func() { srv.store.close() })
	hs := httptest.NewServer(srv.routes())
	t.Cleanup(hs.Close)
	return hs, key
}

func stackPayload(id, title string) json.RawMessage {
	b, _ := json.Marshal(domain.StackEventPayload{ID: id, Title: title, Status: string(domain.StackActive)})
	return b
}

// A device re-pulling its own push (no checkpoint yet) sees the pushed
// event: the relay does not filter by device, matching the client's
// own-device-included initial sync.
func TestPushThenPullSameDevice(t *testing.T) {
	hs, key := newTestRelay(t)
	tok, err := IssueToken(key, "user-1", "dev-a", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	client := syncclient.New(hs.URL, fixedToken{token: tok})
	ctx := context.Background()

	pushResp, err := client.Push(ctx, syncclient.PushRequest{Events: []syncclient.WireEvent{{
		ID: "evt-1", UserID: "user-1", DeviceID: "dev-a", Type: domain.EventStackCreated,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Payload: stackPayload("stk-1", "Inbox"),
		PayloadVersion: domain.CurrentPayloadVersion,
	}}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(pushResp.Acknowledged) != 1 || pushResp.Acknowledged[0] != "evt-1" {
		t.Fatalf("expected evt-1 acknowledged, got %+v", pushResp)
	}

	pullResp, err := client.Pull(ctx, syncclient.PullRequest{Since: "", Limit: 100})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pullResp.Events) != 1 || pullResp.Events[0].ID != "evt-1" {
		t.Fatalf("expected to pull back evt-1, got %+v", pullResp.Events)
	}
	if pullResp.HasMore {
		t.Errorf("expected hasMore false for a single-event page")
	}
}

// Re-pushing the same event id twice (simulating a dropped ack) must not
// create a second stored row, and the server still acknowledges it.
func TestPushIsIdempotentByEventID(t *testing.T) {
	hs, key := newTestRelay(t)
	tok, _ := IssueToken(key, "user-1", "dev-a", time.Hour)
	client := syncclient.New(hs.URL, fixedToken{token: tok})
	ctx := context.Background()

	evt := syncclient.WireEvent{
		ID: "evt-dup", UserID: "user-1", DeviceID: "dev-a", Type: domain.EventStackCreated,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Payload: stackPayload("stk-dup", "Dup"),
		PayloadVersion: domain.CurrentPayloadVersion,
	}
	for i := 0; i < 2; i++ {
		resp, err := client.Push(ctx, syncclient.PushRequest{Events: []syncclient.WireEvent{evt}})
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
		if len(resp.Acknowledged) != 1 {
			t.Fatalf("push %d: expected ack, got %+v", i, resp)
		}
	}

	pullResp, err := client.Pull(ctx, syncclient.PullRequest{Since: "", Limit: 100})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pullResp.Events) != 1 {
		t.Fatalf("expected exactly one stored event despite duplicate push, got %d", len(pullResp.Events))
	}
}

// Pagination: pushing more events than the page limit yields hasMore
// true and a checkpoint that resumes the remainder on the next pull.
func TestPullPaginatesByCheckpoint(t *testing.T) {
	hs, key := newTestRelay(t)
	tok, _ := IssueToken(key, "user-1", "dev-a", time.Hour)
	client := syncclient.New(hs.URL, fixedToken{token: tok})
	ctx := context.Background()

	events := make([]syncclient.WireEvent, 5)
	for i := range events {
		id := string(rune('a' + i))
		events[i] = syncclient.WireEvent{
			ID: "evt-" + id, UserID: "user-1", DeviceID: "dev-a", Type: domain.EventStackCreated,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Payload: stackPayload("stk-"+id, id),
			PayloadVersion: domain.CurrentPayloadVersion,
		}
	}
	if _, err := client.Push(ctx, syncclient.PushRequest{Events: events}); err != nil {
		t.Fatalf("push: %v", err)
	}

	page1, err := client.Pull(ctx, syncclient.PullRequest{Since: "", Limit: 3})
	if err != nil {
		t.Fatalf("pull page 1: %v", err)
	}
	if len(page1.Events) != 3 || !page1.HasMore {
		t.Fatalf("expected 3-event page with more remaining, got %d events hasMore=%v", len(page1.Events), page1.HasMore)
	}

	page2, err := client.Pull(ctx, syncclient.PullRequest{Since: page1.NextCheckpoint, Limit: 3})
	if err != nil {
		t.Fatalf("pull page 2: %v", err)
	}
	if len(page2.Events) != 2 || page2.HasMore {
		t.Fatalf("expected remaining 2-event page with no more, got %d events hasMore=%v", len(page2.Events), page2.HasMore)
	}
}

// An expired or garbage token is rejected with 401, surfaced to the
// client as syncclient.ErrUnauthorized after its single refresh-and-retry.
func TestPushRejectsInvalidToken(t *testing.T) {
	hs, _ := newTestRelay(t)
	client := syncclient.New(hs.URL, fixedToken{token: "not-a-real-token"})
	_, err := client.Push(context.Background(), syncclient.PushRequest{Events: []syncclient.WireEvent{{ID: "evt-1"}}})
	if err == nil {
		t.Fatal("expected an error for an invalid token")
	}
}

// End-to-end against the full Engine: push from one device materializes
// through pull into a second device's projected state.
func TestEngineEndToEndAcrossTwoDevices(t *testing.T) {
	hs, key := newTestRelay(t)
	tok, _ := IssueToken(key, "user-1", "dev-a", time.Hour)

	dbA, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store a: %v", err)
	}
	defer dbA.Close()
	dbB, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store b: %v", err)
	}
	defer dbB.Close()

	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	projA := projector.New(dbA, clk)
	clientA := syncclient.New(hs.URL, fixedToken{token: tok})
	sockA, err := syncclient.NewSocket(hs.URL, fixedToken{token: tok}, func(ctx context.Context, evt syncclient.WireEvent) {}, nil)
	if err != nil {
		t.Fatalf("socket a: %v", err)
	}
	engineA := syncclient.NewEngine(dbA, clk, clientA, sockA, fixedDeviceID{id: "dev-a"}, projA)

	projB := projector.New(dbB, clk)
	clientB := syncclient.New(hs.URL, fixedToken{token: tok})
	sockB, err := syncclient.NewSocket(hs.URL, fixedToken{token: tok}, func(ctx context.Context, evt syncclient.WireEvent) {}, nil)
	if err != nil {
		t.Fatalf("socket b: %v", err)
	}
	engineB := syncclient.NewEngine(dbB, clk, clientB, sockB, fixedDeviceID{id: "dev-b"}, projB)

	ctx := context.Background()
	logA := eventlog.New(dbA, clk)
	if _, err := logA.Record(ctx, domain.Event{
		Type: domain.EventStackCreated, EntityID: "stk-shared",
		Payload: stackPayload("stk-shared", "Shared"), DeviceID: "dev-a",
	}); err != nil {
		t.Fatalf("record on device a: %v", err)
	}

	if err := engineA.PushPending(ctx); err != nil {
		t.Fatalf("push from device a: %v", err)
	}
	if err := engineB.PullAll(ctx); err != nil {
		t.Fatalf("pull on device b: %v", err)
	}

	var title string
	if err := dbB.Conn().QueryRowContext(ctx, `SELECT title FROM stacks WHERE id = ?`, "stk-shared").Scan(&title); err != nil {
		t.Fatalf("expected device a's stack projected on device b: %v", err)
	}
	if title != "Shared" {
		t.Errorf("expected title %q, got %q", "Shared", title)
	}
}
