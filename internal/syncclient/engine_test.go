package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
	"github.com/DequeueApp/dequeue-sync-core/internal/projector"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
)

type staticDeviceID struct{ id string }

func (s staticDeviceID) DeviceID(ctx context.Context) (string, error) { return s.id, nil }

func newTestEngine(t *testing.T, serverURL string) *Engine {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	proj := projector.New(db, clk)
	client := New(serverURL, &staticToken{token: "tok"})
	sock, err := NewSocket(serverURL, &staticToken{token: "tok"}, func(ctx context.Context, evt WireEvent) {}, nil)
	if err != nil {
		t.Fatalf("new socket: %v", err)
	}
	return NewEngine(db, clk, client, sock, staticDeviceID{id: "dev-local"}, proj)
}

func stackPayload(id, title string) json.RawMessage {
	b, _ := json.Marshal(domain.StackEventPayload{ID: id, Title: title, Status: string(domain.StackActive)})
	return b
}

// Paginated pull projects both pages and advances the checkpoint after
// each; if the second page's request fails, the checkpoint must remain
// at the first page's value so the next pull replays it.
func TestPullAllAdvancesCheckpointPerPageAndHoldsOnFailure(t *testing.T) {
	var page int32
	failSecondPage := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&page, 1)
		if n == 1 {
			events := make([]WireEvent, 3)
			for i := range events {
				events[i] = WireEvent{
					ID: "evt-a" + string(rune('0'+i)), DeviceID: "dev-remote", Type: domain.EventStackCreated,
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano), PayloadVersion: domain.CurrentPayloadVersion,
					Payload: stackPayload("stk-a"+string(rune('0'+i)), "A"),
				}
			}
			json.NewEncoder(w).Encode(PullResponse{Events: events, NextCheckpoint: "c1", HasMore: true})
			return
		}
		if failSecondPage {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		events := []WireEvent{{
			ID: "evt-b0", DeviceID: "dev-remote", Type: domain.EventStackCreated,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano), PayloadVersion: domain.CurrentPayloadVersion,
			Payload: stackPayload("stk-b0", "B"),
		}}
		json.NewEncoder(w).Encode(PullResponse{Events: events, NextCheckpoint: "c2", HasMore: false})
	}))
	defer srv.Close()

	failSecondPage = true
	e := newTestEngine(t, srv.URL)
	if err := e.PullAll(context.Background()); err == nil {
		t.Fatal("expected second-page failure to surface as an error")
	}
	checkpoint, known, err := e.checkpt.get(context.Background())
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !known || checkpoint != "c1" {
		t.Fatalf("expected checkpoint held at c1 after partial failure, got %q known=%v", checkpoint, known)
	}

	var count int
	e.conn.QueryRow(`SELECT COUNT(1) FROM stacks`).Scan(&count)
	if count != 3 {
		t.Fatalf("expected first page's 3 stacks projected, got %d", count)
	}

	// Retry succeeds: the next pull resumes from c1 and completes to c2.
	atomic.StoreInt32(&page, 0)
	failSecondPage = false
	if err := e.PullAll(context.Background()); err != nil {
		t.Fatalf("retry pull: %v", err)
	}
	checkpoint, _, _ = e.checkpt.get(context.Background())
	if checkpoint != "c2" {
		t.Errorf("expected checkpoint to reach c2 after retry, got %q", checkpoint)
	}
	e.conn.QueryRow(`SELECT COUNT(1) FROM stacks`).Scan(&count)
	if count != 4 {
		t.Errorf("expected 4 stacks total after retry, got %d", count)
	}
}

// Re-pushing an event whose ack was received but then dropped (e.g. the
// local process crashed before recording the ack) must not double-apply
// the mutation: the server dedupes by id, and a second ack simply marks
// the same local event synced.
func TestPushPendingIsIdempotentAcrossRetries(t *testing.T) {
	var pushCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&pushCount, 1)
		var req PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		ids := make([]string, len(req.Events))
		for i, e := range req.Events {
			ids[i] = e.ID
		}
		json.NewEncoder(w).Encode(PushResponse{Acknowledged: ids})
	}))
	defer srv.Close()

	e := newTestEngine(t, srv.URL)
	ctx := context.Background()
	evt, err := e.log.Record(ctx, domain.Event{
		Type: domain.EventStackCreated, EntityID: "stk-x",
		Payload: stackPayload("stk-x", "X"),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := e.PushPending(ctx); err != nil {
		t.Fatalf("first push: %v", err)
	}
	// Simulate the ack being "dropped" locally by re-marking the event
	// pending, then retry the push exactly as a crash-recovery would.
	e.conn.ExecContext(ctx, `UPDATE events SET is_synced = 0 WHERE id = ?`, evt.ID)
	if err := e.PushPending(ctx); err != nil {
		t.Fatalf("retry push: %v", err)
	}

	if pushCount != 2 {
		t.Fatalf("expected exactly 2 push attempts, got %d", pushCount)
	}
	var synced int
	e.conn.QueryRow(`SELECT is_synced FROM events WHERE id = ?`, evt.ID).Scan(&synced)
	if synced != 1 {
		t.Errorf("expected event marked synced after retry ack, got synced=%d", synced)
	}
}
