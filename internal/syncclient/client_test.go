package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken struct {
	token        string
	refreshCalls int
}

func (s *staticToken) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticToken) Refresh(ctx context.Context) (string, error) {
	s.refreshCalls++
	s.token = "refreshed-" + s.token
	return s.token, nil
}

func TestPushSendsBearerTokenAndParsesAcks(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req PushRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(PushResponse{Acknowledged: []string{req.Events[0].ID}})
	}))
	defer srv.Close()

	c := New(srv.URL, &staticToken{token: "tok"})
	resp, err := c.Push(context.Background(), PushRequest{Events: []WireEvent{{ID: "evt-1"}}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer token header, got %q", gotAuth)
	}
	if len(resp.Acknowledged) != 1 || resp.Acknowledged[0] != "evt-1" {
		t.Errorf("expected ack for evt-1, got %v", resp.Acknowledged)
	}
}

func TestDoRefreshesTokenOnceOn401(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if r.Header.Get("Authorization") == "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"code": "unauthorized"})
			return
		}
		json.NewEncoder(w).Encode(PushResponse{Acknowledged: []string{"evt-1"}})
	}))
	defer srv.Close()

	token := &staticToken{token: "tok"}
	c := New(srv.URL, token)
	resp, err := c.Push(context.Background(), PushRequest{Events: []WireEvent{{ID: "evt-1"}}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if token.refreshCalls != 1 {
		t.Errorf("expected exactly one refresh call, got %d", token.refreshCalls)
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 HTTP attempts (original + retry), got %d", attempts)
	}
	if len(resp.Acknowledged) != 1 {
		t.Errorf("expected retry to succeed, got %v", resp.Acknowledged)
	}
}

func TestPullPaginatesUntilHasMoreFalse(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			json.NewEncoder(w).Encode(PullResponse{
				Events:         make([]WireEvent, 1000),
				NextCheckpoint: "c1",
				HasMore:        true,
			})
			return
		}
		json.NewEncoder(w).Encode(PullResponse{
			Events:         make([]WireEvent, 500),
			NextCheckpoint: "c2",
			HasMore:        false,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, &staticToken{token: "tok"})
	resp1, err := c.Pull(context.Background(), PullRequest{Since: epoch, Limit: pullPageLimit})
	if err != nil {
		t.Fatalf("pull page 1: %v", err)
	}
	if len(resp1.Events) != 1000 || !resp1.HasMore || resp1.NextCheckpoint != "c1" {
		t.Fatalf("unexpected page 1: %+v", resp1)
	}
	resp2, err := c.Pull(context.Background(), PullRequest{Since: resp1.NextCheckpoint, Limit: pullPageLimit})
	if err != nil {
		t.Fatalf("pull page 2: %v", err)
	}
	if len(resp2.Events) != 500 || resp2.HasMore || resp2.NextCheckpoint != "c2" {
		t.Fatalf("unexpected page 2: %+v", resp2)
	}
}
