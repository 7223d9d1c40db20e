package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval               = 30 * time.Second
	maxConsecutiveHeartbeatFailures = 3
	maxReconnectAttempts            = 10
	reconnectBaseInterval           = 1 * time.Second
)

// SocketHandler receives a single-event envelope read off the persistent
// socket. It is invoked with the same shape Pull delivers, so the caller
// can route both through one projection path.
type SocketHandler func(ctx context.Context, evt WireEvent)

// Socket is the bidirectional, auto-reconnecting message channel to a
// sync collaborator. Exactly one connection lifecycle is active at a
// time: disconnected -> connecting -> connected -> reconnecting -> disconnected.
type Socket struct {
	url   string
	token TokenProvider
	onMsg SocketHandler
	onUp  func(ctx context.Context) // re-run startup (e.g. immediate pull) after reconnect

	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger
}

// NewSocket builds a Socket. baseURL is the push/pull HTTP host; its
// scheme is swapped for ws/wss and /ws appended.
func NewSocket(baseURL string, token TokenProvider, onMsg SocketHandler, onReconnected func(ctx context.Context)) (*Socket, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse socket base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return &Socket{
		url: u.String(), token: token, onMsg: onMsg, onUp: onReconnected,
		log: slog.Default().With("component", "syncclient.socket"),
	}, nil
}

// Run connects and services the socket until ctx is canceled, reconnecting
// with jittered exponential backoff on any failure.
func (s *Socket) Run(ctx context.Context) {
	eb := newReconnectBackOff()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.runOnce(ctx); err != nil {
			s.log.Warn("socket disconnected", "error", err, "attempt", attempt+1)
		}
		attempt++
		if attempt > maxReconnectAttempts {
			s.log.Error("socket giving up after max reconnect attempts", "attempts", attempt)
			return
		}
		wait := eb.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// newReconnectBackOff builds the jittered exponential sequence the
// reconnect policy specifies: doubling intervals off a 1s base, jittered
// +/-25% via RandomizationFactor, uncapped by elapsed time (the attempt
// count in Run is what bounds the retry budget).
func newReconnectBackOff() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = reconnectBaseInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.25
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

func (s *Socket) runOnce(ctx context.Context) error {
	token, err := s.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("get token for socket: %w", err)
	}
	u := s.url + "?token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial socket: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if s.onUp != nil {
		s.onUp(ctx)
	}

	failures := 0
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgCh <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("socket read: %w", err)
		case data := <-msgCh:
			s.handleFrame(ctx, data)
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
				failures++
				if failures >= maxConsecutiveHeartbeatFailures {
					return fmt.Errorf("heartbeat failed %d times: %w", failures, err)
				}
				continue
			}
			failures = 0
		}
	}
}

func (s *Socket) handleFrame(ctx context.Context, data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &probe) == nil && probe.Type == "ping" {
		return
	}
	var evt WireEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		s.log.Warn("dropping malformed socket frame", "error", err)
		return
	}
	s.onMsg(ctx, evt)
}

// Send writes an outbound push envelope to the socket if one is
// connected. Failures are logged and swallowed by the caller — the
// socket path is optimistic, HTTP push remains authoritative.
func (s *Socket) Send(events []WireEvent) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("socket not connected")
	}
	return conn.WriteJSON(PushRequest{Events: events})
}
