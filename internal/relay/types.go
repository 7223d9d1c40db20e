// Package relay is a minimal reference server for the sync wire contract:
// POST /sync/push, POST /sync/pull, and a persistent GET /ws socket. It
// exists so internal/syncclient has a real, spec-conformant collaborator
// to drive in integration tests and in the dequeue-relayd demo binary —
// it is not a hardened multi-tenant service.
package relay

import "encoding/json"

// WireEvent mirrors syncclient.WireEvent field-for-field: the two are
// kept as independent types, the way the teacher keeps its API request
// DTOs separate from its internal sync.Event, rather than sharing one
// struct across the wire boundary.
type WireEvent struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	DeviceID       string          `json:"device_id"`
	AppID          string          `json:"app_id"`
	Timestamp      string          `json:"ts"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	PayloadVersion int             `json:"payload_version"`
}

// PushRequest is the body of POST /sync/push and of a client->server
// socket frame.
type PushRequest struct {
	Events []WireEvent `json:"events"`
}

// PushResponse is the response of POST /sync/push. Acknowledged includes
// both newly accepted events and replays of already-accepted ones: the
// server dedups by id, so a retried push still converges to one ack.
type PushResponse struct {
	Acknowledged []string `json:"acknowledged"`
	Rejected     []string `json:"rejected,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}

// PullRequest is the body of POST /sync/pull.
type PullRequest struct {
	Since string `json:"since"`
	Limit int    `json:"limit"`
}

// PullResponse is the response of POST /sync/pull.
type PullResponse struct {
	Events         []WireEvent `json:"events"`
	NextCheckpoint string      `json:"nextCheckpoint,omitempty"`
	HasMore        bool        `json:"hasMore"`
}
