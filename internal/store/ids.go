package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// idGenerator produces the random suffix for NewID. Swappable in tests that
// need deterministic IDs.
var idGenerator = randomHex

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("store: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}

// Entity ID prefixes, one per domain.EntityKind plus events.
const (
	prefixStack      = "stk-"
	prefixTask       = "tsk-"
	prefixReminder   = "rem-"
	prefixTag        = "tag-"
	prefixArc        = "arc-"
	prefixAttachment = "att-"
	prefixDevice     = "dev-"
	prefixEvent      = "evt-"
)

// NewID returns a short, prefixed, random identifier such as "stk-4f2a9c".
// 3 random bytes (6 hex chars) mirrors the teacher's collision budget: a
// single-user local-first replica never needs more.
func NewID(prefix string) string {
	return prefix + idGenerator(3)
}

func NewStackID() string      { return NewID(prefixStack) }
func NewTaskID() string       { return NewID(prefixTask) }
func NewReminderID() string   { return NewID(prefixReminder) }
func NewTagID() string        { return NewID(prefixTag) }
func NewArcID() string        { return NewID(prefixArc) }
func NewAttachmentID() string { return NewID(prefixAttachment) }
func NewDeviceID() string     { return NewID(prefixDevice) }
func NewEventID() string      { return NewID(prefixEvent) }
