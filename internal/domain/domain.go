// Package domain defines the core entities of the Dequeue task/stack model
// (Stack, QueueTask, Reminder, Tag, Arc, Attachment, Device), their enums,
// and the fields every entity shares for soft-delete and sync bookkeeping.
package domain

import "time"

// SyncState tracks whether an entity's most recent mutation has been
// acknowledged by the relay.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
)

// StackStatus is the lifecycle status of a Stack.
type StackStatus string

const (
	StackActive    StackStatus = "active"
	StackCompleted StackStatus = "completed"
	StackArchived  StackStatus = "archived"
	StackClosed    StackStatus = "closed"
)

// TaskStatus is the lifecycle status of a QueueTask.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskClosed    TaskStatus = "closed"
)

// ReminderStatus is the lifecycle status of a Reminder.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSnoozed   ReminderStatus = "snoozed"
	ReminderFired     ReminderStatus = "fired"
	ReminderDismissed ReminderStatus = "dismissed"
)

// ParentType identifies which entity kind a Reminder or Attachment belongs to.
type ParentType string

const (
	ParentStack ParentType = "stack"
	ParentTask  ParentType = "task"
	ParentArc   ParentType = "arc"
)

// UploadState is the lifecycle status of an Attachment's binary data.
type UploadState string

const (
	UploadPending  UploadState = "pending"
	UploadUploaded UploadState = "uploaded"
	UploadFailed   UploadState = "failed"
)

// Base holds the fields every syncable entity carries.
type Base struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsDeleted    bool      `json:"isDeleted"`
	SyncState    SyncState `json:"syncState"`
	LastSyncedAt time.Time `json:"lastSyncedAt,omitzero"`
}

// Stack is a named collection of QueueTasks; at most one can be active at a time.
type Stack struct {
	Base
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Status      StackStatus `json:"status"`
	Priority    string      `json:"priority,omitempty"`
	SortOrder   int         `json:"sortOrder"`
	IsDraft     bool        `json:"isDraft"`
	IsActive    bool        `json:"isActive"`
	ActiveTaskID string     `json:"activeTaskId,omitempty"`
	ArcID       string      `json:"arcId,omitempty"`
	TagIDs      []string    `json:"tagIds,omitempty"`
}

// QueueTask belongs to at most one Stack.
type QueueTask struct {
	Base
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         TaskStatus `json:"status"`
	Priority       string     `json:"priority,omitempty"`
	SortOrder      int        `json:"sortOrder"`
	LastActiveTime *time.Time `json:"lastActiveTime,omitempty"`
	StackID        string     `json:"stackId,omitempty"`
}

// Reminder fires at a point in time for a Stack, QueueTask, or Arc.
type Reminder struct {
	Base
	ParentID   string         `json:"parentId"`
	ParentType ParentType     `json:"parentType"`
	Status     ReminderStatus `json:"status"`
	RemindAt   time.Time      `json:"remindAt"`
}

// Tag is a user-named label, unique by normalized name across a user's devices.
type Tag struct {
	Base
	Name     string `json:"name"`
	ColorHex string `json:"colorHex,omitempty"`
}

// Arc is a long-lived grouping that owns many Stacks.
type Arc struct {
	Base
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	SortOrder   int    `json:"sortOrder"`
	ColorHex    string `json:"colorHex,omitempty"`
}

// Attachment is a file reference attached to a Stack, QueueTask, or Arc.
type Attachment struct {
	Base
	ParentID    string      `json:"parentId"`
	ParentType  ParentType  `json:"parentType"`
	Filename    string      `json:"filename"`
	MimeType    string      `json:"mimeType"`
	SizeBytes   int64       `json:"sizeBytes"`
	RemoteURL   string      `json:"remoteUrl,omitempty"`
	LocalPath   string      `json:"localPath,omitempty"`
	UploadState UploadState `json:"uploadState"`
}

// Device describes a single replica of the user's data.
type Device struct {
	Base
	DeviceID      string    `json:"deviceId"`
	Name          string    `json:"name,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	AppVersion    string    `json:"appVersion,omitempty"`
	FirstSeenAt   time.Time `json:"firstSeenAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
	IsCurrentDevice bool    `json:"isCurrentDevice"`
}

// SyncConflict is an observational record of an LWW rejection. It is
// never replayed back into projected state.
type SyncConflict struct {
	ID              string    `json:"id"`
	EntityType      string    `json:"entityType"`
	EntityID        string    `json:"entityId"`
	LocalTimestamp  time.Time `json:"localTimestamp"`
	RemoteTimestamp time.Time `json:"remoteTimestamp"`
	ConflictType    string    `json:"conflictType"` // update | delete | statusChange | reorder
	Resolution      string    `json:"resolution"`   // keptLocal
	DetectedAt      time.Time `json:"detectedAt"`
	IsResolved      bool      `json:"isResolved"`
}

const (
	ConflictUpdate       = "update"
	ConflictDelete       = "delete"
	ConflictStatusChange = "statusChange"
	ConflictReorder      = "reorder"

	ResolutionKeptLocal = "keptLocal"
)

// EntityKind enumerates the canonical table/kind names used across the
// event log, projector, and relay — mirroring the teacher's
// internal/events.EntityType taxonomy, adapted to this domain.
type EntityKind string

const (
	KindStack      EntityKind = "stacks"
	KindTask       EntityKind = "tasks"
	KindReminder   EntityKind = "reminders"
	KindTag        EntityKind = "tags"
	KindArc        EntityKind = "arcs"
	KindAttachment EntityKind = "attachments"
	KindDevice     EntityKind = "devices"
)

// AllEntityKinds lists every kind the sync engine and projector recognize.
func AllEntityKinds() []EntityKind {
	return []EntityKind{KindStack, KindTask, KindReminder, KindTag, KindArc, KindAttachment, KindDevice}
}

// IsValidEntityKind reports whether k names a kind the system knows about.
func IsValidEntityKind(k string) bool {
	for _, kind := range AllEntityKinds() {
		if string(kind) == k {
			return true
		}
	}
	return false
}
