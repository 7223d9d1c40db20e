package domain

import (
	"encoding/json"
	"time"
)

// CurrentPayloadVersion is the payload schema version this build emits and
// accepts. Events with a lower version are dropped at the sync boundary.
const CurrentPayloadVersion = 1

// Event is an immutable record of a state change. Payload
// is opaque at this layer — the projector decodes it per event Type.
type Event struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"` // dotted, e.g. "stack.updated"
	Payload        json.RawMessage `json:"payload"`
	Timestamp      time.Time       `json:"timestamp"`
	EntityID       string          `json:"entityId,omitempty"`
	UserID         string          `json:"userId"`
	DeviceID       string          `json:"deviceId"`
	AppID          string          `json:"appId"`
	PayloadVersion int             `json:"payloadVersion"`
	IsSynced       bool            `json:"isSynced"`
	SyncedAt       *time.Time      `json:"syncedAt,omitempty"`
}

// Event type strings (dotted, lowercase) recognized by the projector.
// Unknown types are ignored for forward compatibility.
const (
	EventStackCreated    = "stack.created"
	EventStackUpdated    = "stack.updated"
	EventStackDeleted    = "stack.deleted"
	EventStackDiscarded  = "stack.discarded"
	EventStackActivated  = "stack.activated"
	EventStackDeactivated = "stack.deactivated"
	EventStackCompleted  = "stack.completed"
	EventStackArchived   = "stack.archived"
	EventStackReordered  = "stack.reordered"
	EventStackArcAssigned = "stack.arc_assigned"

	EventTaskCreated   = "task.created"
	EventTaskUpdated   = "task.updated"
	EventTaskDeleted   = "task.deleted"
	EventTaskActivated = "task.activated"
	EventTaskCompleted = "task.completed"
	EventTaskClosed    = "task.closed"
	EventTaskReordered = "task.reordered"

	EventReminderCreated   = "reminder.created"
	EventReminderUpdated   = "reminder.updated"
	EventReminderDeleted   = "reminder.deleted"
	EventReminderSnoozed   = "reminder.snoozed"
	EventReminderFired     = "reminder.fired"
	EventReminderDismissed = "reminder.dismissed"

	EventTagCreated = "tag.created"
	EventTagUpdated = "tag.updated"
	EventTagDeleted = "tag.deleted"

	EventArcCreated   = "arc.created"
	EventArcUpdated   = "arc.updated"
	EventArcDeleted   = "arc.deleted"
	EventArcReordered = "arc.reordered"

	EventAttachmentCreated = "attachment.created"
	EventAttachmentUpdated = "attachment.updated"
	EventAttachmentDeleted = "attachment.deleted"

	EventDeviceSeen = "device.seen"
)

// StackEventPayload carries the full Stack state for create/update events.
type StackEventPayload struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority,omitempty"`
	SortOrder    int      `json:"sortOrder"`
	IsDraft      bool     `json:"isDraft"`
	IsActive     bool     `json:"isActive"`
	ActiveTaskID string   `json:"activeTaskId,omitempty"`
	ArcID        string   `json:"arcId,omitempty"`
	TagIDs       []string `json:"tagIds,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
}

// TaskEventPayload carries the full QueueTask state for create/update events.
type TaskEventPayload struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority,omitempty"`
	SortOrder      int        `json:"sortOrder"`
	LastActiveTime *time.Time `json:"lastActiveTime,omitempty"`
	StackID        string     `json:"stackId,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

// ReminderEventPayload carries the fields a Reminder event mutates.
type ReminderEventPayload struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parentId"`
	ParentType string     `json:"parentType"`
	Status     string     `json:"status"`
	RemindAt   time.Time  `json:"remindAt"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// TagEventPayload carries a Tag's identity for dedup.
type TagEventPayload struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ColorHex  string     `json:"colorHex,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// ArcEventPayload carries the full Arc state for create/update events.
type ArcEventPayload struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	SortOrder   int        `json:"sortOrder"`
	ColorHex    string     `json:"colorHex,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// AttachmentEventPayload carries the full Attachment state for create/update events.
type AttachmentEventPayload struct {
	ID          string     `json:"id"`
	ParentID    string     `json:"parentId"`
	ParentType  string     `json:"parentType"`
	Filename    string     `json:"filename"`
	MimeType    string     `json:"mimeType"`
	SizeBytes   int64      `json:"sizeBytes"`
	RemoteURL   string     `json:"url,omitempty"`
	LocalPath   string     `json:"localPath,omitempty"`
	UploadState string     `json:"uploadState"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// EntityDeletedPayload marks an entity as tombstoned.
type EntityDeletedPayload struct {
	ID string `json:"id"`
}

// EntityStatusPayload identifies the entity a status-change event targets;
// the new status is implied by the event Type itself.
type EntityStatusPayload struct {
	ID string `json:"id"`
}

// ReorderPayload carries parallel id/sortOrder arrays for a batch reorder.
type ReorderPayload struct {
	IDs        []string `json:"ids"`
	SortOrders []int    `json:"sortOrders"`
}

// StackArcAssignmentPayload reassigns a Stack's Arc.
type StackArcAssignmentPayload struct {
	StackID string `json:"stackId"`
	ArcID   string `json:"arcId"`
}

// DeviceEventPayload describes a device observed by the sync system.
type DeviceEventPayload struct {
	DeviceID   string `json:"deviceId"`
	Name       string `json:"name,omitempty"`
	Platform   string `json:"platform,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
}
