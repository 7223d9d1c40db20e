package reconcile

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
)

// timeFormats mirrors eventlog's timestamp tolerance — SQLite hands back
// DATETIME columns in whichever precision they were written with.
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

func parseOptionalTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

func scanStack(rows *sql.Rows) (*domain.Stack, error) {
	var s domain.Stack
	var priority, activeTaskID, arcID sql.NullString
	var createdAt, updatedAt string
	var isDraft, isActive, isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString

	err := rows.Scan(&s.ID, &s.Title, &s.Description, &s.Status, &priority, &s.SortOrder,
		&isDraft, &isActive, &activeTaskID, &arcID, &createdAt, &updatedAt, &isDeleted,
		&syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	s.Priority = priority.String
	s.ActiveTaskID = activeTaskID.String
	s.ArcID = arcID.String
	s.IsDraft = isDraft != 0
	s.IsActive = isActive != 0
	s.IsDeleted = isDeleted != 0
	s.SyncState = domain.SyncState(syncState)
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if s.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanTask(rows *sql.Rows) (*domain.QueueTask, error) {
	var t domain.QueueTask
	var priority, stackID sql.NullString
	var lastActive sql.NullString
	var createdAt, updatedAt string
	var isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString

	err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &priority, &t.SortOrder,
		&lastActive, &stackID, &createdAt, &updatedAt, &isDeleted, &syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = priority.String
	t.StackID = stackID.String
	t.IsDeleted = isDeleted != 0
	t.SyncState = domain.SyncState(syncState)
	if lastActive.Valid && lastActive.String != "" {
		lt, err := parseTime(lastActive.String)
		if err != nil {
			return nil, err
		}
		t.LastActiveTime = &lt
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanReminder(rows *sql.Rows) (*domain.Reminder, error) {
	var r domain.Reminder
	var remindAt, createdAt, updatedAt string
	var isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString
	var parentType string

	err := rows.Scan(&r.ID, &r.ParentID, &parentType, &r.Status, &remindAt,
		&createdAt, &updatedAt, &isDeleted, &syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	r.ParentType = domain.ParentType(parentType)
	r.IsDeleted = isDeleted != 0
	r.SyncState = domain.SyncState(syncState)
	if r.RemindAt, err = parseTime(remindAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if r.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanTag(rows *sql.Rows) (*domain.Tag, error) {
	var t domain.Tag
	var normalizedName, colorHex sql.NullString
	var createdAt, updatedAt string
	var isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString

	err := rows.Scan(&t.ID, &t.Name, &normalizedName, &colorHex, &createdAt, &updatedAt,
		&isDeleted, &syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	t.ColorHex = colorHex.String
	t.IsDeleted = isDeleted != 0
	t.SyncState = domain.SyncState(syncState)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanArc(rows *sql.Rows) (*domain.Arc, error) {
	var a domain.Arc
	var colorHex sql.NullString
	var createdAt, updatedAt string
	var isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString

	err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Status, &a.SortOrder, &colorHex,
		&createdAt, &updatedAt, &isDeleted, &syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	a.ColorHex = colorHex.String
	a.IsDeleted = isDeleted != 0
	a.SyncState = domain.SyncState(syncState)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAttachment(rows *sql.Rows) (*domain.Attachment, error) {
	var a domain.Attachment
	var parentType string
	var mimeType, remoteURL, localPath sql.NullString
	var createdAt, updatedAt string
	var isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString
	var uploadState string

	err := rows.Scan(&a.ID, &a.ParentID, &parentType, &a.Filename, &mimeType, &a.SizeBytes,
		&remoteURL, &localPath, &uploadState, &createdAt, &updatedAt, &isDeleted, &syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	a.ParentType = domain.ParentType(parentType)
	a.MimeType = mimeType.String
	a.RemoteURL = remoteURL.String
	a.LocalPath = localPath.String
	a.UploadState = domain.UploadState(uploadState)
	a.IsDeleted = isDeleted != 0
	a.SyncState = domain.SyncState(syncState)
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanDevice(rows *sql.Rows) (*domain.Device, error) {
	var d domain.Device
	var name, platform, appVersion sql.NullString
	var firstSeenAt, lastSeenAt, createdAt, updatedAt string
	var isCurrent, isDeleted int
	var syncState string
	var lastSyncedAt sql.NullString

	err := rows.Scan(&d.ID, &d.DeviceID, &name, &platform, &appVersion, &firstSeenAt, &lastSeenAt,
		&isCurrent, &createdAt, &updatedAt, &isDeleted, &syncState, &lastSyncedAt)
	if err != nil {
		return nil, err
	}
	d.Name = name.String
	d.Platform = platform.String
	d.AppVersion = appVersion.String
	d.IsCurrentDevice = isCurrent != 0
	d.IsDeleted = isDeleted != 0
	d.SyncState = domain.SyncState(syncState)
	if d.FirstSeenAt, err = parseTime(firstSeenAt); err != nil {
		return nil, err
	}
	if d.LastSeenAt, err = parseTime(lastSeenAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if d.LastSyncedAt, err = parseOptionalTime(lastSyncedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
