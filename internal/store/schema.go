package store

// SchemaVersion is the current on-disk schema version for the local
// replica database. Bump this and add a migration in migrations.go when
// the schema changes — see internal/store/migrations.go.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS stacks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    priority TEXT DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0,
    is_draft INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 0,
    active_task_id TEXT DEFAULT '',
    arc_id TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS stack_tags (
    stack_id TEXT NOT NULL,
    tag_id TEXT NOT NULL,
    PRIMARY KEY (stack_id, tag_id)
);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT DEFAULT '',
    sort_order INTEGER NOT NULL DEFAULT 0,
    last_active_time DATETIME,
    stack_id TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS reminders (
    id TEXT PRIMARY KEY,
    parent_id TEXT NOT NULL DEFAULT '',
    parent_type TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'scheduled',
    remind_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    normalized_name TEXT NOT NULL DEFAULT '',
    color_hex TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tags_normalized_name ON tags(normalized_name);

CREATE TABLE IF NOT EXISTS arcs (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    description TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    sort_order INTEGER NOT NULL DEFAULT 0,
    color_hex TEXT DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS attachments (
    id TEXT PRIMARY KEY,
    parent_id TEXT NOT NULL DEFAULT '',
    parent_type TEXT NOT NULL DEFAULT '',
    filename TEXT NOT NULL DEFAULT '',
    mime_type TEXT DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    remote_url TEXT DEFAULT '',
    local_path TEXT DEFAULT '',
    upload_state TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);

CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    device_id TEXT NOT NULL DEFAULT '',
    name TEXT DEFAULT '',
    platform TEXT DEFAULT '',
    app_version TEXT DEFAULT '',
    first_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_current_device INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    is_deleted INTEGER NOT NULL DEFAULT 0,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_devices_device_id ON devices(device_id);

-- Local append-only event log. Mirrors a classic action-log table but
-- stores the full versioned Event envelope rather than a diff.
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    payload JSON NOT NULL,
    timestamp DATETIME NOT NULL,
    entity_id TEXT DEFAULT '',
    user_id TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    app_id TEXT NOT NULL DEFAULT '',
    payload_version INTEGER NOT NULL DEFAULT 1,
    is_synced INTEGER NOT NULL DEFAULT 0,
    synced_at DATETIME,
    inserted_seq INTEGER
);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_pending ON events(is_synced, timestamp);

CREATE TABLE IF NOT EXISTS sync_conflicts (
    id TEXT PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    local_timestamp DATETIME NOT NULL,
    remote_timestamp DATETIME NOT NULL,
    conflict_type TEXT NOT NULL,
    resolution TEXT NOT NULL,
    detected_at DATETIME NOT NULL,
    is_resolved INTEGER NOT NULL DEFAULT 1
);

-- Singleton row holding the pull cursor. absent row == "no checkpoint".
CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_sync_checkpoint TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
