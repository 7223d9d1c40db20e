package syncclient

import (
	"context"
	"database/sql"
	"fmt"
)

// checkpointStore persists the opaque pull cursor in the singleton
// sync_state row. An absent row (first run) means "no checkpoint" —
// initial sync.
type checkpointStore struct {
	conn *sql.DB
}

func (c *checkpointStore) get(ctx context.Context) (string, bool, error) {
	var checkpoint string
	err := c.conn.QueryRowContext(ctx, `SELECT last_sync_checkpoint FROM sync_state WHERE id = 1`).Scan(&checkpoint)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkpoint: %w", err)
	}
	if checkpoint == "" {
		return "", false, nil
	}
	return checkpoint, true, nil
}

func (c *checkpointStore) set(ctx context.Context, checkpoint string) error {
	_, err := c.conn.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_sync_checkpoint) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET last_sync_checkpoint = excluded.last_sync_checkpoint`, checkpoint)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}
