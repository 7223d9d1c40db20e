package store

import "database/sql"

// migration applies one forward schema change and records its version.
type migration struct {
	version int
	apply   func(*sql.Tx) error
}

// migrations holds every schema change beyond the baseline in schema.go, in
// ascending version order. Empty today — the baseline schema already covers
// SchemaVersion 1. Future changes append here rather than editing the
// baseline string, so existing databases upgrade in place.
var migrations []migration

// runMigrations applies any migration whose version hasn't yet been
// recorded in schema_migrations, in order.
func runMigrations(conn *sql.DB) error {
	applied := map[int]bool{}
	rows, err := conn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := conn.Begin()
		if err != nil {
			return err
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
