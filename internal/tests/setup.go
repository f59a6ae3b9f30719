// Package tests holds end-to-end tests that run the full server against PostgreSQL.
// They skip when DATABASE_URL is not set.
package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// chatTables lists every application table in dependency order
var chatTables = []string{"messages", "group_members", "groups", "refresh_sessions", "user_tokens", "users"}

// TruncateAll empties every application table for a clean test state.
func TruncateAll(ctx context.Context, db *sql.DB) error {
	query := "TRUNCATE TABLE "
	for i, table := range chatTables {
		if i > 0 {
			query += ", "
		}
		query += table
	}
	query += " RESTART IDENTITY CASCADE"

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
