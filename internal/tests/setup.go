package tests

import (
	"context"
	"database/sql"
	"fmt"
)

// TruncateTables empties every storefront table for a clean test state.
func TruncateTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `TRUNCATE TABLE payments, orders, customers, refresh_sessions,
		email_confirmations, accounts RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
