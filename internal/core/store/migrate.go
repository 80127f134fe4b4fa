package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS interest_flags (
		flag_key TEXT NOT NULL,
		buyer_did TEXT NOT NULL,
		listing_uri TEXT NOT NULL,
		seller_did TEXT,
		sent_at INTEGER NOT NULL,
		PRIMARY KEY (flag_key, buyer_did)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_interest_flags_buyer ON interest_flags(buyer_did);`,
	`CREATE TABLE IF NOT EXISTS local_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
