package cmd

import (
	"context"

	"github.com/openmkt/openmkt/internal/core/store"
)

// openStore opens and migrates the local store holding interest-sent flags.
func openStore(ctx context.Context) (*store.Store, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
