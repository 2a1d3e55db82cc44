package main

import (
	"context"

	"github.com/andres10976/certharvest/internal/database"
)

func runMigrate(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(ctx, a.pool); err != nil {
		return err
	}
	a.log.Info("migration complete")
	return nil
}
