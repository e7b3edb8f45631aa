package app

import (
	"context"
	"errors"
)

// Migrate applies pending SQL migrations from database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	_, pg, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer pg.Close()

	applied, err := pg.Migrate(ctx, a.Config.Database.MigrationsPath)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		a.printf("schema is up to date\n")
		return nil
	}
	for _, name := range applied {
		a.printf("applied %s\n", name)
	}
	return nil
}
