// Package pg opens PostgreSQL connection pools with pgx/v5 and applies
// embedded goose migrations.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pg.MigrateOptions{Dir: "migrations", Table: cfg.MigrationsTable}, log); err != nil {
//		return err
//	}
//
// Error helpers classify pgx errors so stores can map them to their own
// sentinel errors.
package pg
