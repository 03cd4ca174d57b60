// Package mongo connects MongoDB clients with the v2 driver.
//
// Connect applies the pool settings from Config, enables retryable reads
// and writes, and pings the server before returning the client. When the
// ping fails it retries with a fixed interval until RetryAttempts is spent
// or ctx is done.
//
// # Usage
//
//	var cfg mongo.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.WithoutCancel(ctx))
//
//	store := mongostore.NewUsageStore(db)
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//
//	checks["mongo"] = mongo.Healthcheck(db.Client())
//
// # Errors
//
// ErrFailedToConnect wraps the last driver error seen by Connect.
// ErrHealthcheckFailed wraps the ping error returned by a Healthcheck.
package mongo
