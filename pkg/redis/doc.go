// Package redis connects go-redis clients for the shared subscription cache.
//
// The package adds two things on top of github.com/redis/go-redis/v9:
//
//   - Connect, which parses a redis:// URL and pings the server until it
//     answers or the retry budget is spent.
//   - Healthcheck, which plugs the client into the /readyz endpoint.
//
// Config is populated from the environment with github.com/caarlos0/env.
//
// # Usage
//
//	var cfg redis.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	cache := subscription.NewRedisCache(client, time.Minute, log)
//	checks["redis"] = redis.Healthcheck(client)
//
// # Errors
//
// Failures are joined with a package sentinel so callers can use errors.Is:
//
//	client, err := redis.Connect(ctx, cfg)
//	switch {
//	case errors.Is(err, redis.ErrInvalidConnectionURL):
//		// fix REDIS_URL
//	case errors.Is(err, redis.ErrNotReady):
//		// server unreachable, the underlying error is joined
//	}
package redis
