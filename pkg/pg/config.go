package pg

import "time"

// Config is populated from the environment.
type Config struct {
	ConnectionString string        `env:"PG_CONN_URL,required" validate:"required"`
	MaxConns         int32         `env:"PG_MAX_CONNS" envDefault:"10" validate:"gte=1"`
	MinConns         int32         `env:"PG_MIN_CONNS" envDefault:"2" validate:"gte=0"`
	HealthCheckEvery time.Duration `env:"PG_HEALTHCHECK_PERIOD" envDefault:"1m"`
	MaxConnIdleTime  time.Duration `env:"PG_MAX_CONN_IDLE_TIME" envDefault:"10m"`
	MaxConnLifetime  time.Duration `env:"PG_MAX_CONN_LIFETIME" envDefault:"30m"`

	// Linear backoff: attempt n waits n*RetryInterval.
	RetryAttempts int           `env:"PG_RETRY_ATTEMPTS" envDefault:"3" validate:"gte=1"`
	RetryInterval time.Duration `env:"PG_RETRY_INTERVAL" envDefault:"2s"`

	MigrationsTable string `env:"PG_MIGRATIONS_TABLE" envDefault:"quotagate_migrations"`
}
