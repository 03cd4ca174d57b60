package main

import (
	"time"

	"github.com/dmitrymomot/quotagate/pkg/httpserver"
	"github.com/dmitrymomot/quotagate/pkg/subscription"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_NAME" envDefault:"quotagate"`
	// LogLevel and LogFormat override the per-environment defaults.
	LogLevel  string `env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" validate:"omitempty,oneof=json text"`

	// CatalogFile holds quotas and resource declarations. Empty uses the
	// built-in catalog and an empty registry.
	CatalogFile        string   `env:"CATALOG_FILE"`
	StrictResources    bool     `env:"STRICT_RESOURCES" envDefault:"false"`
	AdminEmails        []string `env:"ADMIN_EMAILS" envSeparator:","`
	QuotaTimezone      string   `env:"QUOTA_TIMEZONE" envDefault:"UTC"`
	CountingPolicy     string   `env:"COUNTING_POLICY" envDefault:"all_outcomes" validate:"oneof=all_outcomes completed_only"`
	DegradedPolicy     string   `env:"DEGRADED_POLICY" envDefault:"fail_open" validate:"oneof=fail_open fail_closed"`
	RequireIdempotency bool     `env:"REQUIRE_IDEMPOTENCY_KEY" envDefault:"false"`

	LedgerBackend       string        `env:"LEDGER_BACKEND" envDefault:"memory" validate:"oneof=memory postgres mongo"`
	BreakerFailures     uint32        `env:"LEDGER_BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenTimeout  time.Duration `env:"LEDGER_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
	SubscriptionBackend string        `env:"SUBSCRIPTION_BACKEND" envDefault:"memory" validate:"oneof=memory postgres"`
	SubscriptionCache   string        `env:"SUBSCRIPTION_CACHE" envDefault:"lru" validate:"oneof=none lru redis"`
	SubscriptionTTL     time.Duration `env:"SUBSCRIPTION_CACHE_TTL" envDefault:"1m"`
	SubscriptionTimeout time.Duration `env:"SUBSCRIPTION_TIMEOUT" envDefault:"2s"`
	AuditBackend        string        `env:"AUDIT_BACKEND" envDefault:"log" validate:"oneof=log postgres"`

	HTTP   httpserver.Config
	Paddle subscription.PaddleConfig
}
