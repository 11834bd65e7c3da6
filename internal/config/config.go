// Package config loads service settings from ROTASAVE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is the runtime configuration of the API service.
type Config struct {
	HTTPAddr        string        `env:"ROTASAVE_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"ROTASAVE_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Store       string `env:"ROTASAVE_STORE" envDefault:"memory"`
	SQLitePath  string `env:"ROTASAVE_SQLITE_PATH" envDefault:"data/rotasave.db"`
	PostgresDSN string `env:"ROTASAVE_PG_DSN"`
	AutoMigrate bool   `env:"ROTASAVE_AUTO_MIGRATE" envDefault:"true"`

	AuthSecret string        `env:"ROTASAVE_AUTH_SECRET"`
	TokenTTL   time.Duration `env:"ROTASAVE_TOKEN_TTL" envDefault:"1h"`

	LogFormat string `env:"ROTASAVE_LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"ROTASAVE_LOG_LEVEL" envDefault:"info"`

	Currency      string `env:"ROTASAVE_CURRENCY" envDefault:"SAV"`
	AdvancePolicy string `env:"ROTASAVE_ADVANCE_POLICY" envDefault:"partial"`

	RateLimitPerSec float64  `env:"ROTASAVE_RATE_LIMIT_PER_SEC" envDefault:"20"`
	RateLimitBurst  int      `env:"ROTASAVE_RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins     []string `env:"ROTASAVE_CORS_ORIGINS" envSeparator:","`

	// LedgerAddr points at a remote ledger over gRPC; empty keeps an
	// in-process ledger.
	LedgerAddr string `env:"ROTASAVE_LEDGER_ADDR"`
	// LedgerGRPCAddr exposes the in-process ledger over gRPC when set.
	LedgerGRPCAddr string `env:"ROTASAVE_LEDGER_GRPC_ADDR"`
	// EphemeralLedger allows a durable store next to the in-process ledger,
	// whose balances do not survive a restart.
	EphemeralLedger bool `env:"ROTASAVE_EPHEMERAL_LEDGER" envDefault:"false"`
}

// Durable reports whether the configured store outlives the process.
func (c Config) Durable() bool { return c.Store == StoreSQLite || c.Store == StorePostgres }

// Load parses the environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses an explicit variable set. Used by tests.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthEnabled reports whether bearer tokens are required.
func (c Config) AuthEnabled() bool { return strings.TrimSpace(c.AuthSecret) != "" }

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("ROTASAVE_SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("ROTASAVE_PG_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	switch c.AdvancePolicy {
	case "", "partial", "full":
	default:
		errs = append(errs, fmt.Errorf("unknown advance policy %q", c.AdvancePolicy))
	}
	if c.Currency == "" {
		errs = append(errs, errors.New("ROTASAVE_CURRENCY must not be empty"))
	}
	if c.RateLimitPerSec < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("ROTASAVE_TOKEN_TTL must be positive"))
	}
	if c.Durable() && c.LedgerAddr == "" && !c.EphemeralLedger {
		errs = append(errs, fmt.Errorf("the %s store needs ROTASAVE_LEDGER_ADDR; set ROTASAVE_EPHEMERAL_LEDGER=true to keep balances in memory", c.Store))
	}
	if c.LedgerAddr != "" && c.LedgerGRPCAddr != "" {
		errs = append(errs, errors.New("ROTASAVE_LEDGER_ADDR and ROTASAVE_LEDGER_GRPC_ADDR are mutually exclusive"))
	}
	return errors.Join(errs...)
}
