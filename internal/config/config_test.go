package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, "SAV", cfg.Currency)
	assert.Equal(t, "partial", cfg.AdvancePolicy)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.AutoMigrate)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"ROTASAVE_STORE":              "Postgres",
		"ROTASAVE_PG_DSN":             "postgres://localhost/rotasave",
		"ROTASAVE_LEDGER_ADDR":        "ledger:9090",
		"ROTASAVE_AUTH_SECRET":        "s3cret",
		"ROTASAVE_TOKEN_TTL":          "15m",
		"ROTASAVE_CORS_ORIGINS":       "https://a.example,https://b.example",
		"ROTASAVE_RATE_LIMIT_PER_SEC": "2.5",
		"ROTASAVE_ADVANCE_POLICY":     "full",
	})
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.Store)
	assert.True(t, cfg.AuthEnabled())
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.InDelta(t, 2.5, cfg.RateLimitPerSec, 1e-9)
	assert.Equal(t, "full", cfg.AdvancePolicy)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":                        {"ROTASAVE_STORE": "redis"},
		"postgres sans dsn":                    {"ROTASAVE_STORE": "postgres"},
		"bad policy":                           {"ROTASAVE_ADVANCE_POLICY": "sometimes"},
		"bad duration":                         {"ROTASAVE_TOKEN_TTL": "soon"},
		"negative burst":                       {"ROTASAVE_RATE_LIMIT_BURST": "-1"},
		"both ledger modes":                    {"ROTASAVE_LEDGER_ADDR": "a:1", "ROTASAVE_LEDGER_GRPC_ADDR": ":9090"},
		"durable store with in-process ledger": {"ROTASAVE_STORE": "sqlite"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(vars)
			assert.Error(t, err)
		})
	}
}

func TestDurableStoreLedgerChoice(t *testing.T) {
	_, err := LoadFrom(map[string]string{"ROTASAVE_STORE": "postgres", "ROTASAVE_PG_DSN": "postgres://db/rotasave"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROTASAVE_EPHEMERAL_LEDGER")

	cfg, err := LoadFrom(map[string]string{"ROTASAVE_STORE": "sqlite", "ROTASAVE_EPHEMERAL_LEDGER": "true"})
	require.NoError(t, err)
	assert.True(t, cfg.Durable())
	assert.True(t, cfg.EphemeralLedger)

	cfg, err = LoadFrom(map[string]string{})
	require.NoError(t, err)
	assert.False(t, cfg.Durable())
}
