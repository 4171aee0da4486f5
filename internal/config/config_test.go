package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, time.Hour, cfg.EvolutionInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FORESIGHT_PORT", "9090")
	t.Setenv("FORESIGHT_EVOLUTION_INTERVAL", "10m")
	t.Setenv("FORESIGHT_RATE_LIMIT_RPS", "2.5")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/foresight")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.EvolutionInterval)
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
	assert.Equal(t, "postgres://u:p@db:5432/foresight", cfg.DatabaseURL)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("FORESIGHT_PORT", "not-a-number")
	t.Setenv("FORESIGHT_READ_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.DatabaseURL = ""
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.EvolutionInterval = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.RateLimitRPS = -1
	assert.Error(t, cfg.Validate())
}
