// internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "9090", cfg.MetricsPort)
	assert.Equal(t, int64(100), cfg.StartingPoints)
	assert.Equal(t, 0.5, cfg.AutomationThreshold)
	assert.False(t, cfg.UniqueNicknames)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("STARTING_POINTS", "250")
	t.Setenv("AUTOMATION_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("UNIQUE_NICKNAMES", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, int64(250), cfg.StartingPoints)
	assert.Equal(t, 0.75, cfg.AutomationThreshold)
	assert.True(t, cfg.UniqueNicknames)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("AUTOMATION_CONFIDENCE_THRESHOLD", "1.5")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("AUTOMATION_CONFIDENCE_THRESHOLD", "0.5")
	t.Setenv("STARTING_POINTS", "-1")
	_, err = Load()
	assert.Error(t, err)
}
