package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsPassValidation(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Defaults()
	cfg.Workers = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsTinyMemLimit(t *testing.T) {
	cfg := Defaults()
	cfg.MemLimitBytes = 1024
	assert.Error(t, cfg.Validate())
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SANDBOXD_WORKERS", "9")
	t.Setenv("SANDBOXD_LOG_LEVEL", "debug")

	cfg := FromEnv()
	assert.Equal(t, 9, cfg.Workers)
	assert.Equal(t, "debug", cfg.LogLevel)

	_ = os.Unsetenv("SANDBOXD_WORKERS")
	_ = os.Unsetenv("SANDBOXD_LOG_LEVEL")
}

func TestFromEnvIgnoresMalformedIntegers(t *testing.T) {
	t.Setenv("SANDBOXD_WORKERS", "not-a-number")
	cfg := FromEnv()
	assert.Equal(t, Defaults().Workers, cfg.Workers)
}
