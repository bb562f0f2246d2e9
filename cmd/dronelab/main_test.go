package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelab/internal/config"
)

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	setupLogging(&config.LogConfig{Level: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging(&config.LogConfig{Level: "warn", Pretty: true})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging(&config.LogConfig{Level: "shouting"})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel(), "unknown levels fall back to info")
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("DRONELAB_HTTP_PORT", "-1")
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRun_MissingConfigFile(t *testing.T) {
	t.Setenv("DRONELAB_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestRun_UnreachableRedis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dronelab.yaml")
	content := "database:\n  path: " + filepath.Join(t.TempDir(), "d.db") + "\n" +
		"redis:\n  address: 127.0.0.1:1\n  connect_timeout: 200ms\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DRONELAB_CONFIG_FILE", path)

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}
