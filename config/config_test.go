package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, "server:\n  port: \"9090\"\n")

	v, err := LoadConfig(dir)
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Booking.HoldTTL)
	assert.Equal(t, 3, cfg.Governor.MaxConnectionsPerIdentity)
	assert.Equal(t, 5, cfg.Governor.MaxRoomsPerConnection)
	assert.Equal(t, "log", cfg.Broker.Driver)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, "booking:\n  hold_ttl: 5m\n")
	t.Setenv("TRIPSEATS_BOOKING_HOLD_TTL", "90s")

	v, err := LoadConfig(dir)
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Booking.HoldTTL)
}

func TestParseConfigRejectsUnknownDriver(t *testing.T) {
	dir := writeConfig(t, "storage:\n  driver: cassandra\n")

	v, err := LoadConfig(dir)
	require.NoError(t, err)
	_, err = ParseConfig(v)
	assert.ErrorContains(t, err, "cassandra")
}

func TestRepositoryConfigFileParses(t *testing.T) {
	v, err := LoadConfig(".")
	require.NoError(t, err)
	cfg, err := ParseConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, []string{"kafka:9092"}, cfg.Broker.Kafka.Brokers)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.Error(t, err)
}
