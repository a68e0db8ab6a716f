package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *Config {
	return &Config{
		Hostname:               "127.0.0.1",
		Port:                   3306,
		Username:               "root",
		Password:               "secret",
		DatabaseName:           "inventory",
		TableName:              "orders",
		ServerTimeZone:         "UTC",
		ScanSnapshotChunkSize:  8096,
		ScanSnapshotFetchSize:  1024,
		ConnectTimeout:         30 * time.Second,
		ScanStartupMode:        StartupInitial,
	}
}

func TestPreflightOK(t *testing.T) {
	require.NoError(t, baseConfig().Preflight())
}

func TestPreflightRejectsBadChunkSize(t *testing.T) {
	c := baseConfig()
	c.ScanSnapshotChunkSize = 0
	assert.Error(t, c.Preflight())
}

func TestPreflightRequiresSpecificOffset(t *testing.T) {
	c := baseConfig()
	c.ScanStartupMode = StartupSpecificOffset
	assert.Error(t, c.Preflight())
	c.ScanStartupSpecificOffset = "mysql-bin.000003:154"
	assert.NoError(t, c.Preflight())
}

func TestPreflightRequiresTimestamp(t *testing.T) {
	c := baseConfig()
	c.ScanStartupMode = StartupTimestamp
	assert.Error(t, c.Preflight())
	c.ScanStartupTimestampMillis = 1700000000000
	assert.NoError(t, c.Preflight())
}

func TestPreflightRejectsUnknownMode(t *testing.T) {
	c := baseConfig()
	c.ScanStartupMode = "bogus"
	assert.Error(t, c.Preflight())
}

func TestPreflightRequiresServerIDRangeForParallelRead(t *testing.T) {
	c := baseConfig()
	c.ScanSnapshotParallelRead = true
	assert.Error(t, c.Preflight())
	c.ServerID = "5400-5404"
	assert.NoError(t, c.Preflight())
	c.ServerID = "5400"
	assert.Error(t, c.Preflight())
}

func TestPreflightRejectsParallelReadWithNonResumableStartupMode(t *testing.T) {
	c := baseConfig()
	c.ScanSnapshotParallelRead = true
	c.ServerID = "5400-5404"
	c.ScanStartupMode = StartupLatestOffset
	assert.NoError(t, c.Preflight())

	c.ScanStartupMode = StartupEarliestOffset
	assert.Error(t, c.Preflight())

	c.ScanStartupMode = StartupSpecificOffset
	c.ScanStartupSpecificOffset = "mysql-bin.000003:154"
	assert.Error(t, c.Preflight())

	c.ScanStartupMode = StartupTimestamp
	c.ScanStartupTimestampMillis = 1700000000000
	assert.Error(t, c.Preflight())
}

func TestDSN(t *testing.T) {
	c := baseConfig()
	assert.Equal(t, "root:secret@tcp(127.0.0.1:3306)/inventory?parseTime=true&loc=UTC", c.DSN())
}
