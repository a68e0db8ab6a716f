// Package config defines the connector's external configuration
// surface and its preflight validation, in the style of
// cockroachdb/cdc-sink's Config.Preflight: every cross-field
// constraint is checked once, eagerly, before any connection is
// opened.
package config

import (
	"fmt"
	"time"

	"github.com/pingcap/errors"

	"github.com/block/mysql-cdc/pkg/cdcerrors"
)

// StartupMode is the kong-parseable form of the assigner's startup
// mode.
type StartupMode string

const (
	StartupInitial        StartupMode = "initial"
	StartupEarliestOffset StartupMode = "earliest-offset"
	StartupLatestOffset   StartupMode = "latest-offset"
	StartupSpecificOffset StartupMode = "specific-offset"
	StartupTimestamp      StartupMode = "timestamp"
)

// Config is the full set of options a user supplies to run this
// connector against one MySQL-compatible table.
// Field tags bind directly to command-line flags via kong; a future
// host runtime that parses a property file instead can populate the
// same struct and call Preflight itself.
type Config struct {
	Hostname string `name:"hostname" help:"MySQL host." required:""`
	Port     int    `name:"port" help:"MySQL port." default:"3306"`
	Username string `name:"username" help:"MySQL user." required:""`
	Password string `name:"password" help:"MySQL password." required:""`

	DatabaseName string `name:"database-name" help:"Schema to read." required:""`
	TableName    string `name:"table-name" help:"Table to read." required:""`

	ServerTimeZone string `name:"server-time-zone" help:"Session time zone for temporal columns." default:"UTC"`
	ServerID       string `name:"server-id" help:"Binlog replication server ID, or a range like 5400-5404 for parallel workers."`

	ScanSnapshotParallelRead bool  `name:"scan.snapshot.parallel-read" help:"Allow concurrent snapshot chunk readers."`
	ScanSnapshotChunkSize    int64 `name:"scan.snapshot.chunk.size" default:"8096" help:"Target rows per snapshot chunk."`
	ScanSnapshotFetchSize    int   `name:"scan.snapshot.fetch.size" default:"1024" help:"Must be positive; the snapshot reader reads each chunk with a single query and does not page by this value."`

	ConnectTimeout time.Duration `name:"connect.timeout" default:"30s" help:"Timeout establishing a MySQL connection."`

	ScanStartupMode            StartupMode `name:"scan.startup.mode" default:"initial" help:"initial, earliest-offset, latest-offset, specific-offset, timestamp."`
	ScanStartupSpecificOffset  string      `name:"scan.startup.specific-offset" help:"Binlog file:pos to resume from; required when scan.startup.mode=specific-offset."`
	ScanStartupTimestampMillis int64       `name:"scan.startup.timestamp-millis" help:"Epoch millis to resume from; required when scan.startup.mode=timestamp."`
}

// Preflight validates cross-field constraints that a single field's
// kong tag (required/default) can't express.
func (c *Config) Preflight() error {
	if c.ScanSnapshotChunkSize <= 0 {
		return errors.Annotatef(cdcerrors.ErrConfiguration, "scan.snapshot.chunk.size must be positive, got %d", c.ScanSnapshotChunkSize)
	}
	if c.ScanSnapshotFetchSize <= 0 {
		return errors.Annotatef(cdcerrors.ErrConfiguration, "scan.snapshot.fetch.size must be positive, got %d", c.ScanSnapshotFetchSize)
	}
	switch c.ScanStartupMode {
	case StartupInitial, StartupEarliestOffset, StartupLatestOffset:
		// no extra fields required
	case StartupSpecificOffset:
		if c.ScanStartupSpecificOffset == "" {
			return errors.Annotatef(cdcerrors.ErrConfiguration, "scan.startup.specific-offset is required when scan.startup.mode=%s", c.ScanStartupMode)
		}
	case StartupTimestamp:
		if c.ScanStartupTimestampMillis == 0 {
			return errors.Annotatef(cdcerrors.ErrConfiguration, "scan.startup.timestamp-millis is required when scan.startup.mode=%s", c.ScanStartupMode)
		}
	default:
		return errors.Annotatef(cdcerrors.ErrConfiguration, "unknown scan.startup.mode %q", c.ScanStartupMode)
	}
	if c.ScanSnapshotParallelRead {
		if err := c.requireServerIDRange(); err != nil {
			return err
		}
		switch c.ScanStartupMode {
		case StartupInitial, StartupLatestOffset:
		default:
			return errors.Annotatef(cdcerrors.ErrConfiguration, "scan.snapshot.parallel-read requires scan.startup.mode to be initial or latest-offset, got %q", c.ScanStartupMode)
		}
	}
	return nil
}

// requireServerIDRange enforces that parallel snapshot reads (which
// spin up more than one binlog-tailing connection) were given a
// server-id *range*, since every concurrent replication connection to
// MySQL must present a distinct server ID.
func (c *Config) requireServerIDRange() error {
	if c.ServerID == "" {
		return errors.Annotatef(cdcerrors.ErrConfiguration, "server-id range is required when scan.snapshot.parallel-read is set")
	}
	var lo, hi int
	if _, err := fmt.Sscanf(c.ServerID, "%d-%d", &lo, &hi); err != nil || hi <= lo {
		return errors.Annotatef(cdcerrors.ErrConfiguration, "server-id must be a range like 5400-5404 when scan.snapshot.parallel-read is set, got %q", c.ServerID)
	}
	return nil
}

// DSN builds a go-sql-driver/mysql data source name for this config.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=%s",
		c.Username, c.Password, c.Hostname, c.Port, c.DatabaseName, c.ServerTimeZone)
}
