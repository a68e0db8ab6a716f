// Command mysqlcdc runs the split-read CDC connector against a single
// MySQL-compatible table: it plans snapshot chunks, runs them to
// completion, then tails the binary log for everything after.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/block/mysql-cdc/pkg/assigner"
	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/config"
	"github.com/block/mysql-cdc/pkg/dbconn"
	"github.com/block/mysql-cdc/pkg/enumerator"
	"github.com/block/mysql-cdc/pkg/keycursor"
	"github.com/block/mysql-cdc/pkg/offset"
	binlogreader "github.com/block/mysql-cdc/pkg/sourcereader/binlog"
	snapshotreader "github.com/block/mysql-cdc/pkg/sourcereader/snapshot"
)

type cli struct {
	config.Config
	PrimaryKeyColumn string `name:"primary-key-column" required:"" help:"Single-column primary key used for chunking and dedup."`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Split-read CDC connector for a single MySQL-compatible table."))

	logger := logrus.New()
	if err := run(context.Background(), logger, &c); err != nil {
		logger.Fatalf("mysqlcdc: %v", err)
	}
}

func run(parent context.Context, logger *logrus.Logger, c *cli) error {
	if err := c.Config.Preflight(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbconn.Open(ctx, logger, c.Config.DSN(), &dbconn.Config{
		MaxOpenConnections: 4,
		ConnectTimeout:     c.ConnectTimeout,
		LockWaitTimeout:    c.ConnectTimeout,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	table := cdcsplit.TableID{Schema: c.DatabaseName, Table: c.TableName}
	cur := keycursor.NewSQLCursor(db, c.DatabaseName, c.TableName, c.PrimaryKeyColumn)

	startup, startOffset, err := resolveStartup(c)
	if err != nil {
		return err
	}

	var splits []*cdcsplit.SnapshotSplit
	if startup == assigner.StartupInitial {
		splits, err = assigner.PlanTable(ctx, cur, table, c.ScanSnapshotChunkSize)
		if err != nil {
			return err
		}
	}

	a := assigner.New(logger, startup, startOffset, offset.NeverStop(), c.ScanSnapshotChunkSize, splits)
	enu := enumerator.New(a, logger)
	go enu.Run(ctx)

	workerCount := 1
	if c.ScanSnapshotParallelRead {
		lo, hi, err := parseServerIDRange(c.ServerID)
		if err != nil {
			return err
		}
		workerCount = hi - lo + 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for id := 1; id <= workerCount; id++ {
		workerID := id
		g.Go(func() error {
			return runWorker(gctx, logger, c, db, enu, workerID)
		})
	}
	return g.Wait()
}

func parseServerIDRange(s string) (int, int, error) {
	var lo, hi int
	if _, err := fmt.Sscanf(s, "%d-%d", &lo, &hi); err != nil || hi <= lo {
		return 0, 0, fmt.Errorf("mysqlcdc: invalid server-id range %q", s)
	}
	return lo, hi, nil
}

// runWorker drives one worker's request/read/report loop against the
// shared enumerator. scan.snapshot.parallel-read runs several of these
// concurrently, one per server-id in the configured range, since each
// needs its own replication connection to the source.
func runWorker(ctx context.Context, logger *logrus.Logger, c *cli, db interface {
	Close() error
}, enu *enumerator.Enumerator, workerID int) error {
	for {
		resp, err := enu.RequestSplit(ctx, workerID)
		if err != nil {
			return err
		}
		switch s := resp.Split.(type) {
		case *cdcsplit.SnapshotSplit:
			if err := runSnapshotSplit(ctx, logger, c, enu, workerID, s); err != nil {
				return err
			}
		case *cdcsplit.BinlogSplit:
			return runBinlogSplit(ctx, logger, c, s)
		default:
			return fmt.Errorf("mysqlcdc: unknown split type %T", s)
		}
	}
}

func runSnapshotSplit(ctx context.Context, logger *logrus.Logger, c *cli, enu *enumerator.Enumerator, workerID int, split *cdcsplit.SnapshotSplit) error {
	// Subscribing before the chunk even starts means a FinishSolicit
	// that arrives while ReportFinished or AckFinished is still
	// in-flight is never missed.
	solicit, err := enu.Subscribe(ctx, workerID)
	if err != nil {
		return err
	}

	sqlDB, err := dbconn.Open(ctx, logger, c.Config.DSN(), dbconn.DefaultConfig())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// StartOffset is left at its zero value so the concurrent capture
	// window opens from whatever the server's current master position
	// is; split.LowWatermark is set by Reader.Read from that same
	// window a moment later, once scanning actually begins.
	bl := binlogreader.New(logger, &cdcsplit.BinlogSplit{StartOffset: offset.Initial, Stop: offset.NeverStop()})
	go func() {
		_ = bl.Run(ctx, binlogreader.Config{
			Addr:     fmt.Sprintf("%s:%d", c.Hostname, c.Port),
			User:     c.Username,
			Password: c.Password,
			ServerID: 0, // a real deployment derives this from config.ServerID
			Tables:   []cdcsplit.TableID{{Schema: c.DatabaseName, Table: c.TableName}},
		})
	}()

	reader := snapshotreader.New(logger, sqlDB, c.PrimaryKeyColumn, c.ScanSnapshotFetchSize)
	rows, readErr := reader.Read(ctx, split, bl)

	report := enumerator.FinishReport{WorkerID: workerID, SplitID: split.ID}
	if readErr != nil {
		report.Err = readErr
	} else {
		logger.Infof("chunk %s produced %d rows", split.ID, len(rows))
		report.LowWatermark = split.LowWatermark
		report.HighWatermark = split.HighWatermark
	}
	if err := enu.ReportFinished(ctx, report); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}

	// A real host runtime durably checkpoints the chunk here before
	// acking; this binary acks immediately since it has no checkpoint
	// store of its own. While the ack is outstanding, a FinishSolicit
	// for this split means the enumerator's housekeeping still thinks
	// the original report never arrived, so it is resent — harmless
	// since OnSplitFinished is idempotent for an already-finished split.
	ackDone := make(chan error, 1)
	go func() {
		ackDone <- enu.AckFinished(ctx, split.ID)
	}()
	for {
		select {
		case err := <-ackDone:
			return err
		case sol := <-solicit:
			if sol.SplitID == split.ID {
				logger.Infof("resending finish report for chunk %s after solicit", split.ID)
				_ = enu.ReportFinished(ctx, report)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runBinlogSplit(ctx context.Context, logger *logrus.Logger, c *cli, split *cdcsplit.BinlogSplit) error {
	r := binlogreader.New(logger, split)
	go func() {
		for ev := range r.Events() {
			logger.Infof("binlog event: table=%s op=%s key=%s", ev.TableID, ev.Op, ev.Key)
		}
	}()
	return r.Run(ctx, binlogreader.Config{
		Addr:     fmt.Sprintf("%s:%d", c.Hostname, c.Port),
		User:     c.Username,
		Password: c.Password,
		Tables:   []cdcsplit.TableID{{Schema: c.DatabaseName, Table: c.TableName}},
	})
}

func parseSpecificOffset(s string) (string, uint32, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("mysqlcdc: invalid scan.startup.specific-offset %q, want file:pos", s)
	}
	pos64, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("mysqlcdc: invalid scan.startup.specific-offset %q: %w", s, err)
	}
	return s[:idx], uint32(pos64), nil
}

func resolveStartup(c *cli) (assigner.StartupMode, offset.Offset, error) {
	switch c.ScanStartupMode {
	case config.StartupInitial:
		return assigner.StartupInitial, offset.Initial, nil
	case config.StartupEarliestOffset:
		return assigner.StartupEarliestOffset, offset.Initial, nil
	case config.StartupLatestOffset:
		return assigner.StartupLatestOffset, offset.Initial, nil
	case config.StartupSpecificOffset:
		name, pos, err := parseSpecificOffset(c.ScanStartupSpecificOffset)
		if err != nil {
			return 0, offset.Offset{}, err
		}
		return assigner.StartupSpecificOffset, offset.New(name, pos), nil
	case config.StartupTimestamp:
		// Resolving a timestamp to a binlog offset requires scanning
		// the binlog index on the server; left to the host runtime's
		// own implementation, since it needs a live canal connection
		// this command doesn't open until a split is actually handed
		// out.
		return assigner.StartupTimestamp, offset.Initial, nil
	default:
		return 0, offset.Offset{}, fmt.Errorf("mysqlcdc: unknown startup mode %q", c.ScanStartupMode)
	}
}
