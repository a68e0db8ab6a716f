package keycursor

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pingcap/errors"

	"github.com/block/mysql-cdc/pkg/splitkey"
)

// SQLCursor issues the min/max/count and skip-offset queries against
// a live table over a *sql.DB. The schema, table and column names come
// from the connector's configuration and are placed in the query text
// inside backticks without further escaping.
type SQLCursor struct {
	db        *sql.DB
	schema    string
	table     string
	keyColumn string
}

// NewSQLCursor returns a Cursor scoped to a single table's key column.
func NewSQLCursor(db *sql.DB, schema, table, keyColumn string) *SQLCursor {
	return &SQLCursor{db: db, schema: schema, table: table, keyColumn: keyColumn}
}

func (c *SQLCursor) qualifiedTable() string {
	return fmt.Sprintf("`%s`.`%s`", c.schema, c.table)
}

func (c *SQLCursor) MinMaxCount(ctx context.Context) (min, max splitkey.Key, count int64, err error) {
	query := fmt.Sprintf("SELECT MIN(`%s`), MAX(`%s`), COUNT(*) FROM %s", c.keyColumn, c.keyColumn, c.qualifiedTable())
	var minVal, maxVal any
	row := c.db.QueryRowContext(ctx, query)
	if err := row.Scan(&minVal, &maxVal, &count); err != nil {
		return splitkey.Key{}, splitkey.Key{}, 0, errors.Annotatef(err, "min/max/count query on %s", c.qualifiedTable())
	}
	if count == 0 {
		return splitkey.Key{}, splitkey.Key{}, 0, nil
	}
	min, err = splitkey.New(minVal)
	if err != nil {
		return splitkey.Key{}, splitkey.Key{}, 0, errors.Trace(err)
	}
	max, err = splitkey.New(maxVal)
	if err != nil {
		return splitkey.Key{}, splitkey.Key{}, 0, errors.Trace(err)
	}
	return min, max, count, nil
}

// NextBoundary runs the generic key-skip query: seek past "after",
// order by the key column, and take the row "skip" positions ahead.
// This is the O(n) fallback used only when the key column isn't a
// dense, evenly distributed integer sequence (see pkg/assigner/plan.go).
func (c *SQLCursor) NextBoundary(ctx context.Context, after splitkey.Key, skip int64) (splitkey.Key, bool, error) {
	query := fmt.Sprintf(
		"SELECT `%s` FROM %s WHERE `%s` > ? ORDER BY `%s` LIMIT 1 OFFSET ?",
		c.keyColumn, c.qualifiedTable(), c.keyColumn, c.keyColumn,
	)
	var afterVal any
	switch after.Kind() {
	case splitkey.KindInvalid:
		// no lower bound yet: first chunk of the table
		query = fmt.Sprintf(
			"SELECT `%s` FROM %s ORDER BY `%s` LIMIT 1 OFFSET ?",
			c.keyColumn, c.qualifiedTable(), c.keyColumn,
		)
	default:
		afterVal = after.String()
	}

	var row *sql.Row
	if afterVal == nil {
		row = c.db.QueryRowContext(ctx, query, skip-1)
	} else {
		row = c.db.QueryRowContext(ctx, query, afterVal, skip-1)
	}

	var boundaryVal any
	if err := row.Scan(&boundaryVal); err != nil {
		if errors.Cause(err) == sql.ErrNoRows {
			return splitkey.Key{}, false, nil
		}
		return splitkey.Key{}, false, errors.Annotatef(err, "next-boundary query on %s", c.qualifiedTable())
	}
	boundary, err := splitkey.New(boundaryVal)
	if err != nil {
		return splitkey.Key{}, false, errors.Trace(err)
	}
	return boundary, true, nil
}
