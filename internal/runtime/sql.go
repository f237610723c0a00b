package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLConfig selects the database/sql driver backing the SQL runtime.
type SQLConfig struct {
	Driver string
	DSN    string
}

// ResultSet is the output of one statement that returned rows.
type ResultSet struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"values"`
}

// Database is a SQL engine handle. It holds exactly one connection so an
// in-memory database keeps its contents between calls.
type Database struct {
	db           *sqlx.DB
	rowsModified atomic.Int64
}

// OpenDatabase opens a fresh, empty database. An unregistered driver is
// reported as ErrUnavailable.
func OpenDatabase(ctx context.Context, cfg SQLConfig) (*Database, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}

	if !slices.Contains(sql.Drivers(), driver) {
		return nil, fmt.Errorf("%w: sql driver %q is not registered", ErrUnavailable, driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Each new connection to ":memory:" would be a different database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrUnavailable, err)
	}

	return &Database{db: db}, nil
}

// Exec runs every statement in script, in order, and returns one ResultSet
// per statement that produced at least one row. The first failing
// statement aborts the script with an *ExecError.
//
// Every statement is stepped as a query so RETURNING clauses and CTE-led
// statements keep their rows; the engine's changes() count is read after
// each one.
func (d *Database) Exec(ctx context.Context, script string) ([]ResultSet, error) {
	results := []ResultSet{}

	for _, stmt := range SplitStatements(script) {
		rs, err := d.query(ctx, stmt)
		if err != nil {
			return nil, &ExecError{Message: err.Error()}
		}
		if len(rs.Values) > 0 {
			results = append(results, rs)
		}

		var changes int64
		if err := d.db.GetContext(ctx, &changes, "SELECT changes()"); err != nil {
			return nil, &ExecError{Message: err.Error()}
		}
		d.rowsModified.Store(changes)
	}

	return results, nil
}

// RowsModified returns the number of rows changed by the most recent
// completed INSERT, UPDATE or DELETE, as reported by changes().
func (d *Database) RowsModified() int64 {
	return d.rowsModified.Load()
}

// Close releases the connection; an in-memory database is discarded.
func (d *Database) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *Database) query(ctx context.Context, stmt string) (ResultSet, error) {
	rows, err := d.db.QueryxContext(ctx, stmt)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}

	rs := ResultSet{Columns: cols, Values: [][]any{}}
	for rows.Next() {
		row, err := rows.SliceScan()
		if err != nil {
			return ResultSet{}, err
		}
		for j, v := range row {
			if b, ok := v.([]byte); ok {
				row[j] = string(b)
			}
		}
		rs.Values = append(rs.Values, row)
	}

	return rs, rows.Err()
}
