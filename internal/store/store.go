// Package store implements the SQLite persistence layer for the sink:
// per-context connections, schema management, and batched inserts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// TimeLayout is the created_at storage format: UTC ISO-8601 with a
// fixed-width 9-digit fraction, so lexicographic order on the column
// is chronological and the created_at index serves range scans.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// connPragmas are applied to every worker-context connection when it is
// first created: WAL journaling, relaxed synchronous commit, a bounded
// lock wait, ~10 MB page cache, 256 MB memory-mapped reads. Insert
// throughput is preferred over last-millisecond durability; loss on
// crash is bounded to the unflushed buffer.
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA cache_size=-10000",
	"PRAGMA mmap_size=268435456",
}

// Gateway owns one SQLite database file and hands out one dedicated
// connection per worker context. Connections are created lazily on a
// context's first use, never shared between contexts, and closed
// together when the gateway closes. Cross-connection writes are
// arbitrated by WAL plus the busy timeout.
type Gateway struct {
	path       string
	table      string
	additional []Column

	db    *sql.DB
	conns *xsync.Map[string, *sql.Conn]

	columns   []string // full insert column order: base then additional
	insertSQL string
}

// Open opens (or creates) the database at path for the given table and
// additional columns. The schema is not touched until EnsureSchema.
func Open(path, table string, additional []Column) (*Gateway, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}

	columns := insertColumns(additional)

	return &Gateway{
		path:       path,
		table:      table,
		additional: additional,
		db:         db,
		conns:      xsync.NewMap[string, *sql.Conn](),
		columns:    columns,
		insertSQL:  buildInsertSQL(table, columns),
	}, nil
}

// Columns returns the full insert column order (base then additional).
func (g *Gateway) Columns() []string { return g.columns }

// Table returns the configured table name.
func (g *Gateway) Table() string { return g.table }

// Path returns the database file path.
func (g *Gateway) Path() string { return g.path }

// Conn returns the connection owned by the named worker context,
// creating and configuring it on first use by that context.
func (g *Gateway) Conn(ctx context.Context, owner string) (*sql.Conn, error) {
	if conn, ok := g.conns.Load(owner); ok {
		return conn, nil
	}

	var (
		conn *sql.Conn
		cerr error
	)
	g.conns.Compute(owner, func(cur *sql.Conn, loaded bool) (*sql.Conn, xsync.ComputeOp) {
		if loaded {
			conn = cur
			return cur, xsync.CancelOp
		}
		c, err := g.newConn(ctx)
		if err != nil {
			cerr = err
			return nil, xsync.CancelOp
		}
		conn = c
		return c, xsync.UpdateOp
	})
	if cerr != nil {
		return nil, cerr
	}
	return conn, nil
}

func (g *Gateway) newConn(ctx context.Context) (*sql.Conn, error) {
	conn, err := g.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn on %s: %w", g.path, err)
	}
	for _, p := range connPragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("exec %q on %s: %w", p, g.path, err)
		}
	}
	return conn, nil
}

// EnsureSchema creates the table and its indexes if absent, on the
// owner context's connection. Idempotent. An existing table is never
// altered: declared additional columns it lacks are reported once via
// the diagnostic log and dropped from the insert column order, so
// batch inserts keep matching the columns the table really has.
func (g *Gateway) EnsureSchema(ctx context.Context, owner string) error {
	conn, err := g.Conn(ctx, owner)
	if err != nil {
		return err
	}

	existed, err := hasTable(ctx, conn, g.table)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, buildDDL(g.table, g.additional)); err != nil {
		return fmt.Errorf("ensure schema for %s: %w", g.table, err)
	}

	if existed && len(g.additional) > 0 {
		return g.reconcileColumns(ctx, conn)
	}
	return nil
}

// reconcileColumns compares the declared additional columns with what
// the pre-existing table actually has. Missing ones stay missing (no
// migration): each is warned about once and removed from the insert
// column order. Callers that read Columns() before EnsureSchema must
// read it again.
func (g *Gateway) reconcileColumns(ctx context.Context, conn *sql.Conn) error {
	have, err := tableColumns(ctx, conn, g.table)
	if err != nil {
		return err
	}

	applied := make([]Column, 0, len(g.additional))
	for _, c := range g.additional {
		if !have[c.Name] {
			log.Printf("[silt] warning: table %s already exists without declared column %s %s (left unapplied)",
				g.table, c.Name, c.Type)
			continue
		}
		applied = append(applied, c)
	}
	if len(applied) == len(g.additional) {
		return nil
	}

	g.additional = applied
	g.columns = insertColumns(applied)
	g.insertSQL = buildInsertSQL(g.table, g.columns)
	return nil
}

// InsertBatch writes all rows in one transaction on the owner context's
// connection. Each row must align with Columns(). Either every row
// commits or none do; any failure rolls the whole batch back.
func (g *Gateway) InsertBatch(ctx context.Context, owner string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	conn, err := g.Conn(ctx, owner)
	if err != nil {
		return err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx on %s: %w", g.path, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, g.insertSQL)
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", g.table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("insert into %s: %w", g.table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch into %s: %w", g.table, err)
	}
	return nil
}

// DeleteBefore removes rows with created_at older than cutoff, on the
// owner context's connection, and returns the number removed.
func (g *Gateway) DeleteBefore(ctx context.Context, owner string, cutoff time.Time) (int64, error) {
	conn, err := g.Conn(ctx, owner)
	if err != nil {
		return 0, err
	}

	res, err := conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", g.table),
		cutoff.UTC().Format(TimeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("delete from %s before %s: %w", g.table, cutoff.UTC().Format(TimeLayout), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected on %s: %w", g.table, err)
	}
	return n, nil
}

// Close closes every worker-context connection and then the pool.
// Returns the first error encountered but keeps closing.
func (g *Gateway) Close() error {
	var firstErr error
	g.conns.Range(func(owner string, conn *sql.Conn) bool {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s conn on %s: %w", owner, g.path, err)
		}
		g.conns.Delete(owner)
		return true
	})
	if err := g.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close db %s: %w", g.path, err)
	}
	return firstErr
}

// OpenReadOnly opens the database read-only on a single connection,
// for inspection alongside a live sink.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
