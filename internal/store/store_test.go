package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestGateway(t *testing.T, additional []Column) *Gateway {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs.db")
	g, err := Open(path, "logs", additional)
	if err != nil {
		t.Fatalf("open gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	if err := g.EnsureSchema(context.Background(), "test"); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return g
}

// baseRow returns one insert row aligned with the fixed base columns.
func baseRow(ts time.Time, level int, levelName, logger, msg string) []any {
	return []any{
		ts.UTC().Format(TimeLayout), level, levelName, logger, msg,
		nil, nil, nil, nil, // function_name, module, filename, line_number
		nil, nil, nil, nil, // process_id, process_name, thread_id, thread_name
		nil, nil, nil, // exception, stack_trace, extra
	}
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	db, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only %s: %v", path, err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count rows in %s: %v", table, err)
	}
	return n
}

func TestEnsureSchema_CreatesTableAndIndexes(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	conn, err := g.Conn(ctx, "test")
	if err != nil {
		t.Fatalf("acquire conn: %v", err)
	}

	ok, err := hasTable(ctx, conn, "logs")
	if err != nil {
		t.Fatalf("hasTable: %v", err)
	}
	if !ok {
		t.Fatalf("expected logs table to exist")
	}

	rows, err := conn.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND tbl_name='logs' AND name LIKE 'idx_%'")
	if err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index name: %v", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate indexes: %v", err)
	}
	for _, want := range []string{"idx_logs_created_at", "idx_logs_level", "idx_logs_logger_name"} {
		if !found[want] {
			t.Fatalf("expected index %s, have %v", want, found)
		}
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	g := newTestGateway(t, []Column{{Name: "request_id", Type: "TEXT"}})
	ctx := context.Background()

	// Second and third runs must be clean no-ops.
	if err := g.EnsureSchema(ctx, "test"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if err := g.EnsureSchema(ctx, "other"); err != nil {
		t.Fatalf("third ensure on another context: %v", err)
	}
}

func TestEnsureSchema_ExistingTableNotAltered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.db")
	ctx := context.Background()

	g1, err := Open(path, "logs", nil)
	if err != nil {
		t.Fatalf("open first gateway: %v", err)
	}
	if err := g1.EnsureSchema(ctx, "test"); err != nil {
		t.Fatalf("ensure first schema: %v", err)
	}
	if err := g1.Close(); err != nil {
		t.Fatalf("close first gateway: %v", err)
	}

	// Reopen declaring a column the existing table lacks.
	g2, err := Open(path, "logs", []Column{{Name: "tenant", Type: "TEXT"}})
	if err != nil {
		t.Fatalf("open second gateway: %v", err)
	}
	t.Cleanup(func() { _ = g2.Close() })
	if err := g2.EnsureSchema(ctx, "test"); err != nil {
		t.Fatalf("ensure second schema: %v", err)
	}

	conn, err := g2.Conn(ctx, "test")
	if err != nil {
		t.Fatalf("acquire conn: %v", err)
	}
	cols, err := tableColumns(ctx, conn, "logs")
	if err != nil {
		t.Fatalf("tableColumns: %v", err)
	}
	if cols["tenant"] {
		t.Fatalf("expected tenant column to stay unapplied on existing table")
	}

	// The unapplied column is also dropped from the insert order, so
	// batches through the second gateway keep inserting.
	for _, c := range g2.Columns() {
		if c == "tenant" {
			t.Fatalf("tenant still in insert columns: %v", g2.Columns())
		}
	}
	if err := g2.InsertBatch(ctx, "test", [][]any{
		baseRow(time.Now(), 0, "INFO", "app", "still inserting"),
	}); err != nil {
		t.Fatalf("insert through second gateway: %v", err)
	}
	if got := countRows(t, path, "logs"); got != 1 {
		t.Fatalf("rows after reconciled insert: got %d, want 1", got)
	}
}

func TestInsertBatch_CommitsAllRows(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	now := time.Now()
	rows := [][]any{
		baseRow(now, 0, "INFO", "app", "first"),
		baseRow(now, 4, "WARN", "app", "second"),
		baseRow(now, 8, "ERROR", "app", "third"),
	}
	if err := g.InsertBatch(ctx, "test", rows); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	if got := countRows(t, g.Path(), "logs"); got != 3 {
		t.Fatalf("expected 3 rows, got %d", got)
	}

	db, err := OpenReadOnly(g.Path())
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer db.Close()
	var msg, levelName string
	err = db.QueryRow("SELECT message, level_name FROM logs WHERE level = 8").Scan(&msg, &levelName)
	if err != nil {
		t.Fatalf("query level 8 row: %v", err)
	}
	if msg != "third" || levelName != "ERROR" {
		t.Fatalf("got message=%q level_name=%q, want third/ERROR", msg, levelName)
	}
}

func TestInsertBatch_AdditionalColumns(t *testing.T) {
	g := newTestGateway(t, []Column{
		{Name: "request_id", Type: "TEXT"},
		{Name: "user_id", Type: "INTEGER"},
	})
	ctx := context.Background()

	row := append(baseRow(time.Now(), 0, "INFO", "app", "tagged"), "req-123", int64(42))
	if err := g.InsertBatch(ctx, "test", [][]any{row}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	db, err := OpenReadOnly(g.Path())
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer db.Close()
	var reqID string
	var userID int64
	if err := db.QueryRow("SELECT request_id, user_id FROM logs").Scan(&reqID, &userID); err != nil {
		t.Fatalf("query additional columns: %v", err)
	}
	if reqID != "req-123" || userID != 42 {
		t.Fatalf("got request_id=%q user_id=%d, want req-123/42", reqID, userID)
	}
}

func TestInsertBatch_FailureRollsBackWholeBatch(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	short := []any{time.Now().UTC().Format(TimeLayout), 0} // wrong arity
	rows := [][]any{
		baseRow(time.Now(), 0, "INFO", "app", "ok"),
		short,
	}
	err := g.InsertBatch(ctx, "test", rows)
	if err == nil {
		t.Fatalf("expected batch insert error")
	}
	if !strings.Contains(err.Error(), "insert into logs") {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := countRows(t, g.Path(), "logs"); got != 0 {
		t.Fatalf("expected rollback to leave 0 rows, got %d", got)
	}
}

func TestConn_PerContextOwnership(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	emit1, err := g.Conn(ctx, "emit")
	if err != nil {
		t.Fatalf("acquire emit conn: %v", err)
	}
	emit2, err := g.Conn(ctx, "emit")
	if err != nil {
		t.Fatalf("reacquire emit conn: %v", err)
	}
	if emit1 != emit2 {
		t.Fatalf("expected the same connection for one context")
	}

	interval, err := g.Conn(ctx, "interval")
	if err != nil {
		t.Fatalf("acquire interval conn: %v", err)
	}
	if interval == emit1 {
		t.Fatalf("expected distinct connections per context")
	}
}

func TestDeleteBefore_RemovesOnlyOldRows(t *testing.T) {
	g := newTestGateway(t, nil)
	ctx := context.Background()

	now := time.Now()
	rows := [][]any{
		baseRow(now.Add(-48*time.Hour), 0, "INFO", "app", "old"),
		baseRow(now.Add(-36*time.Hour), 0, "INFO", "app", "older"),
		baseRow(now, 0, "INFO", "app", "fresh"),
	}
	if err := g.InsertBatch(ctx, "test", rows); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	n, err := g.DeleteBefore(ctx, "retention", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", n)
	}

	db, err := OpenReadOnly(g.Path())
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer db.Close()
	var msg string
	if err := db.QueryRow("SELECT message FROM logs").Scan(&msg); err != nil {
		t.Fatalf("query surviving row: %v", err)
	}
	if msg != "fresh" {
		t.Fatalf("expected fresh row to survive, got %q", msg)
	}
}
