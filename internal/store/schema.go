package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column is one table column: a bare identifier plus its declared SQL
// type (the type text is embedded in the DDL as written).
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// baseColumns are the fixed insertable columns every log table carries,
// in schema order. The id primary key is excluded: it is never inserted.
var baseColumns = []Column{
	{Name: "created_at", Type: "TIMESTAMP NOT NULL"},
	{Name: "level", Type: "INTEGER"},
	{Name: "level_name", Type: "TEXT"},
	{Name: "logger_name", Type: "TEXT"},
	{Name: "message", Type: "TEXT"},
	{Name: "function_name", Type: "TEXT"},
	{Name: "module", Type: "TEXT"},
	{Name: "filename", Type: "TEXT"},
	{Name: "line_number", Type: "INTEGER"},
	{Name: "process_id", Type: "INTEGER"},
	{Name: "process_name", Type: "TEXT"},
	{Name: "thread_id", Type: "INTEGER"},
	{Name: "thread_name", Type: "TEXT"},
	{Name: "exception", Type: "TEXT"},
	{Name: "stack_trace", Type: "TEXT"},
	{Name: "extra", Type: "JSON"},
}

// indexedColumns get one secondary index each, named idx_<table>_<column>.
var indexedColumns = []string{"created_at", "level", "logger_name"}

// BaseColumnNames returns the names of the fixed insertable columns.
func BaseColumnNames() []string {
	names := make([]string, len(baseColumns))
	for i, c := range baseColumns {
		names[i] = c.Name
	}
	return names
}

// IsBaseColumn reports whether name is one of the fixed columns
// (including the id primary key).
func IsBaseColumn(name string) bool {
	if name == "id" {
		return true
	}
	for _, c := range baseColumns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// insertColumns returns the full insert column order: the fixed base
// columns followed by the additional columns in declaration order.
func insertColumns(additional []Column) []string {
	columns := BaseColumnNames()
	for _, c := range additional {
		columns = append(columns, c.Name)
	}
	return columns
}

// buildDDL renders the CREATE TABLE / CREATE INDEX statements for table
// with the fixed base columns followed by the additional columns in
// declaration order. Everything is IF NOT EXISTS: running it against an
// existing table is a no-op, never an alteration.
func buildDDL(table string, additional []Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	b.WriteString("\tid INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range baseColumns {
		fmt.Fprintf(&b, ",\n\t%s %s", c.Name, c.Type)
	}
	for _, c := range additional {
		fmt.Fprintf(&b, ",\n\t%s %s", c.Name, c.Type)
	}
	b.WriteString("\n);\n")
	for _, col := range indexedColumns {
		fmt.Fprintf(&b, "CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s);\n", table, col, table, col)
	}
	return b.String()
}

// buildInsertSQL renders the parameterized insert for the full column
// list. Prepared once per transaction and executed per row.
func buildInsertSQL(table string, columns []string) string {
	placeholders := strings.Repeat("?,", len(columns))
	placeholders = placeholders[:len(placeholders)-1]
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders,
	)
}

func hasTable(ctx context.Context, conn *sql.Conn, table string) (bool, error) {
	var name string
	err := conn.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect sqlite_master for %s: %w", table, err)
	}
	return true, nil
}

// tableColumns returns the set of column names the table actually has.
func tableColumns(ctx context.Context, conn *sql.Conn, table string) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			defaultV  sql.NullString
			primaryID int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &primaryID); err != nil {
			return nil, fmt.Errorf("scan table_info(%s): %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table_info(%s): %w", table, err)
	}
	return cols, nil
}
