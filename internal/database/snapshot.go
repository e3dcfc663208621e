package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"licensehub/internal/backup"
	"licensehub/internal/catalog"
)

// maxVariables bounds the bind parameters of one multi-row INSERT.
const maxVariables = 999

// SnapshotStore is the backup.Store over the SQLite database.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore returns a store over db.
func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Snapshot runs fn in a read-only transaction. In WAL mode the transaction
// sees one consistent version of the database for its whole lifetime.
func (s *SnapshotStore) Snapshot(ctx context.Context, fn func(backup.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(newTxView(tx))
}

// Replace runs fn in a write transaction and commits only if fn succeeds.
func (s *SnapshotStore) Replace(ctx context.Context, fn func(backup.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newTxView(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type txView struct {
	tx      *sql.Tx
	columns map[string]map[string]bool
}

func newTxView(tx *sql.Tx) *txView {
	return &txView{tx: tx, columns: make(map[string]map[string]bool)}
}

func (v *txView) ReadAll(ctx context.Context, e catalog.Entity) ([]backup.Record, error) {
	records, err := v.selectAll(ctx, e.Table, "id")
	if err != nil {
		return nil, err
	}

	for _, n := range e.Nested {
		children, err := v.selectAll(ctx, n.Table, n.ParentKey+", id")
		if err != nil {
			return nil, err
		}

		byParent := make(map[string][]backup.Record)
		for _, c := range children {
			key := fmt.Sprint(c[n.ParentKey])
			byParent[key] = append(byParent[key], c)
		}
		for _, r := range records {
			nested := byParent[r.ID()]
			if nested == nil {
				nested = []backup.Record{}
			}
			r[n.Field] = nested
		}
	}
	return records, nil
}

func (v *txView) DeleteAll(ctx context.Context, e catalog.Entity) error {
	tables := make([]string, 0, len(e.Nested)+1)
	for i := len(e.Nested) - 1; i >= 0; i-- {
		tables = append(tables, e.Nested[i].Table)
	}
	tables = append(tables, e.Table)

	for _, table := range tables {
		if _, err := v.tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func (v *txView) InsertMany(ctx context.Context, e catalog.Entity, records []backup.Record) error {
	rows := make([]backup.Record, len(records))
	for i, r := range records {
		rows[i] = r.Columns(e.Nested)
	}
	return v.insertRows(ctx, e.Table, rows)
}

func (v *txView) InsertNested(ctx context.Context, e catalog.Entity, rec backup.Record) error {
	if err := v.insertRows(ctx, e.Table, []backup.Record{rec.Columns(e.Nested)}); err != nil {
		return err
	}

	parentID := rec.ID()
	for _, n := range e.Nested {
		children, err := rec.Children(n.Field)
		if err != nil {
			return err
		}
		rows := make([]backup.Record, len(children))
		for i, c := range children {
			row := make(backup.Record, len(c)+1)
			for k, val := range c {
				row[k] = val
			}
			row[n.ParentKey] = parentID
			rows[i] = row
		}
		if err := v.insertRows(ctx, n.Table, rows); err != nil {
			return fmt.Errorf("%s: %w", n.Field, err)
		}
	}
	return nil
}

func (v *txView) selectAll(ctx context.Context, table, orderBy string) ([]backup.Record, error) {
	rows, err := v.tx.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table)+" ORDER BY "+orderBy)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	records := []backup.Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}

		rec := make(backup.Record, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = values[i]
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return records, nil
}

// insertRows inserts rows in order. Consecutive rows sharing a column set
// go into one multi-row INSERT.
func (v *txView) insertRows(ctx context.Context, table string, rows []backup.Record) error {
	known, err := v.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	for start := 0; start < len(rows); {
		cols := sortedKeys(rows[start])
		for _, c := range cols {
			if !known[c] {
				return fmt.Errorf("%s: unknown column %q", table, c)
			}
		}
		if len(cols) == 0 {
			return fmt.Errorf("%s: empty record", table)
		}

		limit := maxVariables / len(cols)
		if limit < 1 {
			limit = 1
		}
		end := start + 1
		for end < len(rows) && end-start < limit && sameKeys(rows[end], cols) {
			end++
		}

		if err := v.insertBatch(ctx, table, cols, rows[start:end]); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func (v *txView) insertBatch(ctx context.Context, table string, cols []string, rows []backup.Record) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(quoted, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(cols)*len(rows))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholder)
		for _, c := range cols {
			val, err := bindValue(row[c])
			if err != nil {
				return fmt.Errorf("%s.%s: %w", table, c, err)
			}
			args = append(args, val)
		}
	}

	if _, err := v.tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// tableColumns returns the column set of table, cached per transaction.
func (v *txView) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	if cols, ok := v.columns[table]; ok {
		return cols, nil
	}

	rows, err := v.tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no such table: %s", table)
	}

	v.columns[table] = cols
	return cols, nil
}

// bindValue converts decoded JSON values into driver values.
func bindValue(val any) (any, error) {
	switch x := val.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		if f, err := x.Float64(); err == nil {
			return f, nil
		}
		return x.String(), nil
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return val, nil
	}
}

func sortedKeys(r backup.Record) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameKeys(r backup.Record, cols []string) bool {
	if len(r) != len(cols) {
		return false
	}
	for _, c := range cols {
		if _, ok := r[c]; !ok {
			return false
		}
	}
	return true
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
