// Package memstore implements the backup store on go-memdb. It backs tests
// and the engine's storage-agnostic paths; nothing is persisted.
package memstore

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-memdb"

	"licensehub/internal/backup"
	"licensehub/internal/catalog"
)

// Store is an in-memory backup.Store.
type Store struct {
	db      *memdb.MemDB
	catalog *catalog.Catalog
	fks     ForeignKeys
}

// New returns an empty store with tables for every entity of cat. fks is
// enforced on insert and delete; nil disables reference checks.
func New(cat *catalog.Catalog, fks ForeignKeys) (*Store, error) {
	db, err := memdb.NewMemDB(newSchema(cat))
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &Store{db: db, catalog: cat, fks: fks}, nil
}

// Snapshot runs fn against a read transaction, which sees a fixed view.
func (s *Store) Snapshot(_ context.Context, fn func(backup.Reader) error) error {
	txn := s.db.Txn(false)
	defer txn.Abort()

	return fn(&txnView{txn: txn, fks: s.fks})
}

// Replace runs fn in a write transaction committed only when fn succeeds.
func (s *Store) Replace(_ context.Context, fn func(backup.Writer) error) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&txnView{txn: txn, fks: s.fks}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Count returns the number of rows in table.
func (s *Store) Count(table string) (int, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(table, idxID)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", table, err)
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		n++
	}
	return n, nil
}

type txnView struct {
	txn *memdb.Txn
	fks ForeignKeys
}

func (v *txnView) ReadAll(_ context.Context, e catalog.Entity) ([]backup.Record, error) {
	rows, err := v.scan(e.Table, idxID)
	if err != nil {
		return nil, err
	}

	records := make([]backup.Record, 0, len(rows))
	for _, r := range rows {
		rec := copyValues(r.Values)
		for _, n := range e.Nested {
			children, err := v.scan(n.Table, idxParent, r.ID)
			if err != nil {
				return nil, err
			}
			nested := make([]backup.Record, 0, len(children))
			for _, c := range children {
				nested = append(nested, copyValues(c.Values))
			}
			rec[n.Field] = nested
		}
		records = append(records, rec)
	}
	return records, nil
}

func (v *txnView) DeleteAll(_ context.Context, e catalog.Entity) error {
	for i := len(e.Nested) - 1; i >= 0; i-- {
		if err := v.deleteTable(e.Nested[i].Table); err != nil {
			return err
		}
	}
	return v.deleteTable(e.Table)
}

func (v *txnView) InsertMany(_ context.Context, e catalog.Entity, records []backup.Record) error {
	for i, rec := range records {
		if err := v.insert(e.Table, "", rec.Columns(e.Nested)); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

func (v *txnView) InsertNested(_ context.Context, e catalog.Entity, rec backup.Record) error {
	if err := v.insert(e.Table, "", rec.Columns(e.Nested)); err != nil {
		return err
	}

	parentID := rec.ID()
	for _, n := range e.Nested {
		children, err := rec.Children(n.Field)
		if err != nil {
			return err
		}
		for _, child := range children {
			values := copyValues(child)
			values[n.ParentKey] = parentID
			if err := v.insert(n.Table, parentID, values); err != nil {
				return fmt.Errorf("%s: %w", n.Field, err)
			}
		}
	}
	return nil
}

func (v *txnView) insert(table, parent string, values backup.Record) error {
	id := values.ID()
	if id == "" {
		return fmt.Errorf("%s: record has no id", table)
	}

	existing, err := v.txn.First(table, idxID, id)
	if err != nil {
		return fmt.Errorf("lookup %s %s: %w", table, id, err)
	}
	if existing != nil {
		return fmt.Errorf("%s: duplicate id %s", table, id)
	}

	for column, ref := range v.fks[table] {
		val, ok := values[column]
		if !ok || val == nil {
			continue
		}
		key := fmt.Sprint(val)
		target, err := v.txn.First(ref, idxID, key)
		if err != nil {
			return fmt.Errorf("lookup %s %s: %w", ref, key, err)
		}
		if target == nil {
			return fmt.Errorf("%s.%s: foreign key %s not found in %s", table, column, key, ref)
		}
	}

	if err := v.txn.Insert(table, &row{ID: id, Parent: parent, Values: copyValues(values)}); err != nil {
		return fmt.Errorf("insert %s %s: %w", table, id, err)
	}
	return nil
}

// deleteTable removes every row of table, failing if another table still
// references one of them.
func (v *txnView) deleteTable(table string) error {
	for other, cols := range v.fks {
		for column, ref := range cols {
			if ref != table || other == table {
				continue
			}
			rows, err := v.scan(other, idxID)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if val, ok := r.Values[column]; ok && val != nil {
					return fmt.Errorf("delete %s: still referenced by %s.%s", table, other, column)
				}
			}
		}
	}

	if _, err := v.txn.DeleteAll(table, idxID); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (v *txnView) scan(table, index string, args ...any) ([]*row, error) {
	it, err := v.txn.Get(table, index, args...)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	var rows []*row
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*row))
	}
	return rows, nil
}

func copyValues(m map[string]any) backup.Record {
	out := make(backup.Record, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
