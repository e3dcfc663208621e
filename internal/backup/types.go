package backup

import (
	"context"
	"fmt"
	"time"

	"licensehub/internal/catalog"
)

// Record is one row of an entity, keyed by column name. Records of entities
// with nested children also carry the children under the nested field name.
type Record map[string]any

// ID returns the record's "id" column rendered as a string.
func (r Record) ID() string {
	v, ok := r["id"]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Columns returns a copy of r without the given nested fields.
func (r Record) Columns(nested []catalog.Nested) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	for _, n := range nested {
		delete(out, n.Field)
	}
	return out
}

// Children returns the nested records stored under field. A missing or null
// field yields no children.
func (r Record) Children(field string) ([]Record, error) {
	raw, ok := r[field]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case []Record:
		return v, nil
	case []map[string]any:
		out := make([]Record, len(v))
		for i, m := range v {
			out[i] = Record(m)
		}
		return out, nil
	case []any:
		out := make([]Record, 0, len(v))
		for i, item := range v {
			switch m := item.(type) {
			case map[string]any:
				out = append(out, Record(m))
			case Record:
				out = append(out, m)
			default:
				return nil, fmt.Errorf("%s[%d]: expected object, got %T", field, i, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected array, got %T", field, raw)
	}
}

// Reader reads whole entity groups inside a consistent view of the store.
type Reader interface {
	// ReadAll returns every row of e, with nested children embedded.
	ReadAll(ctx context.Context, e catalog.Entity) ([]Record, error)
}

// Writer mutates the store inside a single transaction.
type Writer interface {
	// DeleteAll removes every row of e, nested children included.
	DeleteAll(ctx context.Context, e catalog.Entity) error
	// InsertMany bulk-inserts flat records of e.
	InsertMany(ctx context.Context, e catalog.Entity, records []Record) error
	// InsertNested creates one parent record together with its children.
	InsertNested(ctx context.Context, e catalog.Entity, record Record) error
}

// Store is the storage the engine captures from and restores into.
type Store interface {
	// Snapshot runs fn against a consistent read-only view.
	Snapshot(ctx context.Context, fn func(Reader) error) error
	// Replace runs fn in one atomic transaction. If fn returns an error,
	// every change made through the Writer is rolled back.
	Replace(ctx context.Context, fn func(Writer) error) error
}

// AuditSink records operator actions. It lives outside the engine.
type AuditSink interface {
	LogAudit(ctx context.Context, action, details, actorID, sourceAddress string) error
}

// Actor identifies who triggered an operation.
type Actor struct {
	ID      string
	Address string
}

// FileInfo describes a stored snapshot artifact.
type FileInfo struct {
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// RestoreResult is returned by a successful restore.
type RestoreResult struct {
	Filename string         `json:"filename,omitempty"`
	Created  map[string]int `json:"created"`
	Duration time.Duration  `json:"duration"`
	Warnings []string       `json:"warnings,omitempty"`
}
