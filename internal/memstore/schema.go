package memstore

import (
	"github.com/hashicorp/go-memdb"

	"licensehub/internal/catalog"
)

const (
	idxID     = "id"
	idxParent = "parent"
)

// row is the object stored in every table.
type row struct {
	ID     string
	Parent string
	Values map[string]any
}

// ForeignKeys maps table -> column -> referenced table.
type ForeignKeys map[string]map[string]string

// DefaultForeignKeys mirrors the references of the SQLite schema for the
// default catalog.
var DefaultForeignKeys = ForeignKeys{
	"plans":              {"currency_id": "currencies"},
	"plan_prices":        {"plan_id": "plans", "currency_id": "currencies"},
	"licenses":           {"plan_id": "plans", "user_id": "users"},
	"transactions":       {"user_id": "users", "license_id": "licenses", "currency_id": "currencies"},
	"notifications":      {"user_id": "users"},
	"audit_logs":         {"user_id": "users"},
	"support_tickets":    {"user_id": "users"},
	"ticket_replies":     {"ticket_id": "support_tickets", "user_id": "users"},
	"ticket_attachments": {"ticket_id": "support_tickets", "reply_id": "ticket_replies"},
}

// newSchema builds one table per entity and one per nested child table.
// Child tables carry a non-unique parent index.
func newSchema(cat *catalog.Catalog) *memdb.DBSchema {
	schema := &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{}}

	for _, e := range cat.Entities() {
		schema.Tables[e.Table] = tableSchema(e.Table, false)
		for _, n := range e.Nested {
			schema.Tables[n.Table] = tableSchema(n.Table, true)
		}
	}
	return schema
}

func tableSchema(name string, nested bool) *memdb.TableSchema {
	ts := &memdb.TableSchema{
		Name: name,
		Indexes: map[string]*memdb.IndexSchema{
			idxID: {
				Name:    idxID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
		},
	}
	if nested {
		ts.Indexes[idxParent] = &memdb.IndexSchema{
			Name:    idxParent,
			Indexer: &memdb.StringFieldIndex{Field: "Parent"},
		}
	}
	return ts
}
