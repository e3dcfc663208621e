// Package catalog declares the entity types held by the license store and the
// foreign-key dependencies between them.
//
// The catalog is static. Restore orders are derived from the declared graph
// rather than from statement layout, so they can be checked in tests.
package catalog

import (
	"fmt"
	"sort"
)

// Entity names used as keys in snapshot documents.
const (
	Currencies     = "currencies"
	Users          = "users"
	SystemSettings = "system_settings"
	RemoteConfigs  = "remote_configs"
	Plans          = "plans"
	Licenses       = "licenses"
	Transactions   = "transactions"
	Notifications  = "notifications"
	AuditLogs      = "audit_logs"
	SupportTickets = "support_tickets"
)

// Nested describes a one-to-many child embedded inside its parent's records.
// Children are never bulk-inserted on their own; they are created together
// with the parent row.
type Nested struct {
	// Field is the key under which children appear in the parent record.
	Field string
	// Table holds the child rows.
	Table string
	// ParentKey is the child column referencing the parent's id.
	ParentKey string
}

// Entity is one catalog entry.
type Entity struct {
	Name      string
	Table     string
	DependsOn []string
	Nested    []Nested
}

// HasNested reports whether records of e carry embedded children.
func (e Entity) HasNested() bool {
	return len(e.Nested) > 0
}

// Catalog is an ordered, validated set of entities.
type Catalog struct {
	entities []Entity
	byName   map[string]int
	order    []string
}

// New builds a catalog from the given entries. Declaration order is used as
// the tie-break when several entities are ready at the same time.
func New(entities ...Entity) (*Catalog, error) {
	c := &Catalog{
		entities: append([]Entity(nil), entities...),
		byName:   make(map[string]int, len(entities)),
	}
	for i, e := range c.entities {
		if e.Name == "" {
			return nil, fmt.Errorf("entity %d has no name", i)
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("entity %q declared twice", e.Name)
		}
		if c.entities[i].Table == "" {
			c.entities[i].Table = e.Name
		}
		c.byName[e.Name] = i
	}

	order, err := c.topoSort()
	if err != nil {
		return nil, err
	}
	c.order = order
	return c, nil
}

// MustNew is like New but panics on an invalid declaration.
func MustNew(entities ...Entity) *Catalog {
	c, err := New(entities...)
	if err != nil {
		panic(err)
	}
	return c
}

// topoSort is Kahn's algorithm with declaration order as the tie-break.
func (c *Catalog) topoSort() ([]string, error) {
	indegree := make([]int, len(c.entities))
	dependents := make([][]int, len(c.entities))

	for i, e := range c.entities {
		for _, dep := range e.DependsOn {
			j, ok := c.byName[dep]
			if !ok {
				return nil, fmt.Errorf("entity %q depends on unknown entity %q", e.Name, dep)
			}
			if j == i {
				return nil, fmt.Errorf("entity %q depends on itself", e.Name)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range c.entities {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]string, 0, len(c.entities))
	for len(ready) > 0 {
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, c.entities[i].Name)
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(order) != len(c.entities) {
		return nil, fmt.Errorf("dependency cycle among catalog entities")
	}
	return order, nil
}

// Entities returns the entries in declaration order.
func (c *Catalog) Entities() []Entity {
	return append([]Entity(nil), c.entities...)
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Entity, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Entity{}, false
	}
	return c.entities[i], true
}

// RestoreCreateOrder lists entity names so that every entity follows all of
// its dependencies.
func (c *Catalog) RestoreCreateOrder() []string {
	return append([]string(nil), c.order...)
}

// RestoreDeleteOrder is the exact reverse of RestoreCreateOrder.
func (c *Catalog) RestoreDeleteOrder() []string {
	out := make([]string, len(c.order))
	for i, name := range c.order {
		out[len(c.order)-1-i] = name
	}
	return out
}

// NestedChildrenOf returns the nested child fields of name, or nil.
func (c *Catalog) NestedChildrenOf(name string) []string {
	e, ok := c.Lookup(name)
	if !ok || !e.HasNested() {
		return nil
	}
	fields := make([]string, len(e.Nested))
	for i, n := range e.Nested {
		fields[i] = n.Field
	}
	return fields
}

// Validate re-checks that the create order honours every dependency.
func (c *Catalog) Validate() error {
	pos := make(map[string]int, len(c.order))
	for i, name := range c.order {
		pos[name] = i
	}
	for _, e := range c.entities {
		for _, dep := range e.DependsOn {
			if pos[dep] >= pos[e.Name] {
				return fmt.Errorf("entity %q created before its dependency %q", e.Name, dep)
			}
		}
	}
	return nil
}
