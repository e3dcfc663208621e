package backup

import (
	"context"
	"fmt"
	"time"

	"licensehub/internal/catalog"
)

// Builder captures the live store into a Document.
type Builder struct {
	catalog *catalog.Catalog
	store   Store
	now     func() time.Time
}

// NewBuilder returns a builder reading the entities of cat from store.
func NewBuilder(cat *catalog.Catalog, store Store) *Builder {
	return &Builder{catalog: cat, store: store, now: time.Now}
}

// Capture reads every entity in create order inside one consistent read.
// No partial document is returned: any read error aborts the capture.
func (b *Builder) Capture(ctx context.Context) (*Document, error) {
	doc := NewDocument(b.now())

	err := b.store.Snapshot(ctx, func(r Reader) error {
		for _, name := range b.catalog.RestoreCreateOrder() {
			entity, _ := b.catalog.Lookup(name)
			records, err := r.ReadAll(ctx, entity)
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			doc.Data.Set(name, records)
		}
		return nil
	})
	if err != nil {
		return nil, newError(ErrCaptureFailed, "", err)
	}
	return doc, nil
}
