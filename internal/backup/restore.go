package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licensehub/internal/catalog"
	"licensehub/internal/logging"
)

// Restorer replaces the contents of a store with a snapshot document.
type Restorer struct {
	catalog *catalog.Catalog
	store   Store
	files   *FileStore
	logger  logging.Logger
}

// NewRestorer returns a restorer loading artifacts from files.
func NewRestorer(cat *catalog.Catalog, store Store, files *FileStore, logger logging.Logger) *Restorer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Restorer{catalog: cat, store: store, files: files, logger: logger}
}

// Restore loads the named artifact and restores it. The store is not touched
// unless the artifact exists, parses and passes validation.
func (r *Restorer) Restore(ctx context.Context, filename string) (*RestoreResult, error) {
	doc, err := r.files.Read(filename)
	if err != nil {
		return nil, err
	}

	result, err := r.RestoreDocument(ctx, doc)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Filename == "" {
			e.Filename = filename
		}
		return nil, err
	}
	result.Filename = filename
	return result, nil
}

// RestoreDocument wipes the store and repopulates it from doc in a single
// transaction. On failure the store is left as it was.
//
// Once the transaction begins the caller's cancellation is ignored, so the
// operation either commits or rolls back fully.
func (r *Restorer) RestoreDocument(ctx context.Context, doc *Document) (*RestoreResult, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, newError(ErrInvalidFormat, "", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(ErrRestoreFailed, "", err)
	}

	start := time.Now()
	result := &RestoreResult{Created: make(map[string]int)}

	for _, name := range doc.Data.Names() {
		if _, ok := r.catalog.Lookup(name); !ok {
			msg := fmt.Sprintf("ignoring unknown entity group %q", name)
			result.Warnings = append(result.Warnings, msg)
			r.logger.Warn(msg)
		}
	}

	txCtx := context.WithoutCancel(ctx)
	err := r.store.Replace(txCtx, func(w Writer) error {
		for _, name := range r.catalog.RestoreDeleteOrder() {
			entity, _ := r.catalog.Lookup(name)
			if err := w.DeleteAll(txCtx, entity); err != nil {
				return fmt.Errorf("delete %s: %w", name, err)
			}
		}

		for _, name := range r.catalog.RestoreCreateOrder() {
			entity, _ := r.catalog.Lookup(name)
			records, _ := doc.Data.Get(name)
			if len(records) == 0 {
				continue
			}
			if err := createEntity(txCtx, w, entity, records); err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			result.Created[name] = len(records)
		}
		return nil
	})
	if err != nil {
		r.logger.Errorf("restore rolled back: %v", err)
		return nil, newError(ErrRestoreFailed, "", err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

// createEntity inserts one entity group. Entities with nested children are
// created record by record; the rest in a single bulk insert.
func createEntity(ctx context.Context, w Writer, entity catalog.Entity, records []Record) error {
	if !entity.HasNested() {
		return w.InsertMany(ctx, entity, records)
	}
	for i, rec := range records {
		if err := w.InsertNested(ctx, entity, rec); err != nil {
			return fmt.Errorf("record %d (id %s): %w", i, rec.ID(), err)
		}
	}
	return nil
}
