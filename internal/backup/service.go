package backup

import (
	"context"
	"fmt"
	"io"
	"time"

	"licensehub/internal/catalog"
	"licensehub/internal/logging"
	"licensehub/internal/metrics"
)

// Audit actions emitted by the service.
const (
	ActionCreate  = "BACKUP_CREATE"
	ActionRestore = "BACKUP_RESTORE"
	ActionDelete  = "BACKUP_DELETE"
	ActionUpload  = "BACKUP_UPLOAD"
)

// Service is the boundary the HTTP layer, the CLI and the scheduler call.
// It does not serialize operations; callers that can race must do so.
type Service struct {
	builder  *Builder
	restorer *Restorer
	files    *FileStore
	audit    AuditSink
	metrics  *metrics.Metrics
	logger   logging.Logger
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Catalog *catalog.Catalog
	Store   Store
	Files   *FileStore
	Audit   AuditSink
	Metrics *metrics.Metrics
	Logger  logging.Logger
}

// NewService creates a service. Catalog defaults to catalog.Default.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Files == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	return &Service{
		builder:  NewBuilder(cfg.Catalog, cfg.Store),
		restorer: NewRestorer(cfg.Catalog, cfg.Store, cfg.Files, cfg.Logger),
		files:    cfg.Files,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// List returns stored artifacts, newest first.
func (s *Service) List() ([]FileInfo, error) {
	return s.files.List()
}

// Create captures the store and writes a new artifact.
func (s *Service) Create(ctx context.Context, actor Actor) (string, error) {
	start := time.Now()
	name, err := s.create(ctx)
	s.metrics.ObserveCaptureDuration(time.Since(start))
	s.metrics.ObserveBackupOperation("create", err)
	if err != nil {
		s.logger.Errorf("create backup: %v", err)
		return "", err
	}

	s.logger.Infof("backup created: %s (%s)", name, time.Since(start).Round(time.Millisecond))
	s.logAudit(ctx, ActionCreate, "Created backup "+name, actor)
	return name, nil
}

func (s *Service) create(ctx context.Context) (string, error) {
	doc, err := s.builder.Capture(ctx)
	if err != nil {
		return "", err
	}
	return s.files.Write(doc)
}

// Restore replaces the store with the contents of filename. The audit entry
// is written only after the restore committed.
func (s *Service) Restore(ctx context.Context, filename string, actor Actor) (*RestoreResult, error) {
	start := time.Now()
	result, err := s.restorer.Restore(ctx, filename)
	s.metrics.ObserveRestoreDuration(time.Since(start))
	s.metrics.ObserveBackupOperation("restore", err)
	if err != nil {
		s.logger.Errorf("restore %s: %v", filename, err)
		return nil, err
	}

	s.logger.Infof("backup restored: %s (%s)", filename, result.Duration.Round(time.Millisecond))
	s.logAudit(ctx, ActionRestore, "Restored backup "+filename, actor)
	return result, nil
}

// Delete removes an artifact.
func (s *Service) Delete(ctx context.Context, filename string, actor Actor) error {
	err := s.files.Delete(filename)
	s.metrics.ObserveBackupOperation("delete", err)
	if err != nil {
		return err
	}

	s.logger.Infof("backup deleted: %s", filename)
	s.logAudit(ctx, ActionDelete, "Deleted backup "+filename, actor)
	return nil
}

// Download opens an artifact for streaming. The caller closes the reader.
func (s *Service) Download(filename string) (io.ReadCloser, FileInfo, error) {
	return s.files.Open(filename)
}

// Upload stores externally produced content under filename. Content is not
// parsed until it is restored.
func (s *Service) Upload(ctx context.Context, r io.Reader, filename string, actor Actor) (string, error) {
	stored, err := s.files.Upload(r, filename)
	s.metrics.ObserveBackupOperation("upload", err)
	if err != nil {
		return "", err
	}

	s.logger.Infof("backup uploaded: %s", stored)
	s.logAudit(ctx, ActionUpload, "Uploaded backup "+stored, actor)
	return stored, nil
}

// logAudit records an action that already succeeded. A failing sink is
// logged; it cannot undo the operation.
func (s *Service) logAudit(ctx context.Context, action, details string, actor Actor) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAudit(context.WithoutCancel(ctx), action, details, actor.ID, actor.Address); err != nil {
		s.logger.Errorf("audit %s: %v", action, err)
	}
}
