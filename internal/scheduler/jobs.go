package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"licensehub/internal/backup"
	"licensehub/internal/license"
)

// Job names.
const (
	JobBackup         = "backup"
	JobLicenseExpiry  = "license_expiry"
	JobDatabaseUpkeep = "database_upkeep"
)

// SchedulerActor is recorded in audit entries for scheduled captures.
const SchedulerActor = "scheduler"

// BackupCreator is the part of backup.Service the backup job uses.
type BackupCreator interface {
	Create(ctx context.Context, actor backup.Actor) (string, error)
}

// BackupJob captures the store into a new artifact.
type BackupJob struct {
	service BackupCreator
	lock    *backup.Lock
}

// NewBackupJob returns a job that calls service.Create while holding lock.
// lock is shared with the admin API so a scheduled capture never overlaps a
// restore.
func NewBackupJob(service BackupCreator, lock *backup.Lock) *BackupJob {
	return &BackupJob{service: service, lock: lock}
}

func (j *BackupJob) Name() string        { return JobBackup }
func (j *BackupJob) Description() string { return "Capture a full backup of the store" }

func (j *BackupJob) Run(ctx context.Context) Result {
	release, err := j.lock.Acquire()
	if err != nil {
		if errors.Is(err, backup.ErrBusy) {
			return Result{Success: true, Message: "skipped: " + err.Error()}
		}
		return Result{Message: "lock failed", Error: err}
	}
	defer release()

	name, err := j.service.Create(ctx, backup.Actor{ID: SchedulerActor})
	if err != nil {
		return Result{Message: "backup failed", Error: err}
	}
	return Result{Success: true, Message: "created " + name, Processed: 1}
}

// ExpirySweeper is the part of license.Manager the expiry job uses.
type ExpirySweeper interface {
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// LicenseExpiryJob expires active licenses whose term has ended.
type LicenseExpiryJob struct {
	licenses ExpirySweeper
	now      func() time.Time
}

// NewLicenseExpiryJob returns the sweep job.
func NewLicenseExpiryJob(licenses ExpirySweeper) *LicenseExpiryJob {
	return &LicenseExpiryJob{licenses: licenses, now: time.Now}
}

func (j *LicenseExpiryJob) Name() string        { return JobLicenseExpiry }
func (j *LicenseExpiryJob) Description() string { return "Expire licenses past their term" }

func (j *LicenseExpiryJob) Run(ctx context.Context) Result {
	n, err := j.licenses.ExpireDue(ctx, j.now())
	if err != nil {
		return Result{Message: "sweep failed", Error: err}
	}
	return Result{Success: true, Message: fmt.Sprintf("expired %d licenses", n), Processed: n}
}

var _ ExpirySweeper = (*license.Manager)(nil)

// DatabaseUpkeepJob refreshes planner statistics and checks the database
// file for corruption.
type DatabaseUpkeepJob struct {
	db *sql.DB
}

// NewDatabaseUpkeepJob returns the upkeep job.
func NewDatabaseUpkeepJob(db *sql.DB) *DatabaseUpkeepJob {
	return &DatabaseUpkeepJob{db: db}
}

func (j *DatabaseUpkeepJob) Name() string { return JobDatabaseUpkeep }
func (j *DatabaseUpkeepJob) Description() string {
	return "Run ANALYZE, PRAGMA optimize and an integrity check"
}

func (j *DatabaseUpkeepJob) Run(ctx context.Context) Result {
	var check string
	if err := j.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&check); err != nil {
		return Result{Message: "integrity check failed", Error: err}
	}
	if check != "ok" {
		return Result{Message: "integrity check reported problems", Error: fmt.Errorf("quick_check: %s", check)}
	}

	if _, err := j.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return Result{Message: "analyze failed", Error: err}
	}
	if _, err := j.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return Result{Message: "optimize failed", Error: err}
	}

	var size int64
	if err := j.db.QueryRowContext(ctx,
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").Scan(&size); err != nil {
		return Result{Message: "size query failed", Error: err}
	}
	return Result{Success: true, Message: fmt.Sprintf("database ok, %.1f MB", float64(size)/(1024*1024))}
}
