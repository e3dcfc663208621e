// Package license implements the license state machine over the licenses
// table.
package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"licensehub/internal/logging"
	"licensehub/internal/metrics"
)

// Status is the lifecycle state of a license.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// Audit actions emitted by the manager.
const (
	ActionGenerate = "LICENSE_GENERATE"
	ActionActivate = "LICENSE_ACTIVATE"
	ActionRenew    = "LICENSE_RENEW"
	ActionPause    = "LICENSE_PAUSE"
	ActionResume   = "LICENSE_RESUME"
	ActionRevoke   = "LICENSE_REVOKE"
)

// DefaultKeyPrefix is used when no prefix is configured.
const DefaultKeyPrefix = "LH"

var (
	ErrNotFound          = errors.New("license not found")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrInvalidTransition = errors.New("invalid license transition")
	ErrDeviceMismatch    = errors.New("license is bound to another device")
)

// Fixed-width UTC timestamps compare correctly as strings, which ExpireDue
// relies on.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// License is one row of the licenses table.
type License struct {
	ID               string     `json:"id"`
	Key              string     `json:"key"`
	PlanID           string     `json:"planId,omitempty"`
	UserID           string     `json:"userId,omitempty"`
	Status           Status     `json:"status"`
	DeviceID         string     `json:"deviceId,omitempty"`
	MaxDevices       int        `json:"maxDevices"`
	ActivatedAt      *time.Time `json:"activatedAt,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	PausedAt         *time.Time `json:"pausedAt,omitempty"`
	RemainingSeconds *int64     `json:"remainingSeconds,omitempty"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// GenerateRequest describes a new license.
type GenerateRequest struct {
	PlanID string `json:"planId" validate:"required"`
	UserID string `json:"userId"`
	// MaxDevices defaults to the plan's limit when zero.
	MaxDevices int `json:"maxDevices" validate:"gte=0,lte=1000"`
}

// RenewRequest extends a license and records the payment.
type RenewRequest struct {
	Days       int     `json:"days" validate:"required,gt=0,lte=3650"`
	Amount     float64 `json:"amount" validate:"gte=0"`
	CurrencyID string  `json:"currencyId"`
	Reference  string  `json:"reference"`
}

// AuditSink records license actions.
type AuditSink interface {
	LogAudit(ctx context.Context, action, details, actorID, sourceAddress string) error
}

// Config wires a Manager.
type Config struct {
	KeyPrefix string
	Audit     AuditSink
	Metrics   *metrics.Metrics
	Logger    logging.Logger
}

// Manager runs license transitions. Each transition reads and updates the
// row in one transaction.
type Manager struct {
	db        *sql.DB
	keyPrefix string
	audit     AuditSink
	metrics   *metrics.Metrics
	logger    logging.Logger
	now       func() time.Time
}

// NewManager returns a manager over db.
func NewManager(db *sql.DB, cfg Config) *Manager {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return &Manager{
		db:        db,
		keyPrefix: strings.ToUpper(cfg.KeyPrefix),
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Generate creates an inactive license for a plan.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest, actor string) (*License, error) {
	if req.PlanID == "" {
		return nil, fmt.Errorf("plan id is required")
	}
	if req.MaxDevices < 0 {
		return nil, fmt.Errorf("max devices must not be negative")
	}

	var lic *License
	err := m.inTx(ctx, func(tx *sql.Tx) error {
		p, err := loadPlan(ctx, tx, req.PlanID)
		if err != nil {
			return err
		}
		maxDevices := req.MaxDevices
		if maxDevices == 0 {
			maxDevices = p.maxDevices
		}

		key, err := GenerateKey(m.keyPrefix)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		lic = &License{
			ID:         uuid.New().String(),
			Key:        key,
			PlanID:     req.PlanID,
			UserID:     req.UserID,
			Status:     StatusInactive,
			MaxDevices: maxDevices,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO licenses (id, key, plan_id, user_id, status, max_devices, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			lic.ID, lic.Key, lic.PlanID, nullString(lic.UserID), string(lic.Status), lic.MaxDevices,
			formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("insert license: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.record(ctx, ActionGenerate, lic, actor)
	return lic, nil
}

// Activate binds an inactive license to a device and starts its term.
// Activating an active license from the same device is a no-op.
func (m *Manager) Activate(ctx context.Context, key, deviceID, actor string) (*License, error) {
	key = NormalizeKey(key)
	deviceID = strings.TrimSpace(deviceID)
	if key == "" || deviceID == "" {
		return nil, fmt.Errorf("key and device id are required")
	}

	changed := false
	lic, err := m.transition(ctx, `key = ?`, key, func(tx *sql.Tx, lic *License, now time.Time) error {
		switch lic.Status {
		case StatusActive:
			if lic.DeviceID != deviceID {
				return ErrDeviceMismatch
			}
			return nil
		case StatusInactive:
		default:
			return invalid(lic.Status, StatusActive)
		}

		p, err := loadPlan(ctx, tx, lic.PlanID)
		if err != nil {
			return err
		}
		expires := now.AddDate(0, 0, p.durationDays)
		lic.Status = StatusActive
		lic.DeviceID = deviceID
		lic.ActivatedAt = &now
		lic.ExpiresAt = &expires
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		m.metrics.AddLicenseTransition(string(StatusActive), 1)
		m.record(ctx, ActionActivate, lic, actor)
	}
	return lic, nil
}

// Renew extends a license by req.Days from the later of now and its current
// expiry, reactivating an expired license. Paused licenses bank the days.
// A transactions row records the renewal.
func (m *Manager) Renew(ctx context.Context, id string, req RenewRequest, actor string) (*License, error) {
	if req.Days <= 0 {
		return nil, fmt.Errorf("days must be positive")
	}
	extend := time.Duration(req.Days) * 24 * time.Hour

	lic, err := m.transition(ctx, `id = ?`, id, func(tx *sql.Tx, lic *License, now time.Time) error {
		switch lic.Status {
		case StatusActive, StatusExpired:
			from := now
			if lic.ExpiresAt != nil && lic.ExpiresAt.After(now) {
				from = *lic.ExpiresAt
			}
			expires := from.Add(extend)
			lic.ExpiresAt = &expires
			lic.Status = StatusActive
		case StatusPaused:
			var remaining int64
			if lic.RemainingSeconds != nil {
				remaining = *lic.RemainingSeconds
			}
			remaining += int64(extend / time.Second)
			lic.RemainingSeconds = &remaining
		default:
			return invalid(lic.Status, StatusActive)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, user_id, license_id, currency_id, amount, type, status, reference, created_at)
			VALUES (?, ?, ?, ?, ?, 'renewal', 'completed', ?, ?)`,
			uuid.New().String(), nullString(lic.UserID), lic.ID, nullString(req.CurrencyID),
			req.Amount, nullString(req.Reference), formatTime(now))
		if err != nil {
			return fmt.Errorf("record renewal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.AddLicenseTransition("renewed", 1)
	m.record(ctx, ActionRenew, lic, actor)
	return lic, nil
}

// Pause freezes an active license's remaining time.
func (m *Manager) Pause(ctx context.Context, id, actor string) (*License, error) {
	lic, err := m.transition(ctx, `id = ?`, id, func(_ *sql.Tx, lic *License, now time.Time) error {
		if lic.Status != StatusActive {
			return invalid(lic.Status, StatusPaused)
		}
		var remaining int64
		if lic.ExpiresAt != nil && lic.ExpiresAt.After(now) {
			remaining = int64(lic.ExpiresAt.Sub(now) / time.Second)
		}
		lic.Status = StatusPaused
		lic.PausedAt = &now
		lic.RemainingSeconds = &remaining
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.AddLicenseTransition(string(StatusPaused), 1)
	m.record(ctx, ActionPause, lic, actor)
	return lic, nil
}

// Resume restarts a paused license with the time it had left.
func (m *Manager) Resume(ctx context.Context, id, actor string) (*License, error) {
	lic, err := m.transition(ctx, `id = ?`, id, func(_ *sql.Tx, lic *License, now time.Time) error {
		if lic.Status != StatusPaused {
			return invalid(lic.Status, StatusActive)
		}
		var remaining int64
		if lic.RemainingSeconds != nil {
			remaining = *lic.RemainingSeconds
		}
		expires := now.Add(time.Duration(remaining) * time.Second)
		lic.Status = StatusActive
		lic.ExpiresAt = &expires
		lic.PausedAt = nil
		lic.RemainingSeconds = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.AddLicenseTransition(string(StatusActive), 1)
	m.record(ctx, ActionResume, lic, actor)
	return lic, nil
}

// Revoke permanently disables a license.
func (m *Manager) Revoke(ctx context.Context, id, actor string) (*License, error) {
	lic, err := m.transition(ctx, `id = ?`, id, func(_ *sql.Tx, lic *License, now time.Time) error {
		if lic.Status == StatusRevoked {
			return invalid(lic.Status, StatusRevoked)
		}
		lic.Status = StatusRevoked
		lic.RevokedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.AddLicenseTransition(string(StatusRevoked), 1)
	m.record(ctx, ActionRevoke, lic, actor)
	return lic, nil
}

// ExpireDue marks active licenses whose term ended at or before now as
// expired and returns how many changed.
func (m *Manager) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	stamp := formatTime(now)
	res, err := m.db.ExecContext(ctx, `
		UPDATE licenses SET status = ?, updated_at = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?`,
		string(StatusExpired), stamp, string(StatusActive), stamp)
	if err != nil {
		return 0, fmt.Errorf("expire licenses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire licenses: %w", err)
	}
	if n > 0 {
		m.metrics.AddLicenseTransition(string(StatusExpired), int(n))
		m.logger.Infof("expired %d licenses", n)
	}
	return int(n), nil
}

// Get returns a license by id.
func (m *Manager) Get(ctx context.Context, id string) (*License, error) {
	return scanLicense(m.db.QueryRowContext(ctx, selectLicense+` WHERE id = ?`, id))
}

// GetByKey returns a license by key.
func (m *Manager) GetByKey(ctx context.Context, key string) (*License, error) {
	return scanLicense(m.db.QueryRowContext(ctx, selectLicense+` WHERE key = ?`, NormalizeKey(key)))
}

// List returns licenses, newest first, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status Status) ([]License, error) {
	query, args := selectLicense, []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var out []License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lic)
	}
	return out, rows.Err()
}

// transition loads the row matched by where, lets apply mutate it and
// writes it back, all in one transaction.
func (m *Manager) transition(ctx context.Context, where string, arg any,
	apply func(tx *sql.Tx, lic *License, now time.Time) error) (*License, error) {
	var lic *License
	err := m.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		lic, err = scanLicense(tx.QueryRowContext(ctx, selectLicense+` WHERE `+where, arg))
		if err != nil {
			return err
		}

		now := m.now().UTC()
		before := *lic
		if err := apply(tx, lic, now); err != nil {
			return err
		}
		if *lic == before {
			return nil
		}
		lic.UpdatedAt = now
		return updateLicense(ctx, tx, lic)
	})
	if err != nil {
		return nil, err
	}
	return lic, nil
}

func (m *Manager) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *Manager) record(ctx context.Context, action string, lic *License, actor string) {
	m.logger.Infof("%s %s (%s) -> %s", action, lic.ID, lic.Key, lic.Status)
	if m.audit == nil {
		return
	}
	details := fmt.Sprintf("license %s status %s", lic.Key, lic.Status)
	if err := m.audit.LogAudit(context.WithoutCancel(ctx), action, details, actor, ""); err != nil {
		m.logger.Warnf("audit %s failed: %v", action, err)
	}
}

func invalid(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
