package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const selectLicense = `
	SELECT id, key, plan_id, user_id, status, device_id, max_devices,
		activated_at, expires_at, paused_at, remaining_seconds, revoked_at,
		created_at, updated_at
	FROM licenses`

type scanner interface {
	Scan(dest ...any) error
}

func scanLicense(s scanner) (*License, error) {
	var (
		lic                                 License
		status                              string
		planID, userID, deviceID            sql.NullString
		activated, expires, paused, revoked sql.NullString
		created, updated                    sql.NullString
		remaining                           sql.NullInt64
	)
	err := s.Scan(&lic.ID, &lic.Key, &planID, &userID, &status, &deviceID, &lic.MaxDevices,
		&activated, &expires, &paused, &remaining, &revoked, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan license: %w", err)
	}

	lic.Status = Status(status)
	lic.PlanID = planID.String
	lic.UserID = userID.String
	lic.DeviceID = deviceID.String
	lic.ActivatedAt = parseTimePtr(activated)
	lic.ExpiresAt = parseTimePtr(expires)
	lic.PausedAt = parseTimePtr(paused)
	lic.RevokedAt = parseTimePtr(revoked)
	if remaining.Valid {
		v := remaining.Int64
		lic.RemainingSeconds = &v
	}
	if t := parseTimePtr(created); t != nil {
		lic.CreatedAt = *t
	}
	if t := parseTimePtr(updated); t != nil {
		lic.UpdatedAt = *t
	}
	return &lic, nil
}

func updateLicense(ctx context.Context, tx *sql.Tx, lic *License) error {
	var remaining any
	if lic.RemainingSeconds != nil {
		remaining = *lic.RemainingSeconds
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE licenses SET status = ?, device_id = ?, activated_at = ?, expires_at = ?,
			paused_at = ?, remaining_seconds = ?, revoked_at = ?, updated_at = ?
		WHERE id = ?`,
		string(lic.Status), nullString(lic.DeviceID), formatTimePtr(lic.ActivatedAt),
		formatTimePtr(lic.ExpiresAt), formatTimePtr(lic.PausedAt), remaining,
		formatTimePtr(lic.RevokedAt), formatTime(lic.UpdatedAt), lic.ID)
	if err != nil {
		return fmt.Errorf("update license %s: %w", lic.ID, err)
	}
	return nil
}

type plan struct {
	durationDays int
	maxDevices   int
}

func loadPlan(ctx context.Context, tx *sql.Tx, id string) (plan, error) {
	var p plan
	err := tx.QueryRowContext(ctx, `SELECT duration_days, max_devices FROM plans WHERE id = ?`, id).
		Scan(&p.durationDays, &p.maxDevices)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
		}
		return plan{}, fmt.Errorf("load plan: %w", err)
	}
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseTimePtr also accepts RFC 3339 values written by restores of older
// snapshots.
func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
