package license

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/internal/database"
)

type recordingAudit struct {
	actions []string
}

func (a *recordingAudit) LogAudit(_ context.Context, action, _, _, _ string) error {
	a.actions = append(a.actions, action)
	return nil
}

type fixture struct {
	db    *sql.DB
	m     *Manager
	audit *recordingAudit
	clock time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "license.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, email) VALUES ('u1', 'a@example.com')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO plans (id, name, duration_days, max_devices) VALUES ('p1', 'Clinic', 30, 3)`)
	require.NoError(t, err)

	f := &fixture{db: db, audit: &recordingAudit{}, clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.m = NewManager(db, Config{KeyPrefix: "clin", Audit: f.audit})
	f.m.now = func() time.Time { return f.clock }
	return f
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey("LH")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^LH(-[A-HJ-NP-Z2-9]{4}){4}$`), key)

	other, err := GenerateKey("LH")
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	bare, err := GenerateKey("")
	require.NoError(t, err)
	assert.Len(t, bare, 19)
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic, err := f.m.Generate(ctx, GenerateRequest{PlanID: "p1", UserID: "u1"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, lic.Status)
	assert.Equal(t, 3, lic.MaxDevices, "defaults to plan limit")
	assert.Regexp(t, `^CLIN-`, lic.Key)

	stored, err := f.m.GetByKey(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, stored.ID)
	assert.Equal(t, "u1", stored.UserID)

	_, err = f.m.Generate(ctx, GenerateRequest{PlanID: "missing"}, "admin")
	assert.ErrorIs(t, err, ErrPlanNotFound)

	assert.Equal(t, []string{ActionGenerate}, f.audit.actions)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic, err := f.m.Generate(ctx, GenerateRequest{PlanID: "p1"}, "admin")
	require.NoError(t, err)

	// Activation starts the plan term.
	active, err := f.m.Activate(ctx, lic.Key, "device-1", "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, active.Status)
	assert.Equal(t, f.clock.AddDate(0, 0, 30), *active.ExpiresAt)

	// Same device again is a no-op, another device is refused.
	_, err = f.m.Activate(ctx, lic.Key, "device-1", "admin")
	require.NoError(t, err)
	_, err = f.m.Activate(ctx, lic.Key, "device-2", "admin")
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	// Pausing freezes the remaining time.
	f.advance(10 * 24 * time.Hour)
	paused, err := f.m.Pause(ctx, lic.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)
	require.NotNil(t, paused.RemainingSeconds)
	assert.Equal(t, int64(20*24*3600), *paused.RemainingSeconds)

	_, err = f.m.Pause(ctx, lic.ID, "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	f.advance(100 * 24 * time.Hour)
	resumed, err := f.m.Resume(ctx, lic.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, resumed.Status)
	assert.Equal(t, f.clock.Add(20*24*time.Hour), *resumed.ExpiresAt)
	assert.Nil(t, resumed.RemainingSeconds)

	revoked, err := f.m.Revoke(ctx, lic.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, revoked.Status)

	for _, op := range []func(context.Context, string, string) (*License, error){f.m.Pause, f.m.Resume, f.m.Revoke} {
		_, err := op(ctx, lic.ID, "admin")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	}
	_, err = f.m.Renew(ctx, lic.ID, RenewRequest{Days: 5}, "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, []string{
		ActionGenerate, ActionActivate, ActionPause, ActionResume, ActionRevoke,
	}, f.audit.actions)
}

func TestRenew(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic, err := f.m.Generate(ctx, GenerateRequest{PlanID: "p1", UserID: "u1"}, "admin")
	require.NoError(t, err)
	_, err = f.m.Renew(ctx, lic.ID, RenewRequest{Days: 5}, "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition, "inactive licenses are activated, not renewed")

	active, err := f.m.Activate(ctx, lic.Key, "d", "admin")
	require.NoError(t, err)

	// Active: extends from the current expiry.
	renewed, err := f.m.Renew(ctx, lic.ID, RenewRequest{Days: 10, Amount: 49.5, Reference: "inv-1"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, active.ExpiresAt.AddDate(0, 0, 10), *renewed.ExpiresAt)

	// Expired: extends from now and reactivates.
	f.advance(60 * 24 * time.Hour)
	n, err := f.m.ExpireDue(ctx, f.clock)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	renewed, err = f.m.Renew(ctx, lic.ID, RenewRequest{Days: 7}, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, renewed.Status)
	assert.Equal(t, f.clock.AddDate(0, 0, 7), *renewed.ExpiresAt)

	var count int
	var amount float64
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*), SUM(amount) FROM transactions WHERE license_id = ? AND type = 'renewal'`, lic.ID).
		Scan(&count, &amount))
	assert.Equal(t, 2, count)
	assert.InDelta(t, 49.5, amount, 0.001)
}

func TestRenewPausedBanksDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lic, _ := f.m.Generate(ctx, GenerateRequest{PlanID: "p1"}, "admin")
	_, err := f.m.Activate(ctx, lic.Key, "d", "admin")
	require.NoError(t, err)
	_, err = f.m.Pause(ctx, lic.ID, "admin")
	require.NoError(t, err)

	renewed, err := f.m.Renew(ctx, lic.ID, RenewRequest{Days: 1}, "admin")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, renewed.Status)
	assert.Equal(t, int64(31*24*3600), *renewed.RemainingSeconds)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		lic, err := f.m.Generate(ctx, GenerateRequest{PlanID: "p1"}, "admin")
		require.NoError(t, err)
		ids = append(ids, lic.ID)
	}
	for _, id := range ids[:2] {
		lic, err := f.m.Get(ctx, id)
		require.NoError(t, err)
		_, err = f.m.Activate(ctx, lic.Key, "d", "admin")
		require.NoError(t, err)
	}
	_, err := f.m.Pause(ctx, ids[1], "admin")
	require.NoError(t, err)

	// Not yet due.
	n, err := f.m.ExpireDue(ctx, f.clock.AddDate(0, 0, 29))
	require.NoError(t, err)
	assert.Zero(t, n)

	// Due exactly at expiry. Paused and inactive licenses are untouched.
	n, err = f.m.ExpireDue(ctx, f.clock.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := f.m.List(ctx, StatusExpired)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, ids[0], expired[0].ID)

	all, err := f.m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.m.Activate(ctx, "CLIN-AAAA-AAAA-AAAA-AAAA", "d", "admin")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.m.Revoke(ctx, "nope", "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}
