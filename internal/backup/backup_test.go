package backup_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/internal/backup"
	"licensehub/internal/catalog"
	"licensehub/internal/memstore"
)

type auditEntry struct {
	Action, Details, ActorID, Address string
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
	err     error
}

func (f *fakeAudit) LogAudit(_ context.Context, action, details, actorID, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, auditEntry{action, details, actorID, address})
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	store   *memstore.Store
	files   *backup.FileStore
	audit   *fakeAudit
	service *backup.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := memstore.New(catalog.Default, memstore.DefaultForeignKeys)
	require.NoError(t, err)
	files, err := backup.NewFileStore(t.TempDir())
	require.NoError(t, err)

	audit := &fakeAudit{}
	svc, err := backup.NewService(backup.ServiceConfig{
		Store: store,
		Files: files,
		Audit: audit,
	})
	require.NoError(t, err)

	return &fixture{store: store, files: files, audit: audit, service: svc}
}

var admin = backup.Actor{ID: "admin-1", Address: "127.0.0.1"}

// seed loads 2 users, 1 plan with 2 prices and 1 license.
func seed(t *testing.T, store backup.Store) {
	t.Helper()
	ctx := context.Background()

	err := store.Replace(ctx, func(w backup.Writer) error {
		steps := []struct {
			entity  string
			records []backup.Record
		}{
			{catalog.Currencies, []backup.Record{
				{"id": "USD", "name": "US Dollar", "symbol": "$", "rate": 1.0},
			}},
			{catalog.Users, []backup.Record{
				{"id": "u1", "email": "ana@example.com", "password_hash": "$2a$10$secret", "role": "admin"},
				{"id": "u2", "email": "ben@example.com", "password_hash": "$2a$10$other", "role": "user"},
			}},
			{catalog.SystemSettings, []backup.Record{
				{"id": "maintenance_mode", "value": "false"},
			}},
		}
		for _, s := range steps {
			e, _ := catalog.Default.Lookup(s.entity)
			if err := w.InsertMany(ctx, e, s.records); err != nil {
				return err
			}
		}

		plans, _ := catalog.Default.Lookup(catalog.Plans)
		if err := w.InsertNested(ctx, plans, backup.Record{
			"id":            "p1",
			"name":          "Clinic Pro",
			"duration_days": 30,
			"currency_id":   "USD",
			"prices": []backup.Record{
				{"id": "pp1", "currency_id": "USD", "amount": 49.5},
				{"id": "pp2", "currency_id": "USD", "amount": 499},
			},
		}); err != nil {
			return err
		}

		licenses, _ := catalog.Default.Lookup(catalog.Licenses)
		return w.InsertMany(ctx, licenses, []backup.Record{
			{"id": "l1", "key": "LH-AAAA-BBBB-CCCC-DDDD", "plan_id": "p1", "user_id": "u1", "status": "active"},
		})
	})
	require.NoError(t, err)
}

func counts(t *testing.T, store *memstore.Store) map[string]int {
	t.Helper()
	out := map[string]int{}
	for _, table := range []string{
		"currencies", "users", "system_settings", "remote_configs", "plans", "plan_prices",
		"licenses", "transactions", "notifications", "audit_logs",
		"support_tickets", "ticket_replies", "ticket_attachments",
	} {
		n, err := store.Count(table)
		require.NoError(t, err)
		out[table] = n
	}
	return out
}

// dataJSON captures the store and returns its data section as JSON.
func dataJSON(t *testing.T, store backup.Store) string {
	t.Helper()
	doc, err := backup.NewBuilder(catalog.Default, store).Capture(context.Background())
	require.NoError(t, err)
	data, err := json.Marshal(doc.Data)
	require.NoError(t, err)
	return string(data)
}

func TestCaptureConcreteScenario(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)

	doc, err := backup.NewBuilder(catalog.Default, f.store).Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, backup.FormatVersion, doc.Version)
	assert.Equal(t, catalog.Default.RestoreCreateOrder(), doc.Data.Names())

	plans, ok := doc.Data.Get(catalog.Plans)
	require.True(t, ok)
	require.Len(t, plans, 1)
	prices, err := plans[0].Children("prices")
	require.NoError(t, err)
	assert.Len(t, prices, 2)

	users, _ := doc.Data.Get(catalog.Users)
	assert.Len(t, users, 2)
	assert.Equal(t, "$2a$10$secret", users[0]["password_hash"], "captures are not redacted")

	tickets, ok := doc.Data.Get(catalog.SupportTickets)
	assert.True(t, ok)
	assert.Empty(t, tickets)
}

func TestRestoreIntoEmptyStore(t *testing.T) {
	src := newFixture(t)
	seed(t, src.store)

	name, err := src.service.Create(context.Background(), admin)
	require.NoError(t, err)

	dst, err := memstore.New(catalog.Default, memstore.DefaultForeignKeys)
	require.NoError(t, err)
	restorer := backup.NewRestorer(catalog.Default, dst, src.files, nil)

	result, err := restorer.Restore(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, name, result.Filename)
	assert.Equal(t, 2, result.Created[catalog.Users])
	assert.Equal(t, 1, result.Created[catalog.Plans])
	assert.NotContains(t, result.Created, catalog.SupportTickets)

	c := counts(t, dst)
	assert.Equal(t, 2, c["users"])
	assert.Equal(t, 1, c["plans"])
	assert.Equal(t, 2, c["plan_prices"])
	assert.Equal(t, 1, c["licenses"])
	assert.Equal(t, 0, c["support_tickets"])
}

func TestRoundTrip(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	before := dataJSON(t, f.store)

	name, err := f.service.Create(context.Background(), admin)
	require.NoError(t, err)

	// Mutate the store so the restore has something to undo.
	err = f.store.Replace(context.Background(), func(w backup.Writer) error {
		users, _ := catalog.Default.Lookup(catalog.Users)
		return w.InsertMany(context.Background(), users, []backup.Record{{"id": "u3"}})
	})
	require.NoError(t, err)
	require.NotEqual(t, before, dataJSON(t, f.store))

	_, err = backup.NewRestorer(catalog.Default, f.store, f.files, nil).Restore(context.Background(), name)
	require.NoError(t, err)

	assert.JSONEq(t, before, dataJSON(t, f.store))
}

func TestRestoreIsAtomic(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	before := dataJSON(t, f.store)
	beforeCounts := counts(t, f.store)

	doc, err := backup.NewBuilder(catalog.Default, f.store).Capture(context.Background())
	require.NoError(t, err)

	// A duplicate key late in the create pass forces a rollback after the
	// delete pass and several inserts already happened.
	doc.Data.Set(catalog.Notifications, []backup.Record{
		{"id": "n1", "user_id": "u1"},
		{"id": "n1", "user_id": "u2"},
	})

	restorer := backup.NewRestorer(catalog.Default, f.store, f.files, nil)
	_, err = restorer.RestoreDocument(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrRestoreFailed)
	assert.Contains(t, err.Error(), "duplicate id n1")

	assert.Equal(t, beforeCounts, counts(t, f.store))
	assert.JSONEq(t, before, dataJSON(t, f.store))
}

func TestRestoreEmptyGroups(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)

	doc := backup.NewDocument(time.Now())
	doc.Data.Set(catalog.Users, []backup.Record{{"id": "only"}})
	doc.Data.Set(catalog.SupportTickets, nil)

	result, err := backup.NewRestorer(catalog.Default, f.store, f.files, nil).RestoreDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{catalog.Users: 1}, result.Created)

	c := counts(t, f.store)
	assert.Equal(t, 1, c["users"])
	assert.Equal(t, 0, c["support_tickets"])
	assert.Equal(t, 0, c["licenses"])
	assert.Equal(t, 0, c["plan_prices"])
}

func TestRestoreNestedTickets(t *testing.T) {
	f := newFixture(t)

	doc := backup.NewDocument(time.Now())
	doc.Data.Set(catalog.Users, []backup.Record{{"id": "u1"}})
	doc.Data.Set(catalog.SupportTickets, []backup.Record{{
		"id":      "t1",
		"user_id": "u1",
		"subject": "Cannot activate",
		"replies": []any{
			map[string]any{"id": "r1", "user_id": "u1", "body": "Any update?"},
		},
		"attachments": []any{
			map[string]any{"id": "a1", "reply_id": "r1", "file_name": "screen.png"},
		},
	}})

	_, err := backup.NewRestorer(catalog.Default, f.store, f.files, nil).RestoreDocument(context.Background(), doc)
	require.NoError(t, err)

	c := counts(t, f.store)
	assert.Equal(t, 1, c["support_tickets"])
	assert.Equal(t, 1, c["ticket_replies"])
	assert.Equal(t, 1, c["ticket_attachments"])
}

func TestRestoreMissingFile(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	before := counts(t, f.store)

	_, err := f.service.Restore(context.Background(), "missing-file.json", admin)
	require.Error(t, err)
	assert.ErrorIs(t, err, backup.ErrNotFound)

	var be *backup.Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "missing-file.json", be.Filename)

	assert.Equal(t, before, counts(t, f.store))
	assert.Empty(t, f.audit.actions())
}

func TestRestoreRejectsInvalidDocuments(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	before := counts(t, f.store)

	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(f.files.Dir(), name), []byte(content), 0600))
	}
	write("corrupt.json", `{"version": "1.0", "data": {`)
	write("nousers.json", `{"version": "1.0", "timestamp": "2024-01-01T00:00:00Z", "data": {"plans": []}}`)
	write("nullusers.json", `{"version": "1.0", "data": {"users": null}}`)
	write("future.json", `{"version": "2.0", "data": {"users": []}}`)

	tests := []struct {
		name string
		kind error
	}{
		{"corrupt.json", backup.ErrCorrupt},
		{"nousers.json", backup.ErrInvalidFormat},
		{"nullusers.json", backup.ErrInvalidFormat},
		{"future.json", backup.ErrInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Restore(context.Background(), tt.name, admin)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	assert.Equal(t, before, counts(t, f.store))
	assert.Empty(t, f.audit.actions())
}

func TestRestoreWarnsOnUnknownGroups(t *testing.T) {
	f := newFixture(t)

	doc := backup.NewDocument(time.Now())
	doc.Data.Set(catalog.Users, []backup.Record{{"id": "u1"}})
	doc.Data.Set("clinics", []backup.Record{{"id": "c1"}})

	result, err := backup.NewRestorer(catalog.Default, f.store, f.files, nil).RestoreDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "clinics")
}

func TestRestoreHonorsCancellationBeforeStart(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	doc := backup.NewDocument(time.Now())
	doc.Data.Set(catalog.Users, nil)
	_, err := backup.NewRestorer(catalog.Default, f.store, f.files, nil).RestoreDocument(ctx, doc)
	assert.ErrorIs(t, err, backup.ErrRestoreFailed)
	assert.Equal(t, 2, counts(t, f.store)["users"], "a cancelled request never starts the wipe")
}

func TestServiceAuditsMutations(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	ctx := context.Background()

	name, err := f.service.Create(ctx, admin)
	require.NoError(t, err)
	_, err = f.service.Restore(ctx, name, admin)
	require.NoError(t, err)
	uploaded, err := f.service.Upload(ctx, strings.NewReader(`{}`), "external.json", admin)
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, uploaded, admin))

	assert.Equal(t, []string{
		backup.ActionCreate, backup.ActionRestore, backup.ActionUpload, backup.ActionDelete,
	}, f.audit.actions())
	assert.Equal(t, "admin-1", f.audit.entries[0].ActorID)
	assert.Equal(t, "127.0.0.1", f.audit.entries[0].Address)
	assert.Contains(t, f.audit.entries[1].Details, name)
}

func TestServiceAuditFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	f.audit.err = errors.New("audit down")

	name, err := f.service.Create(context.Background(), admin)
	require.NoError(t, err)
	assert.NotEmpty(t, name)
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Upload(context.Background(), strings.NewReader(`{"data":{}}`), "backup.txt", admin)
	assert.ErrorIs(t, err, backup.ErrValidationFailed)

	entries, err := os.ReadDir(f.files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, f.audit.actions())
}

func TestUploadRejectsPaths(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"../escape.json", "sub/dir.json", `..\win.json`, ".hidden.json", ".json", ""} {
		_, err := f.files.Upload(strings.NewReader("{}"), name)
		assert.ErrorIs(t, err, backup.ErrValidationFailed, name)
	}
}

func TestListExcludesForeignFiles(t *testing.T) {
	f := newFixture(t)
	dir := f.files.Dir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".partial.json"), []byte("x"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0700))

	older := filepath.Join(dir, "backup-older.json")
	newer := filepath.Join(dir, "backup-newer.json")
	require.NoError(t, os.WriteFile(older, []byte("{}"), 0600))
	require.NoError(t, os.WriteFile(newer, []byte("{}"), 0600))
	now := time.Now()
	require.NoError(t, os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newer, now, now))

	files, err := f.service.List()
	require.NoError(t, err)

	var names []string
	for _, fi := range files {
		names = append(names, fi.Filename)
	}
	assert.Equal(t, []string{"backup-newer.json", "backup-older.json"}, names)
	assert.Equal(t, int64(2), files[0].SizeBytes)
}

func TestWriteNamesAndCollisions(t *testing.T) {
	f := newFixture(t)

	ts := time.Date(2024, 3, 1, 10, 20, 30, 123_000_000, time.UTC)
	doc := backup.NewDocument(ts)
	doc.Data.Set(catalog.Users, nil)

	first, err := f.files.Write(doc)
	require.NoError(t, err)
	assert.Equal(t, "backup-2024-03-01T10-20-30-123Z.json", first)

	second, err := f.files.Write(doc)
	require.NoError(t, err)
	assert.Equal(t, "backup-2024-03-01T10-20-30-123Z-1.json", second)

	entries, err := os.ReadDir(f.files.Dir())
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{first, second}, names, "no temp files are left behind")
}

func TestDeleteAndDownload(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store)
	ctx := context.Background()

	name, err := f.service.Create(ctx, admin)
	require.NoError(t, err)

	rc, info, err := f.service.Download(name)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	onDisk, err := os.ReadFile(filepath.Join(f.files.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, onDisk, buf.Bytes())
	assert.Equal(t, int64(len(onDisk)), info.SizeBytes)

	require.NoError(t, f.service.Delete(ctx, name, admin))
	assert.ErrorIs(t, f.service.Delete(ctx, name, admin), backup.ErrNotFound)

	_, _, err = f.service.Download(name)
	assert.ErrorIs(t, err, backup.ErrNotFound)
}
