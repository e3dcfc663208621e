package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licensehub/internal/backup"
	"licensehub/internal/database"
)

type fakeCreator struct {
	calls atomic.Int32
	actor backup.Actor
	err   error
}

func (f *fakeCreator) Create(_ context.Context, actor backup.Actor) (string, error) {
	f.calls.Add(1)
	f.actor = actor
	if f.err != nil {
		return "", f.err
	}
	return "backup-x.json", nil
}

type fakeSweeper struct {
	at time.Time
	n  int
}

func (f *fakeSweeper) ExpireDue(_ context.Context, now time.Time) (int, error) {
	f.at = now
	return f.n, nil
}

func TestValidateSchedule(t *testing.T) {
	for _, spec := range []string{"", "0 3 * * *", "*/30 * * * * *", "@daily", "@every 1h"} {
		assert.NoError(t, ValidateSchedule(spec), spec)
	}
	for _, spec := range []string{"tomorrow", "61 * * * *", "* * *"} {
		assert.Error(t, ValidateSchedule(spec), spec)
	}
}

func TestRegisterAndStatuses(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Register(NewBackupJob(&fakeCreator{}, &backup.Lock{}), "0 3 * * *"))
	require.NoError(t, s.Register(NewLicenseExpiryJob(&fakeSweeper{}), ""))

	assert.Error(t, s.Register(NewLicenseExpiryJob(&fakeSweeper{}), "@hourly"), "duplicate name")
	assert.Error(t, s.Register(NewDatabaseUpkeepJob(nil), "not a schedule"))

	require.NoError(t, s.Start())
	defer s.Stop(context.Background())
	assert.Error(t, s.Start())
	assert.True(t, s.IsRunning())

	statuses := s.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, JobBackup, statuses[0].Name)
	assert.True(t, statuses[0].Enabled)
	assert.NotNil(t, statuses[0].NextRun)
	assert.Equal(t, JobLicenseExpiry, statuses[1].Name)
	assert.False(t, statuses[1].Enabled)
	assert.Nil(t, statuses[1].NextRun)
}

func TestBackupJob(t *testing.T) {
	creator := &fakeCreator{}
	lock := &backup.Lock{}
	s := New(Config{})
	require.NoError(t, s.Register(NewBackupJob(creator, lock), ""))

	result, err := s.RunNow(context.Background(), JobBackup)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, SchedulerActor, creator.actor.ID)

	// A held lock skips the run instead of waiting.
	release, err := lock.Acquire()
	require.NoError(t, err)
	result, err = s.RunNow(context.Background(), JobBackup)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Message, "skipped")
	assert.Equal(t, int32(1), creator.calls.Load())
	release()

	creator.err = errors.New("disk full")
	result, err = s.RunNow(context.Background(), JobBackup)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.EqualError(t, result.Error, "disk full")

	st := s.Statuses()[0]
	require.NotNil(t, st.LastResult)
	assert.False(t, st.LastResult.Success)
	assert.NotNil(t, st.LastRun)

	_, err = s.RunNow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestLicenseExpiryJob(t *testing.T) {
	sweeper := &fakeSweeper{n: 4}
	job := NewLicenseExpiryJob(sweeper)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return at }

	result := job.Run(context.Background())
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Processed)
	assert.Equal(t, at, sweeper.at)
}

func TestDatabaseUpkeepJob(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "upkeep.db"))
	require.NoError(t, err)
	defer db.Close()

	result := NewDatabaseUpkeepJob(db).Run(context.Background())
	assert.True(t, result.Success, result.Message)
	assert.Contains(t, result.Message, "database ok")
}

func TestScheduledJobFires(t *testing.T) {
	creator := &fakeCreator{}
	s := New(Config{})
	require.NoError(t, s.Register(NewBackupJob(creator, &backup.Lock{}), "@every 1s"))
	require.NoError(t, s.Start())
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return creator.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
