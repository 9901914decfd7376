package bolt

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/focusflow/internal/focus/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(Options{Path: filepath.Join(t.TempDir(), "state.db"), DefaultTimezone: "UTC"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_Defaults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	enabled, err := st.ExtensionEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled, "gate defaults to enabled")

	sites, err := st.BlockedSites(ctx)
	require.NoError(t, err)
	assert.Empty(t, sites)

	schedules, err := st.Schedules(ctx)
	require.NoError(t, err)
	assert.NotNil(t, schedules)
	assert.Empty(t, schedules)

	tz, err := st.Timezone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz)

	usage, err := st.Usage(ctx)
	require.NoError(t, err)
	assert.NotNil(t, usage)

	history, err := st.UsageHistory(ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_DefaultTimezoneFallsBackToHost(t *testing.T) {
	st, err := New(Options{Path: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	defer st.Close()

	tz, err := st.Timezone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Local.String(), tz)
}

func TestStore_RoundTripsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	st, err := New(Options{Path: path})
	require.NoError(t, err)

	require.NoError(t, st.SetExtensionEnabled(ctx, false))
	require.NoError(t, st.SetTimezone(ctx, "Europe/Paris"))
	require.NoError(t, st.SetBlockedSites(ctx, []string{"a.com", "b.com", "a.com"}))
	sched := domain.BlockSchedule{Enabled: true, StartTime: "08:00", EndTime: "18:00"}
	require.NoError(t, st.SetSchedules(ctx, map[string]domain.BlockSchedule{"a.com": sched}))
	require.NoError(t, st.Close())

	// reopen to prove values survived
	st, err = New(Options{Path: path})
	require.NoError(t, err)
	defer st.Close()

	enabled, err := st.ExtensionEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)

	tz, err := st.Timezone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", tz)

	sites, err := st.BlockedSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, sites, "duplicates are dropped, order kept")

	schedules, err := st.Schedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.BlockSchedule{"a.com": sched}, schedules)
}

func TestStore_SetBlockList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetBlockList(ctx,
		[]string{"a.com", "b.com"},
		map[string]domain.BlockSchedule{"a.com": domain.DefaultSchedule(), "b.com": domain.DefaultSchedule()},
	))
	require.NoError(t, st.SetBlockList(ctx,
		[]string{"b.com"},
		map[string]domain.BlockSchedule{"b.com": domain.DefaultSchedule()},
	))

	sites, err := st.BlockedSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.com"}, sites)
	schedules, err := st.Schedules(ctx)
	require.NoError(t, err)
	assert.NotContains(t, schedules, "a.com")
	assert.Contains(t, schedules, "b.com")
}

func TestStore_SeedTimezone(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	seeded, err := st.SeedTimezone(ctx, "Asia/Tokyo")
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = st.SeedTimezone(ctx, "America/Chicago")
	require.NoError(t, err)
	assert.False(t, seeded, "an existing timezone must not be overwritten")

	tz, err := st.Timezone(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", tz)
}

func TestStore_UsageCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	total, err := st.AddUsage(ctx, "a.com", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	total, err = st.AddUsage(ctx, "a.com", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	_, err = st.AddUsage(ctx, "b.com", 1)
	require.NoError(t, err)

	usage, err := st.Usage(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a.com": 12, "b.com": 1}, usage)
}

func TestStore_RollOverUsage_BoundsHistory(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 31; i++ {
		_, err := st.AddUsage(ctx, "a.com", int64(i+1))
		require.NoError(t, err)
		snap, err := st.RollOverUsage(ctx, domain.DateKey(start.AddDate(0, 0, i)), domain.MaxUsageHistory)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), snap.Data["a.com"])

		usage, err := st.Usage(ctx)
		require.NoError(t, err)
		assert.Empty(t, usage, "counters are cleared after rollover")
	}

	history, err := st.UsageHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 30)
	assert.Equal(t, "2025-01-02", history[0].Date)
	assert.Equal(t, int64(2), history[0].Data["a.com"])
	assert.Equal(t, "2025-01-31", history[29].Date)
}

func TestStore_CancelledContext(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := st.BlockedSites(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, st.SetExtensionEnabled(ctx, false), context.Canceled)
	assert.ErrorIs(t, st.SetBlockList(ctx, nil, nil), context.Canceled)
	_, err = st.AddUsage(ctx, "a.com", 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = st.RollOverUsage(ctx, "2025-01-01", 30)
	assert.ErrorIs(t, err, context.Canceled)

	enabled, err := st.ExtensionEnabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled, "cancelled write must not change state")
}

func TestStore_CorruptValue(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocking).Put(keyBlockedSites, []byte("{not json"))
	}))
	_, err := st.BlockedSites(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode blockedSites")
}

type fakeBucketCreator struct {
	errs map[string]error
}

func (f fakeBucketCreator) CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error) {
	if err := f.errs[string(name)]; err != nil {
		return nil, err
	}
	return nil, nil
}

func TestNew_EnsureBucketsErrors(t *testing.T) {
	for _, b := range [][]byte{bucketSettings, bucketBlocking, bucketUsage} {
		t.Run(string(b), func(t *testing.T) {
			old := ensureBucketsFn
			ensureBucketsFn = func(tx bucketCreator) error {
				return ensureBuckets(fakeBucketCreator{errs: map[string]error{string(b): errors.New("boom")}})
			}
			defer func() { ensureBucketsFn = old }()

			st, err := New(Options{Path: filepath.Join(t.TempDir(), "state.db")})
			require.Error(t, err)
			assert.Nil(t, st)
			assert.Contains(t, err.Error(), fmt.Sprintf("create bucket %s", b))
		})
	}
}

func TestNew_LockedFileTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first, err := New(Options{Path: path})
	require.NoError(t, err)
	defer first.Close()

	_, err = New(Options{Path: path, Timeout: 50 * time.Millisecond})
	require.Error(t, err, "a second opener must not get the file lock")
}
