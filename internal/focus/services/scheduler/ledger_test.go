package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/focusflow/internal/focus/domain"
)

func TestLedger_RecordUsage(t *testing.T) {
	store := newMemStore()
	l := NewLedger(store, 0, nil)
	ctx := context.Background()

	total, err := l.RecordUsage(ctx, "https://www.Example.com/feed", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	total, err = l.RecordUsage(ctx, "example.com", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)

	_, err = l.RecordUsage(ctx, "example.com", 0)
	assert.ErrorIs(t, err, ErrInvalidUsage)

	_, err = l.RecordUsage(ctx, "not a domain", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)
}

func TestLedger_RecordUsage_StoreError(t *testing.T) {
	store := newMemStore()
	store.writeErr = errors.New("disk full")
	_, err := NewLedger(store, 0, nil).RecordUsage(context.Background(), "a.com", 1)
	assert.ErrorContains(t, err, "disk full")
}

func TestLedger_RolloverKeepsThirtyDays(t *testing.T) {
	store := newMemStore()
	l := NewLedger(store, 0, nil)
	ctx := context.Background()

	for day := 1; day <= 31; day++ {
		_, err := l.RecordUsage(ctx, "a.com", int64(day))
		require.NoError(t, err)
		require.NoError(t, l.Rollover(ctx, fmt.Sprintf("2024-01-%02d", day)))
	}

	report, err := l.Report(ctx)
	require.NoError(t, err)
	require.Len(t, report.History, domain.MaxUsageHistory)
	assert.Equal(t, "2024-01-02", report.History[0].Date, "oldest entry evicted first")
	assert.Equal(t, "2024-01-31", report.History[29].Date)
	assert.Equal(t, int64(31), report.History[29].Data["a.com"])
	assert.Empty(t, report.Today, "counters cleared after rollover")
}

func TestLedger_RolloverSameDateReplaces(t *testing.T) {
	store := newMemStore()
	l := NewLedger(store, 3, nil)
	ctx := context.Background()

	_, _ = l.RecordUsage(ctx, "a.com", 10)
	require.NoError(t, l.Rollover(ctx, "2024-03-01"))
	_, _ = l.RecordUsage(ctx, "b.com", 20)
	require.NoError(t, l.Rollover(ctx, "2024-03-01"))

	history := store.historySnapshot()
	require.Len(t, history, 1)
	assert.Equal(t, map[string]int64{"b.com": 20}, history[0].Data)
}

func TestLedger_ReportEmpty(t *testing.T) {
	report, err := NewLedger(newMemStore(), 0, nil).Report(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, report.History)
	assert.Empty(t, report.History)
	assert.Empty(t, report.Today)
}

func TestLedger_ReportError(t *testing.T) {
	store := newMemStore()
	store.readErr = errors.New("closed")
	_, err := NewLedger(store, 0, nil).Report(context.Background())
	assert.ErrorContains(t, err, "read usage")
}
