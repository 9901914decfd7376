package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/domain"
)

// ErrInvalidUsage is returned for non-positive usage increments.
var ErrInvalidUsage = errors.New("usage seconds must be positive")

// Ledger accumulates per-domain active time and rolls it into a bounded
// daily history.
type Ledger struct {
	store  UsageStore
	limit  int
	logger log.Logger
}

// NewLedger returns a Ledger keeping at most limit days of history. A
// non-positive limit means domain.MaxUsageHistory.
func NewLedger(store UsageStore, limit int, logger log.Logger) *Ledger {
	if limit <= 0 {
		limit = domain.MaxUsageHistory
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Ledger{store: store, limit: limit, logger: logger}
}

// RecordUsage adds seconds of active time to the normalized domain and
// returns its running total for today.
func (l *Ledger) RecordUsage(ctx context.Context, raw string, seconds int64) (int64, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidUsage, seconds)
	}
	name, err := domain.NormalizeDomain(raw)
	if err != nil {
		return 0, err
	}
	total, err := l.store.AddUsage(ctx, name, seconds)
	if err != nil {
		return 0, fmt.Errorf("record usage: %w", err)
	}
	return total, nil
}

// Report returns today's counters and the stored history.
func (l *Ledger) Report(ctx context.Context) (domain.UsageReport, error) {
	today, err := l.store.Usage(ctx)
	if err != nil {
		return domain.UsageReport{}, fmt.Errorf("read usage: %w", err)
	}
	history, err := l.store.UsageHistory(ctx)
	if err != nil {
		return domain.UsageReport{}, fmt.Errorf("read usage history: %w", err)
	}
	if history == nil {
		history = []domain.UsageSnapshot{}
	}
	return domain.UsageReport{Today: today, History: history}, nil
}

// Rollover files today's counters under date and clears them.
func (l *Ledger) Rollover(ctx context.Context, date string) error {
	snap, err := l.store.RollOverUsage(ctx, date, l.limit)
	if err != nil {
		return fmt.Errorf("roll over usage: %w", err)
	}
	l.logger.Info(map[string]any{
		"date":    snap.Date,
		"domains": len(snap.Data),
	}, "daily usage rolled over")
	return nil
}
