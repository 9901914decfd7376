package scheduler

import (
	"context"

	"github.com/haukened/focusflow/internal/focus/domain"
)

// StateStore persists the blocking state the scheduler reconciles from.
type StateStore interface {
	ExtensionEnabled(ctx context.Context) (bool, error)
	SetExtensionEnabled(ctx context.Context, enabled bool) error
	Timezone(ctx context.Context) (string, error)
	SetTimezone(ctx context.Context, tz string) error
	BlockedSites(ctx context.Context) ([]string, error)
	Schedules(ctx context.Context) (map[string]domain.BlockSchedule, error)
	SetSchedules(ctx context.Context, schedules map[string]domain.BlockSchedule) error
	// SetBlockList writes membership and schedules in one transaction.
	SetBlockList(ctx context.Context, sites []string, schedules map[string]domain.BlockSchedule) error
}

// UsageStore holds today's counters and the bounded daily history.
type UsageStore interface {
	Usage(ctx context.Context) (map[string]int64, error)
	AddUsage(ctx context.Context, name string, seconds int64) (int64, error)
	UsageHistory(ctx context.Context) ([]domain.UsageSnapshot, error)
	RollOverUsage(ctx context.Context, date string, limit int) (domain.UsageSnapshot, error)
}

// RuleTable is the filtering mechanism the synchronizer drives.
type RuleTable interface {
	ListRules(ctx context.Context) ([]domain.ActiveRule, error)
	ReplaceRules(ctx context.Context, update domain.RuleUpdate) error
}
