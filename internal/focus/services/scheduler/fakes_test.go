package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/haukened/focusflow/internal/focus/domain"
)

// memStore is an in-memory StateStore and UsageStore.
type memStore struct {
	mu        sync.Mutex
	enabled   bool
	tz        string
	sites     []string
	schedules map[string]domain.BlockSchedule
	usage     map[string]int64
	history   []domain.UsageSnapshot

	readErr  error
	tzErr    error
	writeErr error
	writes   int
}

var (
	_ StateStore = (*memStore)(nil)
	_ UsageStore = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		enabled:   true,
		tz:        "UTC",
		schedules: map[string]domain.BlockSchedule{},
		usage:     map[string]int64{},
	}
}

func (m *memStore) ExtensionEnabled(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled, m.readErr
}

func (m *memStore) SetExtensionEnabled(_ context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.enabled = enabled
	return nil
}

func (m *memStore) Timezone(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tzErr != nil {
		return "", m.tzErr
	}
	return m.tz, m.readErr
}

func (m *memStore) SetTimezone(_ context.Context, tz string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.tz = tz
	return nil
}

func (m *memStore) BlockedSites(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]string(nil), m.sites...), nil
}

func (m *memStore) Schedules(context.Context) (map[string]domain.BlockSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make(map[string]domain.BlockSchedule, len(m.schedules))
	for k, v := range m.schedules {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SetSchedules(_ context.Context, schedules map[string]domain.BlockSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.schedules = schedules
	return nil
}

func (m *memStore) SetBlockList(_ context.Context, sites []string, schedules map[string]domain.BlockSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.sites = append([]string(nil), sites...)
	m.schedules = schedules
	return nil
}

func (m *memStore) Usage(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	out := make(map[string]int64, len(m.usage))
	for k, v := range m.usage {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) AddUsage(_ context.Context, name string, seconds int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.usage[name] += seconds
	return m.usage[name], nil
}

func (m *memStore) UsageHistory(context.Context) ([]domain.UsageSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]domain.UsageSnapshot(nil), m.history...), nil
}

func (m *memStore) RollOverUsage(_ context.Context, date string, limit int) (domain.UsageSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return domain.UsageSnapshot{}, m.writeErr
	}
	snap := domain.UsageSnapshot{Date: date, Data: m.usage}
	m.history = domain.AppendUsageHistory(m.history, snap, limit)
	m.usage = map[string]int64{}
	return snap, nil
}

func (m *memStore) snapshot() ([]string, map[string]domain.BlockSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.BlockSchedule, len(m.schedules))
	for k, v := range m.schedules {
		out[k] = v
	}
	return append([]string(nil), m.sites...), out
}

func (m *memStore) historySnapshot() []domain.UsageSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.UsageSnapshot(nil), m.history...)
}

func (m *memStore) setReadErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// memRules is an in-memory RuleTable that records every update.
type memRules struct {
	mu         sync.Mutex
	rules      map[int]domain.ActiveRule
	updates    []domain.RuleUpdate
	listErr    error
	replaceErr error
}

var _ RuleTable = (*memRules)(nil)

func newMemRules(initial ...domain.ActiveRule) *memRules {
	r := &memRules{rules: map[int]domain.ActiveRule{}}
	for _, rule := range initial {
		r.rules[rule.ID] = rule
	}
	return r
}

func (r *memRules) ListRules(context.Context) ([]domain.ActiveRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.ActiveRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRules) ReplaceRules(_ context.Context, update domain.RuleUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.updates = append(r.updates, update)
	for _, id := range update.Remove {
		delete(r.rules, id)
	}
	for _, rule := range update.Add {
		r.rules[rule.ID] = rule
	}
	return nil
}

// domains returns the blocked domains sorted by rule id.
func (r *memRules) domains() []string {
	rules, _ := r.ListRules(context.Background())
	out := make([]string, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.Domain)
	}
	return out
}

func (r *memRules) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

// MockRuleTable is a testify mock of RuleTable.
type MockRuleTable struct {
	mock.Mock
}

func (m *MockRuleTable) ListRules(ctx context.Context) ([]domain.ActiveRule, error) {
	args := m.Called(ctx)
	rules, _ := args.Get(0).([]domain.ActiveRule)
	return rules, args.Error(1)
}

func (m *MockRuleTable) ReplaceRules(ctx context.Context, update domain.RuleUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}
