// Package ruletable holds the set of active redirect rules and answers
// whether a hostname is currently blocked. The scheduler replaces the whole
// set on every recomputation; the DNS sinkhole and the block page read it.
package ruletable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/haukened/focusflow/internal/focus/common/clock"
	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/common/utils"
	"github.com/haukened/focusflow/internal/focus/domain"
)

var (
	// ErrDuplicateRuleID is returned when an update would leave two rules
	// with the same id.
	ErrDuplicateRuleID = errors.New("duplicate rule id")
	// ErrDuplicateDomain is returned when an update would leave two rules
	// for the same domain.
	ErrDuplicateDomain = errors.New("duplicate rule domain")
)

// Options configures a Table. Cache and BloomFactory are optional; without
// them every lookup walks the table directly.
type Options struct {
	Cache        DecisionCache
	BloomFactory BloomFactory
	FPRate       float64
	Logger       log.Logger
	Clock        clock.Clock
}

// Stats exposes table-level counters.
type Stats struct {
	Rules     int
	Version   uint64
	UpdatedAt time.Time
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Table is an in-memory rule table. Reads go bloom → cache → table; writes
// swap the rule map, rebuild the bloom filter and purge the cache under one
// lock, so readers see either the old or the new rule set.
type Table struct {
	mu       sync.RWMutex
	byID     map[int]domain.ActiveRule
	byDomain map[string]domain.ActiveRule
	bloom    BloomFilter
	cache    DecisionCache
	factory  BloomFactory
	fpRate   float64
	logger   log.Logger
	clock    clock.Clock
	version  uint64
	updated  time.Time
}

// New constructs an empty Table.
func New(opts Options) *Table {
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Table{
		byID:     map[int]domain.ActiveRule{},
		byDomain: map[string]domain.ActiveRule{},
		cache:    opts.Cache,
		factory:  opts.BloomFactory,
		fpRate:   opts.FPRate,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
}

// ListRules returns a copy of the active rules ordered by id.
func (t *Table) ListRules(ctx context.Context) ([]domain.ActiveRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	out := make([]domain.ActiveRule, 0, len(t.byID))
	for _, r := range t.byID {
		out = append(out, copyRule(r))
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReplaceRules removes the listed ids, then adds the new rules. Unknown
// remove ids are ignored. The update is rejected as a whole if any added
// rule is invalid or would collide with a surviving id or domain.
func (t *Table) ReplaceRules(ctx context.Context, update domain.RuleUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	byID := make(map[int]domain.ActiveRule, len(t.byID)+len(update.Add))
	for id, r := range t.byID {
		byID[id] = r
	}
	for _, id := range update.Remove {
		delete(byID, id)
	}
	byDomain := make(map[string]domain.ActiveRule, len(byID)+len(update.Add))
	for _, r := range byID {
		byDomain[r.Domain] = r
	}
	for _, r := range update.Add {
		if err := r.Validate(); err != nil {
			return err
		}
		r = copyRule(r)
		r.Domain = utils.CanonicalDNSName(r.Domain)
		if _, exists := byID[r.ID]; exists {
			return fmt.Errorf("%w: %d", ErrDuplicateRuleID, r.ID)
		}
		if _, exists := byDomain[r.Domain]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateDomain, r.Domain)
		}
		byID[r.ID] = r
		byDomain[r.Domain] = r
	}

	t.byID = byID
	t.byDomain = byDomain
	t.bloom = t.buildBloom(byDomain)
	if t.cache != nil {
		t.cache.Purge()
	}
	t.version++
	t.updated = t.clock.Now()

	t.logger.Debug(map[string]any{
		"removed": len(update.Remove),
		"added":   len(update.Add),
		"rules":   len(byID),
		"version": t.version,
	}, "rule table replaced")
	return nil
}

func (t *Table) buildBloom(byDomain map[string]domain.ActiveRule) BloomFilter {
	if t.factory == nil {
		return nil
	}
	names := make([]string, 0, len(byDomain))
	for name := range byDomain {
		names = append(names, name)
	}
	return t.factory.Build(names, t.fpRate)
}

// Decide reports whether name, or any parent domain of it, has an active
// rule. Matching is apex-inclusive at label boundaries: a rule for
// "example.com" covers "www.example.com" but not "notexample.com".
func (t *Table) Decide(name string) domain.RuleDecision {
	cn := utils.CanonicalDNSName(name)
	if cn == "" {
		return domain.AllowDecision()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.checkBloom(cn) {
		return domain.AllowDecision()
	}
	if t.cache != nil {
		if d, ok := t.cache.Get(cn); ok {
			return d
		}
	}
	dec := t.checkTable(cn)
	if t.cache != nil {
		t.cache.Put(cn, dec)
	}
	return dec
}

// checkBloom returns false only when no candidate suffix can be present.
// With no filter loaded it returns true so the table is consulted.
func (t *Table) checkBloom(cn string) bool {
	if t.bloom == nil {
		return true
	}
	found := false
	walkSuffixes(cn, func(candidate string) bool {
		if t.bloom.MightContain(candidate) {
			found = true
			return false
		}
		return true
	})
	return found
}

// checkTable finds the most specific rule covering cn.
func (t *Table) checkTable(cn string) domain.RuleDecision {
	dec := domain.AllowDecision()
	walkSuffixes(cn, func(candidate string) bool {
		if r, ok := t.byDomain[candidate]; ok {
			dec = domain.RuleDecision{Blocked: true, MatchedDomain: r.Domain, RuleID: r.ID}
			return false
		}
		return true
	})
	return dec
}

// walkSuffixes visits name and each parent domain, most specific first,
// until visit returns false.
func walkSuffixes(name string, visit func(candidate string) bool) {
	for a := name; a != ""; {
		if !visit(a) {
			return
		}
		i := strings.IndexByte(a, '.')
		if i < 0 {
			return
		}
		a = a[i+1:]
	}
}

// Stats returns a snapshot of table and cache counters.
func (t *Table) Stats() Stats {
	t.mu.RLock()
	st := Stats{Rules: len(t.byID), Version: t.version, UpdatedAt: t.updated}
	t.mu.RUnlock()
	if t.cache != nil {
		st.Hits, st.Misses, st.Evictions = t.cache.Stats()
	}
	return st
}

func copyRule(r domain.ActiveRule) domain.ActiveRule {
	r.ResourceTypes = append([]domain.ResourceType(nil), r.ResourceTypes...)
	return r
}
