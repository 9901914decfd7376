package scheduler

import (
	"context"
	"fmt"

	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/domain"
)

// Synchronizer translates a desired domain set into rule table updates.
type Synchronizer struct {
	rules  RuleTable
	logger log.Logger
}

// NewSynchronizer returns a Synchronizer driving rules.
func NewSynchronizer(rules RuleTable, logger log.Logger) *Synchronizer {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Synchronizer{rules: rules, logger: logger}
}

// ApplyActiveDomains replaces every installed rule with one redirect rule
// per desired domain, numbered from 1, in a single update. It does nothing
// when blocking is disabled.
func (s *Synchronizer) ApplyActiveDomains(ctx context.Context, enabled bool, desired []string) error {
	if !enabled {
		s.logger.Info(nil, "blocking disabled, skipping rule sync")
		return nil
	}
	current, err := s.rules.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	update := domain.RuleUpdate{Remove: ruleIDs(current)}
	seen := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		update.Add = append(update.Add, domain.NewRedirectRule(len(update.Add)+1, d))
	}
	if update.IsEmpty() {
		return nil
	}
	if err := s.rules.ReplaceRules(ctx, update); err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}
	s.logger.Debug(map[string]any{
		"removed": len(update.Remove),
		"added":   len(update.Add),
	}, "rules synchronized")
	return nil
}

// RemoveAll uninstalls every rule.
func (s *Synchronizer) RemoveAll(ctx context.Context) error {
	current, err := s.rules.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	if len(current) == 0 {
		return nil
	}
	if err := s.rules.ReplaceRules(ctx, domain.RuleUpdate{Remove: ruleIDs(current)}); err != nil {
		return fmt.Errorf("remove rules: %w", err)
	}
	s.logger.Info(map[string]any{"removed": len(current)}, "all rules removed")
	return nil
}

// UnblockOne removes ruleID if it still belongs to name. A stale id is
// logged and left alone; the caller's recomputation settles the table.
func (s *Synchronizer) UnblockOne(ctx context.Context, name string, ruleID int) error {
	current, err := s.rules.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	for _, r := range current {
		if r.ID != ruleID {
			continue
		}
		if r.Domain != name {
			break
		}
		if err := s.rules.ReplaceRules(ctx, domain.RuleUpdate{Remove: []int{ruleID}}); err != nil {
			return fmt.Errorf("remove rule %d: %w", ruleID, err)
		}
		return nil
	}
	s.logger.Warn(map[string]any{
		"domain":  name,
		"rule_id": ruleID,
	}, "rule id does not match domain, skipping")
	return nil
}

func ruleIDs(rules []domain.ActiveRule) []int {
	if len(rules) == 0 {
		return nil
	}
	ids := make([]int, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}
