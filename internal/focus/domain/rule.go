package domain

import (
	"fmt"
	"strings"
)

// RuleAction is what the rule table does with a matching navigation.
type RuleAction string

const (
	// RuleActionRedirect sends the navigation to the block page.
	RuleActionRedirect RuleAction = "redirect"
)

// ResourceType scopes a rule to a class of request. The sinkhole cannot
// tell request classes apart at the DNS layer, so the scoping is enforced
// by the block page: navigations get the page, subresources get 204.
type ResourceType string

const (
	// ResourceMainFrame is a top-level navigation.
	ResourceMainFrame ResourceType = "main_frame"
)

// ActiveRule is one entry of the rule table. Ids are assigned per
// recomputation and carry no identity across passes.
type ActiveRule struct {
	ID            int            `json:"id"`
	Domain        string         `json:"domain"`
	Action        RuleAction     `json:"action"`
	ResourceTypes []ResourceType `json:"resourceTypes"`
}

// NewRedirectRule builds the only kind of rule focusflow installs: redirect
// top-level navigations on domain to the block page.
func NewRedirectRule(id int, domain string) ActiveRule {
	return ActiveRule{
		ID:            id,
		Domain:        domain,
		Action:        RuleActionRedirect,
		ResourceTypes: []ResourceType{ResourceMainFrame},
	}
}

// Validate checks the rule for required fields and supported values.
func (r ActiveRule) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("rule id must be positive, got %d", r.ID)
	}
	if strings.TrimSpace(r.Domain) == "" {
		return fmt.Errorf("rule %d: domain must not be empty", r.ID)
	}
	if r.Action != RuleActionRedirect {
		return fmt.Errorf("rule %d: unsupported action %q", r.ID, r.Action)
	}
	if len(r.ResourceTypes) == 0 {
		return fmt.Errorf("rule %d: resource types must not be empty", r.ID)
	}
	return nil
}

// RuleUpdate is a bulk change to the rule table. Removals apply before
// additions.
type RuleUpdate struct {
	Remove []int
	Add    []ActiveRule
}

// IsEmpty reports whether the update would change nothing.
func (u RuleUpdate) IsEmpty() bool { return len(u.Remove) == 0 && len(u.Add) == 0 }

// RuleView joins a blocked domain with its schedule and current rule.
// RuleID is nil when no rule is active for the domain.
type RuleView struct {
	Domain   string        `json:"domain"`
	RuleID   *int          `json:"ruleId"`
	IsActive bool          `json:"isActive"`
	Schedule BlockSchedule `json:"schedule"`
}
