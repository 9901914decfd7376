package ruletable

import "github.com/haukened/focusflow/internal/focus/domain"

// BloomFilter answers "might any rule cover this exact domain". Filters
// are immutable once built; a rule replace builds a new one.
type BloomFilter interface {
	MightContain(name string) bool
}

// BloomFactory builds a filter over the domains of one rule set.
type BloomFactory interface {
	Build(domains []string, fpRate float64) BloomFilter
}

// DecisionCache caches decisions by canonical name with basic metrics.
type DecisionCache interface {
	Get(name string) (domain.RuleDecision, bool)
	Put(name string, d domain.RuleDecision)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}
