// Package bloom builds the negative-lookup filter the rule table consults
// before its cache. Most DNS names never match a rule, so the filter
// answers them without taking a cache slot.
package bloom

import (
	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/focusflow/internal/focus/repos/ruletable"
)

const defaultFPRate = 0.01

// ruleFilter is sealed at build time and safe for concurrent readers.
type ruleFilter struct {
	bf *bitsbloom.BloomFilter
}

func (f *ruleFilter) MightContain(name string) bool {
	return f.bf.TestString(name)
}

type factory struct{}

// NewFactory returns the BloomFactory used by the daemon.
func NewFactory() ruletable.BloomFactory { return factory{} }

// Build sizes a filter for the rule domains at fpRate and adds them all.
// An fpRate outside (0, 1) falls back to 1%.
func (factory) Build(domains []string, fpRate float64) ruletable.BloomFilter {
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = defaultFPRate
	}
	n := uint(len(domains))
	if n == 0 {
		n = 1
	}
	bf := bitsbloom.NewWithEstimates(n, fpRate)
	for _, d := range domains {
		bf.AddString(d)
	}
	return &ruleFilter{bf: bf}
}
