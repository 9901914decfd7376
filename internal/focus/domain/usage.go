package domain

import (
	"sort"
	"time"
)

// MaxUsageHistory bounds the number of daily snapshots kept.
const MaxUsageHistory = 30

const dateLayout = "2006-01-02"

// UsageSnapshot is one day of per-domain active seconds.
type UsageSnapshot struct {
	Date string           `json:"date"`
	Data map[string]int64 `json:"data"`
}

// UsageReport is the ledger view returned to clients.
type UsageReport struct {
	Today   map[string]int64 `json:"today"`
	History []UsageSnapshot  `json:"history"`
}

// DateKey formats t as the snapshot date in t's location.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// NextMidnight returns the start of the day after now, in now's location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// AppendUsageHistory adds entry to history, replacing any snapshot with the
// same date, and keeps the newest limit snapshots ordered oldest first.
// The input slice is not modified.
func AppendUsageHistory(history []UsageSnapshot, entry UsageSnapshot, limit int) []UsageSnapshot {
	out := make([]UsageSnapshot, 0, len(history)+1)
	for _, h := range history {
		if h.Date != entry.Date {
			out = append(out, h)
		}
	}
	out = append(out, entry)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
