package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/haukened/focusflow/internal/focus/domain"
	"github.com/haukened/focusflow/internal/focus/gateways/control"
)

func printStatus(w io.Writer, h control.HealthBody) {
	blocking := "off"
	if h.Enabled {
		blocking = "on"
	}
	ready := "ready"
	if !h.Ready {
		ready = "starting"
	}
	fmt.Fprintf(w, "Daemon: %s (%s)\nBlocking: %s\n", h.Status, ready, blocking)
}

func printRules(w io.Writer, rules []domain.RuleView) error {
	if len(rules) == 0 {
		fmt.Fprintln(w, "No blocked domains")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tRULE\tACTIVE\tSCHEDULE")
	for _, r := range rules {
		id := "-"
		if r.RuleID != nil {
			id = strconv.Itoa(*r.RuleID)
		}
		active := "no"
		if r.IsActive {
			active = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Domain, id, active, describeSchedule(r.Schedule))
	}
	return tw.Flush()
}

func printUsage(w io.Writer, report domain.UsageReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TODAY\tTIME")
	if len(report.Today) == 0 {
		fmt.Fprintln(tw, "(none)\t")
	}
	for _, d := range sortedKeys(report.Today) {
		fmt.Fprintf(tw, "%s\t%s\n", d, formatSeconds(report.Today[d]))
	}
	if len(report.History) > 0 {
		fmt.Fprintln(tw, "\t")
		fmt.Fprintln(tw, "DATE\tTOTAL\tTOP DOMAIN")
		for i := len(report.History) - 1; i >= 0; i-- {
			snap := report.History[i]
			total, top := summarize(snap.Data)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", snap.Date, formatSeconds(total), top)
		}
	}
	return tw.Flush()
}

func describeSchedule(s domain.BlockSchedule) string {
	switch {
	case !s.Enabled:
		return "off"
	case s.AlwaysOn:
		return "always"
	default:
		return s.StartTime + "-" + s.EndTime
	}
}

func formatSeconds(sec int64) string {
	return (time.Duration(sec) * time.Second).String()
}

// summarize returns the day's total and the domain with the most time.
// Ties go to the alphabetically first domain.
func summarize(data map[string]int64) (int64, string) {
	var total, best int64
	top := "-"
	for _, d := range sortedKeys(data) {
		total += data[d]
		if data[d] > best {
			best, top = data[d], d
		}
	}
	return total, top
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
