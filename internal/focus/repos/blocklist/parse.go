// Package blocklist reads domain lists from files so they can be added to
// the block list in bulk.
package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strings"

	logpkg "github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/domain"
)

// Format names a list layout.
type Format string

const (
	// FormatAuto picks hosts or plain from the first entry.
	FormatAuto Format = "auto"
	// FormatHosts is /etc/hosts style: an address followed by hostnames.
	FormatHosts Format = "hosts"
	// FormatPlain is one domain per line.
	FormatPlain Format = "plain"
)

// ParseFormat validates a user supplied format name. Empty means auto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatHosts, FormatPlain:
		return f, nil
	default:
		return "", fmt.Errorf("unknown list format %q (want auto, hosts or plain)", s)
	}
}

// Parse reads r in the given format and returns the normalized domains in
// first-seen order without duplicates. Entries that do not normalize are
// skipped and logged at debug level.
func Parse(r io.Reader, format Format, logger logpkg.Logger) ([]string, error) {
	if logger == nil {
		logger = logpkg.NewNoopLogger()
	}
	scanner := bufio.NewScanner(r)
	seen := make(map[string]struct{})
	out := make([]string, 0, 64)

	emit := func(lineNum int, raw string) {
		// Wildcard markers are dropped; a blocked domain already covers its subdomains.
		raw = strings.TrimPrefix(strings.TrimPrefix(raw, "*."), ".")
		name, err := domain.NormalizeDomain(raw)
		if err != nil {
			logger.Debug(map[string]any{"line": lineNum, "raw": raw, "error": err.Error()}, "list_skip_invalid")
			return
		}
		if _, ok := seen[name]; ok {
			logger.Debug(map[string]any{"line": lineNum, "name": name}, "list_skip_duplicate")
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripInlineComment(strings.TrimPrefix(scanner.Text(), "\uFEFF"))
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if format == FormatAuto {
			format = detect(fields)
			logger.Debug(map[string]any{"line": lineNum, "format": string(format)}, "list_format_detected")
		}

		if format == FormatPlain {
			emit(lineNum, fields[0])
			continue
		}
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "hosts_no_hostnames")
			continue
		}
		for _, raw := range fields[1:] {
			if strings.Contains(raw, "*") {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_wildcard")
				continue
			}
			emit(lineNum, raw)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read list: %w", err)
	}
	logger.Debug(map[string]any{"format": string(format), "count": len(out)}, "list_parsed")
	return out, nil
}

func detect(fields []string) Format {
	if _, err := netip.ParseAddr(fields[0]); err == nil {
		return FormatHosts
	}
	return FormatPlain
}

func stripInlineComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}
