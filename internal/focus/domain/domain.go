package domain

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/haukened/focusflow/internal/focus/common/utils"
)

var (
	// ErrInvalidDomain is returned when a hostname cannot be normalized
	// into a blockable domain.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrInvalidTime is returned for clock strings that are not HH:MM.
	ErrInvalidTime = errors.New("invalid time of day")
	// ErrInvalidTimezone is returned for unknown or empty IANA identifiers.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// NormalizeDomain reduces user input (a bare hostname or a full URL) to the
// canonical domain that is stored and compared everywhere else:
// lowercased, without scheme, path, port, leading "www." or trailing dot.
//
// IP literals, single labels, and bare public suffixes are rejected.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDomain)
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, raw, err)
		}
		s = u.Hostname()
	} else {
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		if i := strings.LastIndexByte(s, '@'); i >= 0 {
			s = s[i+1:]
		}
		if host, _, err := net.SplitHostPort(s); err == nil {
			s = host
		}
	}

	name := utils.CanonicalDNSName(s)
	name = strings.TrimPrefix(name, "www.")
	if err := validateHostname(name); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidDomain, raw, err)
	}
	return name, nil
}

// validateHostname checks an already canonical name.
func validateHostname(name string) error {
	if name == "" {
		return errors.New("no hostname")
	}
	if net.ParseIP(name) != nil {
		return errors.New("ip addresses cannot be blocked by name")
	}
	if len(name) > maxDomainLength {
		return fmt.Errorf("longer than %d characters", maxDomainLength)
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			return errors.New("empty label")
		}
		if len(label) > maxLabelLength {
			return fmt.Errorf("label %q longer than %d characters", label, maxLabelLength)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return fmt.Errorf("label %q starts or ends with a hyphen", label)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' {
				return fmt.Errorf("label %q contains %q", label, c)
			}
		}
	}
	if suffix, _ := publicsuffix.PublicSuffix(name); suffix == name {
		return errors.New("public suffix without a registrable name")
	}
	return nil
}
