package license

import (
	"regexp"
	"strings"
)

// MatchesDomain reports whether domain is permitted by pattern. Both arguments
// are expected lower-cased and trimmed (see NormalizeDomain). Rules, in order:
// exact equality; '*' glob (anchored, dots literal); bare pattern permitting
// strict subdomains. Anything else is a mismatch.
func MatchesDomain(domain, pattern string) bool {
	if domain == "" || pattern == "" {
		return false
	}

	if domain == pattern {
		return true
	}

	if strings.Contains(pattern, "*") {
		quoted := regexp.QuoteMeta(pattern)
		quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
		re, err := regexp.Compile(`(?i)^` + quoted + `$`)
		if err != nil {
			return false
		}
		return re.MatchString(domain)
	}

	return strings.HasSuffix(domain, "."+pattern)
}

// MatchesAny iterates the patterns in order, first match wins.
func MatchesAny(domain string, patterns []string) bool {
	for _, p := range patterns {
		if MatchesDomain(domain, p) {
			return true
		}
	}
	return false
}
