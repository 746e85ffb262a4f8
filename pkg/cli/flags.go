// Package cli provides small command-line parsing helpers shared by the
// osync binary, chiefly glob-style matching of configured variant tags
// against a server's actual model list (§4.2).
package cli

import (
	"errors"
	"regexp"
	"sort"
	"strings"
)

// ParseGlob matches pattern against available, where "*" may appear any
// number of times and in any position (start, end, middle, or several of
// each) and matches zero or more characters; no other glob metacharacters
// are supported. Matching is case-insensitive. Returns matching names
// sorted alphabetically.
func ParseGlob(pattern string, available []string) ([]string, error) {
	if pattern == "" {
		return []string{}, errors.New("pattern cannot be empty")
	}

	if !strings.Contains(pattern, "*") {
		matches := []string{}
		for _, name := range available {
			if strings.EqualFold(name, pattern) {
				matches = append(matches, name)
			}
		}
		sort.Strings(matches)
		return matches, nil
	}

	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}

	matches := []string{}
	for _, name := range available {
		if re.MatchString(name) {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// globToRegexp converts a "*"-only glob pattern into an anchored,
// case-insensitive regexp matching the whole string.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
}
