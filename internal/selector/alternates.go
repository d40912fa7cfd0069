package selector

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	idSelector     = regexp.MustCompile(`^#([A-Za-z0-9_\-:.]+)$`)
	classSelector  = regexp.MustCompile(`^\.([A-Za-z0-9_\-]+)$`)
	testIDSelector = regexp.MustCompile(`^\[data-testid="([^"]*)"\]$`)
	nameSelector   = regexp.MustCompile(`^\[name="([^"]*)"\]$`)
	nthChildSuffix = regexp.MustCompile(`:nth-child\(\d+\)$`)
)

// Alternates returns the fixed rewrites tried when the primary selector
// finds nothing. The primary selector itself is not included.
func Alternates(sel string) []string {
	sel = strings.TrimSpace(sel)
	var out []string

	if m := idSelector.FindStringSubmatch(sel); m != nil {
		out = append(out,
			fmt.Sprintf(`[id="%s"]`, m[1]),
			fmt.Sprintf(`[name="%s"]`, m[1]),
			fmt.Sprintf(`[data-testid="%s"]`, m[1]),
		)
	}
	if m := classSelector.FindStringSubmatch(sel); m != nil {
		out = append(out, fmt.Sprintf(`[class~="%s"]`, m[1]))
	}
	if m := testIDSelector.FindStringSubmatch(sel); m != nil {
		out = append(out, fmt.Sprintf(`[data-test="%s"]`, m[1]))
		if m[1] != "" {
			out = append(out, "#"+m[1])
		}
	}
	if m := nameSelector.FindStringSubmatch(sel); m != nil {
		if m[1] != "" {
			out = append(out, "#"+m[1])
		}
		out = append(out, fmt.Sprintf(`input[name="%s"]`, m[1]))
	}
	if nthChildSuffix.MatchString(sel) {
		if stripped := nthChildSuffix.ReplaceAllString(sel, ""); stripped != "" {
			out = append(out, stripped)
		}
	}
	return out
}

// Candidates returns sel followed by its alternates, without duplicates.
func Candidates(sel string) []string {
	sel = strings.TrimSpace(sel)
	seen := map[string]bool{sel: true}
	out := []string{sel}
	for _, alt := range Alternates(sel) {
		if !seen[alt] {
			seen[alt] = true
			out = append(out, alt)
		}
	}
	return out
}
