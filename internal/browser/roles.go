package browser

import (
	"regexp"
	"strings"
)

var roleTarget = regexp.MustCompile(`^role=([\w-]+)\[name="(.*)"\]$`)

// implicitRoles maps ARIA roles to the elements that carry them without an
// explicit role attribute. Keep in sync with js/agent.js.
var implicitRoles = map[string]string{
	"button":   `button,input[type="submit"],input[type="button"],input[type="reset"]`,
	"link":     `a[href]`,
	"textbox":  `input:not([type]),input[type="text"],input[type="email"],input[type="password"],input[type="search"],input[type="tel"],input[type="url"],textarea`,
	"checkbox": `input[type="checkbox"]`,
	"radio":    `input[type="radio"]`,
	"combobox": `select`,
	"heading":  `h1,h2,h3,h4,h5,h6`,
}

// parseRole splits a role=R[name="N"] target.
func parseRole(sel string) (role, name string, ok bool) {
	m := roleTarget.FindStringSubmatch(sel)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// roleQuery is the CSS selector matching every element with role.
func roleQuery(role string) string {
	parts := []string{`[role="` + role + `"]`}
	if implicit, ok := implicitRoles[role]; ok {
		parts = append(parts, implicit)
	}
	return strings.Join(parts, ",")
}
