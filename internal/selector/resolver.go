// Package selector turns DOM elements into stable CSS-like selectors and
// back into the candidate list used when replaying a step.
package selector

import (
	"fmt"
	"strings"
)

// TestIDAttr is the designated test attribute consulted by Resolve.
const TestIDAttr = "data-testid"

// Element is the read-only view of a DOM element the resolver needs.
type Element interface {
	Tag() string
	ID() string
	Classes() []string
	Attr(name string) string
	// SiblingIndex is the zero-based position among element siblings.
	SiblingIndex() int
}

// Resolve returns the first selector strategy that applies to el, in strict
// priority order: id, first class, test attribute, name attribute, and
// finally tag:nth-child.
func Resolve(el Element) string {
	if id := strings.TrimSpace(el.ID()); id != "" {
		return "#" + id
	}
	for _, c := range el.Classes() {
		if c = strings.TrimSpace(c); c != "" {
			return "." + c
		}
	}
	if v := el.Attr(TestIDAttr); v != "" {
		return fmt.Sprintf(`[%s="%s"]`, TestIDAttr, v)
	}
	if v := el.Attr("name"); v != "" {
		return fmt.Sprintf(`[name="%s"]`, v)
	}
	tag := strings.ToLower(el.Tag())
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf("%s:nth-child(%d)", tag, el.SiblingIndex()+1)
}

// Descriptor is an element description serialised by the in-page capture
// script. It satisfies Element.
type Descriptor struct {
	TagName   string            `json:"tag"`
	ElementID string            `json:"id,omitempty"`
	ClassList []string          `json:"classes,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Index     int               `json:"index"`
	Text      string            `json:"text,omitempty"`
}

func (d Descriptor) Tag() string {
	return d.TagName
}

func (d Descriptor) ID() string {
	return d.ElementID
}

func (d Descriptor) Classes() []string {
	return d.ClassList
}

func (d Descriptor) SiblingIndex() int {
	return d.Index
}

func (d Descriptor) Attr(n string) string {
	if d.Attrs == nil {
		return ""
	}
	return d.Attrs[n]
}
