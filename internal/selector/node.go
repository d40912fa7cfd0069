package selector

import (
	"strings"

	"golang.org/x/net/html"
)

// NodeElement adapts a parsed HTML element node to Element.
type NodeElement struct {
	Node *html.Node
}

// FromNode wraps n. It returns nil when n is not an element node.
func FromNode(n *html.Node) *NodeElement {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &NodeElement{Node: n}
}

func (e *NodeElement) Tag() string { return e.Node.Data }

func (e *NodeElement) ID() string { return e.Attr("id") }

func (e *NodeElement) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

func (e *NodeElement) Attr(name string) string {
	for _, a := range e.Node.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val
		}
	}
	return ""
}

func (e *NodeElement) SiblingIndex() int {
	idx := 0
	for s := e.Node.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			idx++
		}
	}
	return idx
}
