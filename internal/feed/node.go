package feed

import "strings"

// Node is one element of a decoded feed document.
//
// Lookups always return slices, so a feed that omits the plural wrapper
// or carries a single child is handled the same way as one with many.
type Node struct {
	Name     string
	Lang     string // xml:lang, if present
	Attrs    map[string]string
	Text     string // trimmed character data directly under this element
	Children []*Node
}

// Attr returns the named attribute, or "".
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Attrs[name])
}

// HasAttr reports whether the attribute is present, even if empty.
func (n *Node) HasAttr(name string) bool {
	if n == nil {
		return false
	}
	_, ok := n.Attrs[name]
	return ok
}

// All returns the direct children with the given name.
func (n *Node) All(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the first direct child with the given name, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Path follows names from n and returns every node at the end of the path.
// Path("sizes", "size") returns all size elements under all sizes wrappers.
func (n *Node) Path(names ...string) []*Node {
	if n == nil {
		return nil
	}
	current := []*Node{n}
	for _, name := range names {
		var next []*Node
		for _, c := range current {
			next = append(next, c.All(name)...)
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// Descendants returns every node named name below n, depth first.
func (n *Node) Descendants(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
		out = append(out, c.Descendants(name)...)
	}
	return out
}

// ChildText returns the text of the first child with the given name.
func (n *Node) ChildText(name string) string {
	return n.Child(name).TextValue()
}

// TextValue returns the node's character data, or "" for a nil node.
func (n *Node) TextValue() string {
	if n == nil {
		return ""
	}
	return n.Text
}

// Value returns the attribute when set, otherwise the text of the child
// element with the same name. Feeds disagree on which form they use.
func (n *Node) Value(name string) string {
	if v := n.Attr(name); v != "" {
		return v
	}
	return strings.TrimSpace(n.ChildText(name))
}
