// Package hierarchy maintains a forest of uniquely named categories.
//
// Nodes are kept in a name-keyed map with a parent link, so parent and
// node lookups are constant time. Sibling order lives in the parent's
// children slice, or in the root list for top-level nodes.
package hierarchy

import (
	"fmt"
	"slices"

	"github.com/pbaille/taxo/internal/domain"
)

// The empty name is reserved as the root marker, so no category may use it.
type node struct {
	name     string
	parent   string // "" for roots
	children []string
}

// Tree is a forest of categories. It is not safe for concurrent use.
type Tree struct {
	nodes map[string]*node
	roots []string
}

// New returns an empty forest.
func New() *Tree {
	return &Tree{nodes: make(map[string]*node)}
}

// FromCategories builds a forest from the flat category list. Roots are
// the categories never listed as a child, in list order.
func FromCategories(categories []domain.Category) (*Tree, error) {
	t := New()
	isChild := make(map[string]bool)
	for _, c := range categories {
		if c.Name == "" || slices.Contains(c.Children, "") {
			return nil, fmt.Errorf("load categories: %w", domain.ErrEmptyName)
		}
		if _, ok := t.nodes[c.Name]; ok {
			return nil, fmt.Errorf("load category %q: %w", c.Name, domain.ErrDuplicateName)
		}
		t.nodes[c.Name] = &node{name: c.Name, children: slices.Clone(c.Children)}
		for _, child := range c.Children {
			isChild[child] = true
		}
	}
	for _, c := range categories {
		for _, child := range c.Children {
			n, ok := t.nodes[child]
			if !ok {
				return nil, fmt.Errorf("load child %q of %q: %w", child, c.Name, domain.ErrCategoryNotFound)
			}
			if n.parent != "" {
				return nil, fmt.Errorf("load child %q of %q: already under %q: %w", child, c.Name, n.parent, domain.ErrDuplicateName)
			}
			n.parent = c.Name
		}
	}
	for _, c := range categories {
		if !isChild[c.Name] {
			t.roots = append(t.roots, c.Name)
		}
	}
	// Every node must be reachable from a root, otherwise the child links
	// form a cycle.
	if reached := len(t.Names()); reached != len(t.nodes) {
		return nil, fmt.Errorf("load categories: %d unreachable: %w", len(t.nodes)-reached, domain.ErrCyclicMove)
	}
	return t, nil
}

// Len returns the number of categories.
func (t *Tree) Len() int { return len(t.nodes) }

// Contains reports whether a category exists.
func (t *Tree) Contains(name string) bool {
	_, ok := t.nodes[name]
	return ok
}

// FindParent returns the parent of name and whether name has one.
// Roots and missing names report false.
func (t *Tree) FindParent(name string) (string, bool) {
	n, ok := t.nodes[name]
	if !ok || n.parent == "" {
		return "", false
	}
	return n.parent, true
}

// Roots returns the top-level category names in order.
func (t *Tree) Roots() []string { return slices.Clone(t.roots) }

// Children returns the ordered child names of name.
func (t *Tree) Children(name string) []string {
	n, ok := t.nodes[name]
	if !ok {
		return nil
	}
	return slices.Clone(n.children)
}

// Siblings returns the other children of name's parent. Roots have no
// siblings.
func (t *Tree) Siblings(name string) []string {
	parent, ok := t.FindParent(name)
	if !ok {
		return nil
	}
	var out []string
	for _, c := range t.nodes[parent].children {
		if c != name {
			out = append(out, c)
		}
	}
	return out
}

// Ancestors returns the ancestors of name ordered from parent to root.
func (t *Tree) Ancestors(name string) []string {
	var out []string
	for p, ok := t.FindParent(name); ok; p, ok = t.FindParent(p) {
		out = append(out, p)
	}
	return out
}

// Descendants returns every node below name in breadth-first order.
func (t *Tree) Descendants(name string) []string {
	n, ok := t.nodes[name]
	if !ok {
		return nil
	}
	var out []string
	queue := slices.Clone(n.children)
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		out = append(out, cur)
		queue = append(queue, t.nodes[cur].children...)
	}
	return out
}

// IsAncestor reports whether a is a proper ancestor of name.
func (t *Tree) IsAncestor(a, name string) bool {
	for p, ok := t.FindParent(name); ok; p, ok = t.FindParent(p) {
		if p == a {
			return true
		}
	}
	return false
}

// Names returns every category name in depth-first pre-order.
func (t *Tree) Names() []string {
	var out []string
	stack := make([]string, 0, len(t.roots))
	for i := len(t.roots) - 1; i >= 0; i-- {
		stack = append(stack, t.roots[i])
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, cur)
		children := t.nodes[cur].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// AddNode creates a leaf. With an empty parent the node becomes the last
// root; otherwise it becomes the parent's last child.
func (t *Tree) AddNode(name, parent string) error {
	if name == "" {
		return fmt.Errorf("add category: %w", domain.ErrEmptyName)
	}
	if _, ok := t.nodes[name]; ok {
		return fmt.Errorf("add category %q: %w", name, domain.ErrDuplicateName)
	}
	if parent == "" {
		t.nodes[name] = &node{name: name}
		t.roots = append(t.roots, name)
		return nil
	}
	p, ok := t.nodes[parent]
	if !ok {
		return fmt.Errorf("add category %q under %q: %w", name, parent, domain.ErrCategoryNotFound)
	}
	t.nodes[name] = &node{name: name, parent: parent}
	p.children = append(p.children, name)
	return nil
}

// RemoveChildren deletes every descendant of name, leaving it a leaf. It
// returns the removed names in breadth-first order.
func (t *Tree) RemoveChildren(name string) ([]string, error) {
	n, ok := t.nodes[name]
	if !ok {
		return nil, fmt.Errorf("flatten category %q: %w", name, domain.ErrCategoryNotFound)
	}
	removed := t.Descendants(name)
	for _, d := range removed {
		delete(t.nodes, d)
	}
	n.children = nil
	return removed, nil
}

// MoveNode detaches moved and re-inserts it relative to anchor. For
// Inner, an empty anchor moves the node to the end of the root list.
func (t *Tree) MoveNode(moved, anchor string, pos domain.Position) error {
	if !pos.Valid() {
		return fmt.Errorf("move category %q: %q: %w", moved, pos, domain.ErrInvalidPosition)
	}
	if err := t.CheckMove(moved, anchor, pos); err != nil {
		return err
	}

	t.detach(moved)
	n := t.nodes[moved]

	if pos == domain.Inner {
		if anchor == "" {
			n.parent = ""
			t.roots = append(t.roots, moved)
			return nil
		}
		a := t.nodes[anchor]
		n.parent = anchor
		a.children = append(a.children, moved)
		return nil
	}

	container := &t.roots
	parent, hasParent := t.FindParent(anchor)
	if hasParent {
		container = &t.nodes[parent].children
	}
	at := slices.Index(*container, anchor)
	if pos == domain.After {
		at++
	}
	*container = slices.Insert(*container, at, moved)
	n.parent = parent
	return nil
}

// CheckMove validates a move without applying it.
func (t *Tree) CheckMove(moved, anchor string, pos domain.Position) error {
	if !t.Contains(moved) {
		return fmt.Errorf("move category %q: %w", moved, domain.ErrCategoryNotFound)
	}
	if pos == domain.Inner && anchor == "" {
		return nil
	}
	if !t.Contains(anchor) {
		return fmt.Errorf("move category %q to %q: %w", moved, anchor, domain.ErrCategoryNotFound)
	}
	if anchor == moved || t.IsAncestor(moved, anchor) {
		return fmt.Errorf("move category %q %s %q: %w", moved, pos, anchor, domain.ErrCyclicMove)
	}
	return nil
}

// RenameNode renames a category in place, keeping its position.
func (t *Tree) RenameNode(oldName, newName string) error {
	n, ok := t.nodes[oldName]
	if !ok {
		return fmt.Errorf("rename category %q: %w", oldName, domain.ErrCategoryNotFound)
	}
	if oldName == newName {
		return nil
	}
	if newName == "" {
		return fmt.Errorf("rename category %q: %w", oldName, domain.ErrEmptyName)
	}
	if _, ok := t.nodes[newName]; ok {
		return fmt.Errorf("rename category %q to %q: %w", oldName, newName, domain.ErrDuplicateName)
	}

	container := &t.roots
	if n.parent != "" {
		container = &t.nodes[n.parent].children
	}
	(*container)[slices.Index(*container, oldName)] = newName
	for _, c := range n.children {
		t.nodes[c].parent = newName
	}
	n.name = newName
	delete(t.nodes, oldName)
	t.nodes[newName] = n
	return nil
}

// RemoveNode deletes a category together with its subtree. Removing a
// missing category is a no-op.
func (t *Tree) RemoveNode(name string) {
	if !t.Contains(name) {
		return
	}
	descendants := t.Descendants(name)
	t.detach(name)
	for _, d := range descendants {
		delete(t.nodes, d)
	}
	delete(t.nodes, name)
}

// Categories returns the flat category list in depth-first pre-order.
func (t *Tree) Categories() []domain.Category {
	names := t.Names()
	out := make([]domain.Category, len(names))
	for i, name := range names {
		children := slices.Clone(t.nodes[name].children)
		if children == nil {
			children = []string{}
		}
		out[i] = domain.Category{Name: name, Children: children}
	}
	return out
}

// Forest returns the nested form of the hierarchy.
func (t *Tree) Forest() []domain.TreeNode {
	var build func(names []string) []domain.TreeNode
	build = func(names []string) []domain.TreeNode {
		out := make([]domain.TreeNode, 0, len(names))
		for _, name := range names {
			out = append(out, domain.TreeNode{
				Name:     name,
				Children: build(t.nodes[name].children),
			})
		}
		return out
	}
	return build(t.roots)
}

func (t *Tree) detach(name string) {
	n := t.nodes[name]
	if n.parent == "" {
		t.roots = slices.DeleteFunc(t.roots, func(s string) bool { return s == name })
		return
	}
	p := t.nodes[n.parent]
	p.children = slices.DeleteFunc(p.children, func(s string) bool { return s == name })
}
