// Package tree turns a flat set of workspace nodes into an ordered hierarchy.
//
// The tree is always derived from the flat set. Callers patch the flat set
// and call Build again; a Tree is never edited in place.
package tree

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/Samijain03/Collab-X/pkg/models"
)

// DefaultLocale orders sibling names when Build is used.
var DefaultLocale = language.English

// Tree is the hierarchy derived from a flat node set. Node values are
// copies owned by the tree; Children slices are ordered folders first, then
// by name.
type Tree struct {
	NodeMap map[models.ID]*models.Node
	Roots   []*models.Node
}

// Build builds a tree using DefaultLocale for name ordering.
func Build(nodes []*models.Node) *Tree {
	return BuildLocale(nodes, DefaultLocale)
}

// BuildLocale builds a tree from nodes. The input is not modified.
//
// Duplicate ids are resolved last-write-wins. A node whose parent is
// missing, is a file, or lies on a parent cycle is promoted to a root, so
// every node appears exactly once and every parent chain ends at a root.
func BuildLocale(nodes []*models.Node, tag language.Tag) *Tree {
	t := &Tree{NodeMap: make(map[models.ID]*models.Node, len(nodes))}
	for _, n := range nodes {
		if n == nil || n.ID == "" {
			continue
		}
		t.NodeMap[n.ID] = n.Clone()
	}

	ids := make([]models.ID, 0, len(t.NodeMap))
	for id := range t.NodeMap {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	parent := make(map[models.ID]models.ID, len(ids))
	for _, id := range ids {
		parent[id] = t.effectiveParent(t.NodeMap[id])
	}
	breakCycles(ids, parent)

	for _, id := range ids {
		n := t.NodeMap[id]
		if p := parent[id]; p != "" {
			pn := t.NodeMap[p]
			pn.Children = append(pn.Children, n)
		} else {
			t.Roots = append(t.Roots, n)
		}
	}

	c := collate.New(tag)
	t.Roots = sortSiblings(c, t.Roots)
	for _, n := range t.NodeMap {
		n.Children = sortSiblings(c, n.Children)
	}
	for _, r := range t.Roots {
		fillPaths(r, "")
	}
	return t
}

func (t *Tree) effectiveParent(n *models.Node) models.ID {
	if n.ParentID == "" || n.ParentID == n.ID {
		return ""
	}
	p, ok := t.NodeMap[n.ParentID]
	if !ok || !p.IsFolder() {
		return ""
	}
	return n.ParentID
}

// breakCycles walks each parent chain in id order and promotes the first
// node found on a loop to a root.
func breakCycles(ids []models.ID, parent map[models.ID]models.ID) {
	rooted := make(map[models.ID]bool, len(ids))
	for _, id := range ids {
		onPath := make(map[models.ID]bool)
		var chain []models.ID
		for cur := id; cur != "" && !rooted[cur]; cur = parent[cur] {
			if onPath[cur] {
				parent[cur] = ""
				break
			}
			onPath[cur] = true
			chain = append(chain, cur)
		}
		for _, c := range chain {
			rooted[c] = true
		}
	}
}

func sortSiblings(c *collate.Collator, nodes []*models.Node) []*models.Node {
	slices.SortStableFunc(nodes, func(a, b *models.Node) int {
		return compare(c, a, b)
	})
	return nodes
}

func compare(c *collate.Collator, a, b *models.Node) int {
	if a.IsFolder() != b.IsFolder() {
		if a.IsFolder() {
			return -1
		}
		return 1
	}
	if r := c.CompareString(a.Name, b.Name); r != 0 {
		return r
	}
	if r := strings.Compare(a.Name, b.Name); r != 0 {
		return r
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

// IsSorted reports whether siblings are in tree order under DefaultLocale.
func IsSorted(siblings []*models.Node) bool {
	c := collate.New(DefaultLocale)
	return slices.IsSortedFunc(siblings, func(a, b *models.Node) int {
		return compare(c, a, b)
	})
}

// fillPaths derives FullPath for nodes the server sent without one.
func fillPaths(n *models.Node, parentPath string) {
	if n.FullPath == "" {
		n.FullPath = BuildChildPath(parentPath, n.Name)
	}
	for _, child := range n.Children {
		fillPaths(child, n.FullPath)
	}
}

// Node returns the node with id, or nil.
func (t *Tree) Node(id models.ID) *models.Node {
	if t == nil {
		return nil
	}
	return t.NodeMap[id]
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.NodeMap)
}

// FindByPath resolves a slash-separated path by walking names from the
// roots.
func (t *Tree) FindByPath(p string) *models.Node {
	if t == nil {
		return nil
	}
	parts := SplitPath(p)
	if len(parts) == 0 {
		return nil
	}
	siblings := t.Roots
	var found *models.Node
	for _, name := range parts {
		found = nil
		for _, n := range siblings {
			if n.Name == name {
				found = n
				break
			}
		}
		if found == nil {
			return nil
		}
		siblings = found.Children
	}
	return found
}

// Ancestors returns the ids from the root down to id's parent.
func (t *Tree) Ancestors(id models.ID) []models.ID {
	var out []models.ID
	n := t.Node(id)
	for n != nil && n.ParentID != "" {
		p := t.Node(n.ParentID)
		if p == nil || !containsChild(p, n.ID) {
			break
		}
		out = append(out, p.ID)
		n = p
	}
	slices.Reverse(out)
	return out
}

func containsChild(p *models.Node, id models.ID) bool {
	for _, c := range p.Children {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Descendants returns the ids below id in depth-first order, excluding id.
func (t *Tree) Descendants(id models.ID) []models.ID {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	var out []models.ID
	var walk func(*models.Node)
	walk = func(n *models.Node) {
		for _, c := range n.Children {
			out = append(out, c.ID)
			walk(c)
		}
	}
	walk(n)
	return out
}

// Walk visits nodes depth-first in tree order. Returning false from visit
// skips the node's children.
func (t *Tree) Walk(visit func(n *models.Node, depth int) bool) {
	if t == nil {
		return
	}
	var walk func(nodes []*models.Node, depth int)
	walk = func(nodes []*models.Node, depth int) {
		for _, n := range nodes {
			if visit(n, depth) {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(t.Roots, 0)
}

// Flatten returns every node in depth-first tree order.
func (t *Tree) Flatten() []*models.Node {
	out := make([]*models.Node, 0, t.Len())
	t.Walk(func(n *models.Node, _ int) bool {
		out = append(out, n)
		return true
	})
	return out
}

// CountNodes counts n and everything below it.
func CountNodes(n *models.Node) int {
	if n == nil {
		return 0
	}
	count := 1
	for _, child := range n.Children {
		count += CountNodes(child)
	}
	return count
}
