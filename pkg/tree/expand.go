package tree

import "github.com/Samijain03/Collab-X/pkg/models"

// ExpandState records which folders are open. It is keyed by node id and
// kept outside the tree so it survives rebuilds.
type ExpandState struct {
	open map[models.ID]bool
}

// NewExpandState returns an empty state with every folder collapsed.
func NewExpandState() *ExpandState {
	return &ExpandState{open: make(map[models.ID]bool)}
}

func (s *ExpandState) Expand(id models.ID)   { s.open[id] = true }
func (s *ExpandState) Collapse(id models.ID) { delete(s.open, id) }

// Toggle flips id and returns the new state.
func (s *ExpandState) Toggle(id models.ID) bool {
	if s.open[id] {
		delete(s.open, id)
		return false
	}
	s.open[id] = true
	return true
}

func (s *ExpandState) IsExpanded(id models.ID) bool { return s.open[id] }

// ExpandPath opens every ancestor of id so the node is visible.
func (s *ExpandState) ExpandPath(t *Tree, id models.ID) {
	for _, a := range t.Ancestors(id) {
		s.open[a] = true
	}
}

// Prune forgets ids that are no longer folders in t.
func (s *ExpandState) Prune(t *Tree) {
	for id := range s.open {
		if n := t.Node(id); n == nil || !n.IsFolder() {
			delete(s.open, id)
		}
	}
}

// Len returns the number of expanded folders.
func (s *ExpandState) Len() int { return len(s.open) }
