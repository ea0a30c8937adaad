package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Samijain03/Collab-X/pkg/models"
)

// Memory is an in-process Store for tests and single-node demos.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	spaces map[string]map[models.ID]*models.Node
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{spaces: make(map[string]map[models.ID]*models.Node)}
}

func (m *Memory) space(ws string) map[models.ID]*models.Node {
	s, ok := m.spaces[ws]
	if !ok {
		s = make(map[models.ID]*models.Node)
		m.spaces[ws] = s
	}
	return s
}

func (m *Memory) List(_ context.Context, ws string) ([]*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Node, 0, len(m.spaces[ws]))
	for _, n := range m.spaces[ws] {
		out = append(out, n.Clone())
	}
	slices.SortFunc(out, func(a, b *models.Node) int {
		return compareIDs(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) Get(_ context.Context, ws string, id models.ID) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.spaces[ws][id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (m *Memory) child(s map[models.ID]*models.Node, parent models.ID, name string) *models.Node {
	for _, n := range s {
		if n.ParentID == parent && n.Name == name {
			return n
		}
	}
	return nil
}

func (m *Memory) childCount(s map[models.ID]*models.Node, parent models.ID) int {
	count := 0
	for _, n := range s {
		if n.ParentID == parent {
			count++
		}
	}
	return count
}

func (m *Memory) insert(s map[models.ID]*models.Node, n *models.Node) *models.Node {
	m.nextID++
	n.ID = models.IntID(m.nextID)
	n.Position = m.childCount(s, n.ParentID)
	s[n.ID] = n
	return n
}

func (m *Memory) EnsurePath(_ context.Context, ws string, p CreateParams) (*models.Node, bool, error) {
	segments, err := splitCreatePath(p)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.space(ws)

	parent := p.ParentID
	if parent != "" {
		pn, ok := s[parent]
		if !ok {
			return nil, false, fmt.Errorf("parent %s: %w", parent, ErrNotFound)
		}
		if !pn.IsFolder() {
			return nil, false, fmt.Errorf("%w: parent %s is not a folder", ErrInvalid, parent)
		}
	}

	for _, seg := range segments[:len(segments)-1] {
		existing := m.child(s, parent, seg)
		switch {
		case existing == nil:
			existing = m.insert(s, &models.Node{Name: seg, NodeType: models.NodeFolder, ParentID: parent})
			existing.SetText("")
		case !existing.IsFolder():
			return nil, false, fmt.Errorf("%w: %q is a file", ErrConflict, seg)
		}
		parent = existing.ID
	}

	name := segments[len(segments)-1]
	if existing := m.child(s, parent, name); existing != nil {
		if existing.NodeType != p.NodeType {
			return nil, false, fmt.Errorf("%w: %q", ErrConflict, name)
		}
		if existing.IsFile() && p.Content != nil {
			existing.SetText(*p.Content)
			existing.Hash = Hash(*p.Content)
			if p.Language != "" {
				existing.Language = p.Language
			}
		}
		return existing.Clone(), false, nil
	}

	n := &models.Node{Name: name, NodeType: p.NodeType, ParentID: parent}
	if p.NodeType == models.NodeFile {
		lang, content := fileDefaults(p, name)
		n.Language = lang
		n.SetText(content)
		n.Hash = Hash(content)
	} else {
		n.SetText("")
	}
	return m.insert(s, n).Clone(), true, nil
}

func (m *Memory) Rename(_ context.Context, ws string, id models.ID, name string) (*models.Node, error) {
	name = strings.TrimSpace(name)
	if err := ValidName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.spaces[ws]

	n, ok := s[id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.Name == name {
		return n.Clone(), nil
	}
	if m.child(s, n.ParentID, name) != nil {
		return nil, fmt.Errorf("%w: %q", ErrConflict, name)
	}
	n.Language = renamedLanguage(n, name)
	n.Name = name
	return n.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, ws string, id models.ID) ([]models.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.spaces[ws]

	if _, ok := s[id]; !ok {
		return nil, ErrNotFound
	}
	var removed []models.ID
	var remove func(id models.ID)
	remove = func(id models.ID) {
		var kids []models.ID
		for _, n := range s {
			if n.ParentID == id {
				kids = append(kids, n.ID)
			}
		}
		slices.SortFunc(kids, compareIDs)
		for _, k := range kids {
			remove(k)
		}
		delete(s, id)
		removed = append(removed, id)
	}
	remove(id)
	return removed, nil
}

func (m *Memory) SetContent(_ context.Context, ws string, id models.ID, content string) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.spaces[ws][id]
	if !ok {
		return nil, ErrNotFound
	}
	if n.IsFolder() {
		return nil, fmt.Errorf("%w: %s is a folder", ErrInvalid, id)
	}
	n.SetText(content)
	n.Hash = Hash(content)
	return n.Clone(), nil
}

func (m *Memory) Close() error { return nil }

// compareIDs sorts shorter ids first so generated numeric ids keep their
// numeric order.
func compareIDs(a, b models.ID) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	return strings.Compare(string(a), string(b))
}
