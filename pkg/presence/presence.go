// Package presence tracks remote users in a workspace: who is connected,
// which file each is viewing and where their cursor is.
package presence

import (
	"slices"
	"strings"

	"github.com/Samijain03/Collab-X/pkg/models"
)

// Tracker holds one entry per remote user. Events about the local user are
// ignored, so the tracker never contains an entry for self.
//
// A Tracker is not safe for concurrent use; it is owned by one workspace
// session.
type Tracker struct {
	self    models.ID
	entries map[models.ID]*models.PresenceEntry
}

// NewTracker returns a tracker that filters events from self.
func NewTracker(self models.ID) *Tracker {
	return &Tracker{
		self:    self,
		entries: make(map[models.ID]*models.PresenceEntry),
	}
}

// Self returns the local user id.
func (t *Tracker) Self() models.ID { return t.self }

// OnUserJoined adds or refreshes an entry. It returns false when the event
// was ignored.
func (t *Tracker) OnUserJoined(u models.User) bool {
	if t.ignore(u.ID) {
		return false
	}
	e, ok := t.entries[u.ID]
	if !ok {
		t.entries[u.ID] = &models.PresenceEntry{User: u}
		return true
	}
	mergeUser(&e.User, u)
	return true
}

// OnUserLeft removes the user's entry.
func (t *Tracker) OnUserLeft(id models.ID) bool {
	if t.ignore(id) {
		return false
	}
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// OnFileFocus records the file a user is viewing, creating the entry if the
// user was not yet known.
func (t *Tracker) OnFileFocus(u models.User, nodeID models.ID) bool {
	if t.ignore(u.ID) {
		return false
	}
	e, ok := t.entries[u.ID]
	if !ok {
		e = &models.PresenceEntry{User: u}
		t.entries[u.ID] = e
	} else {
		mergeUser(&e.User, u)
	}
	e.ActiveNodeID = nodeID
	return true
}

// Cursor is a caret and selection inside one file.
type Cursor struct {
	NodeID         models.ID
	Position       int
	SelectionStart int
	SelectionEnd   int
}

// OnCursorUpdate updates a known user's cursor. Updates for unknown users
// are dropped. A cursor in a file implies the user is viewing it.
func (t *Tracker) OnCursorUpdate(u models.User, c Cursor) bool {
	if t.ignore(u.ID) {
		return false
	}
	e, ok := t.entries[u.ID]
	if !ok {
		return false
	}
	mergeUser(&e.User, u)
	if c.NodeID != "" {
		e.ActiveNodeID = c.NodeID
	}
	e.CursorPosition = c.Position
	e.SelectionStart = c.SelectionStart
	e.SelectionEnd = c.SelectionEnd
	return true
}

// EntriesViewing returns copies of the entries whose active node is nodeID,
// ordered by label. An empty nodeID matches nothing.
func (t *Tracker) EntriesViewing(nodeID models.ID) []models.PresenceEntry {
	if nodeID == "" {
		return nil
	}
	var out []models.PresenceEntry
	for _, e := range t.entries {
		if e.ActiveNodeID == nodeID {
			out = append(out, *e)
		}
	}
	sortEntries(out)
	return out
}

// All returns copies of every entry, ordered by label.
func (t *Tracker) All() []models.PresenceEntry {
	out := make([]models.PresenceEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	sortEntries(out)
	return out
}

// Get returns a copy of the entry for id.
func (t *Tracker) Get(id models.ID) (models.PresenceEntry, bool) {
	e, ok := t.entries[id]
	if !ok {
		return models.PresenceEntry{}, false
	}
	return *e, true
}

func (t *Tracker) Len() int { return len(t.entries) }

// Reset drops every entry.
func (t *Tracker) Reset() {
	clear(t.entries)
}

func (t *Tracker) ignore(id models.ID) bool {
	return id == "" || id == t.self
}

// mergeUser copies the non-empty identity fields of src into dst.
func mergeUser(dst *models.User, src models.User) {
	if src.Username != "" {
		dst.Username = src.Username
	}
	if src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
	}
	if src.Color != "" {
		dst.Color = src.Color
	}
}

func sortEntries(entries []models.PresenceEntry) {
	slices.SortFunc(entries, func(a, b models.PresenceEntry) int {
		if r := strings.Compare(strings.ToLower(a.Label()), strings.ToLower(b.Label())); r != 0 {
			return r
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
}
