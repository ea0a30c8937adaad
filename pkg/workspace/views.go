package workspace

import "github.com/Samijain03/Collab-X/pkg/view"

// TreeView returns the visible tree rows.
func (e *Engine) TreeView() []view.TreeRow {
	return view.TreeRows(e.tree, e.expand, e.doc.nodeID)
}

// EditorView returns the editor panel for the active file. Viewer badges
// only list users looking at that file.
func (e *Engine) EditorView() view.Editor {
	in := view.EditorInput{
		State:     e.doc.state.String(),
		Synced:    e.doc.state == Synced,
		Connected: e.Connected(),
		LastRun:   e.lastRun,
		LastError: e.lastError,
	}
	if n := e.ActiveNode(); n != nil {
		in.Active = n
		in.Content = e.surface.Text()
		in.Viewers = e.presence.EntriesViewing(n.ID)
	}
	return view.BuildEditor(in)
}
