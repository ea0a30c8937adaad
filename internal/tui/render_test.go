package tui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/view"
)

func plain() *Renderer {
	return New(&bytes.Buffer{}, false)
}

func TestTree(t *testing.T) {
	rows := []view.TreeRow{
		{ID: "1", Name: "src", Folder: true, Expanded: true},
		{ID: "2", Name: "main.py", Depth: 1, Active: true, Language: "python"},
		{ID: "3", Name: "lib", Depth: 1, Folder: true},
		{ID: "4", Name: "notes.md", Language: "markdown"},
	}
	viewers := ByNode([]models.PresenceEntry{
		{User: models.User{ID: "9", Username: "bob"}, ActiveNodeID: "2"},
		{User: models.User{ID: "8", Username: "idle"}},
	})

	lines := strings.Split(plain().Tree(rows, viewers), "\n")
	assert.Equal(t, []string{
		"▾ src/",
		"  ● main.py python @bob",
		"  ▸ lib/",
		"  notes.md markdown",
	}, lines)
}

func TestTreeEmpty(t *testing.T) {
	assert.Equal(t, view.NoFilesYet, plain().Tree(nil, nil))
}

func TestEditor(t *testing.T) {
	ed := view.BuildEditor(view.EditorInput{
		Active:    &models.Node{ID: "2", Name: "main.py", Language: "python"},
		State:     "synced",
		Synced:    true,
		Connected: true,
		Content:   "print(1)\nprint(2)",
		Viewers:   []models.PresenceEntry{{User: models.User{ID: "9", DisplayName: "Bob"}, ActiveNodeID: "2"}},
		LastRun:   &models.RunResult{Language: "python", Stdout: "1\n2", RequestedBy: "Bob"},
	})

	out := plain().Editor(ed)
	assert.Contains(t, out, "main.py [PYTHON] synced")
	assert.Contains(t, out, "Also viewing: @Bob")
	assert.Contains(t, out, "1 │ print(1)\n2 │ print(2)")
	assert.Contains(t, out, "[run] [download] [mv] [rm]")
	assert.Contains(t, out, "Output PYTHON • requested by Bob\n1\n2")
	assert.NotContains(t, out, "disconnected")
}

func TestEditorWithoutFile(t *testing.T) {
	out := plain().Editor(view.BuildEditor(view.EditorInput{}))
	assert.Contains(t, out, view.NoFileTitle)
	assert.Contains(t, out, "(disconnected)")
	assert.Contains(t, out, view.NoOutputYet)
	assert.NotContains(t, out, "│")
}

func TestOutputHTML(t *testing.T) {
	out := plain().Output(view.BuildOutput(models.RunResult{Language: "html", HTML: "<h1>Hello</h1>"}))
	assert.Contains(t, out, view.HTMLRenderedBelow)
	assert.Contains(t, out, "Hello")
}

func TestPresence(t *testing.T) {
	entries := []models.PresenceEntry{
		{User: models.User{ID: "9", Username: "bob"}, ActiveNodeID: "2", CursorPosition: 4},
		{User: models.User{ID: "8", Username: "eve"}},
	}
	names := map[models.ID]string{"2": "main.py"}
	out := plain().Presence(entries, func(id models.ID) string { return names[id] })
	assert.Equal(t, "@bob viewing main.py at 4\n@eve", out)
	assert.Equal(t, "Nobody else is here.", plain().Presence(nil, nil))
}

func TestHighlight(t *testing.T) {
	r := New(&bytes.Buffer{}, true)
	code := "def f():\n    return 1"
	out := r.Highlight(code, "python")
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "return")

	assert.Equal(t, code, plain().Highlight(code, "python"))
}
