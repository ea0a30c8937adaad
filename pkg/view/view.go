// Package view projects engine state into the data a UI renders: the rows
// of the file tree and the editor panel. It holds no state of its own.
package view

import (
	"fmt"
	"strings"

	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/tree"
)

// Placeholder texts.
const (
	NoFileTitle       = "Select a file"
	NoOutputYet       = "Select a file and press Run to see output."
	EmptyOutput       = "(no output)"
	HTMLRenderedBelow = "Rendered HTML preview below."
	NoFilesYet        = "No files yet"
)

// TreeRow is one visible line of the file tree.
type TreeRow struct {
	ID       models.ID
	Name     string
	Depth    int
	Folder   bool
	Expanded bool
	Active   bool
	Language string
}

// TreeRows lists visible nodes in display order. Children of collapsed
// folders are omitted.
func TreeRows(t *tree.Tree, expand *tree.ExpandState, activeID models.ID) []TreeRow {
	var rows []TreeRow
	t.Walk(func(n *models.Node, depth int) bool {
		row := TreeRow{
			ID:     n.ID,
			Name:   n.Name,
			Depth:  depth,
			Folder: n.IsFolder(),
			Active: n.ID == activeID,
		}
		if row.Folder {
			row.Expanded = expand.IsExpanded(n.ID)
		} else {
			row.Language = n.Language
			if row.Language == "" {
				row.Language = models.GuessLanguage(n.Name, models.LangText)
			}
		}
		rows = append(rows, row)
		return row.Expanded
	})
	return rows
}

// Badge marks a remote user viewing the open file.
type Badge struct {
	UserID models.ID
	Label  string
	Color  string
	Cursor int
}

// Controls are the file actions currently available.
type Controls struct {
	Run      bool
	Download bool
	Rename   bool
	Delete   bool
}

// OutputKind selects how run output is shown.
type OutputKind int

const (
	OutputNone OutputKind = iota
	OutputText
	OutputHTML
)

// Output is the run panel.
type Output struct {
	Kind OutputKind
	// Text is the console text: stdout, stderr after a warning marker, or a
	// placeholder.
	Text   string
	Stderr string
	HTML   string
	// Summary is a plain-text rendering of HTML output.
	Summary string
	Meta    string
}

// Editor is the editor panel.
type Editor struct {
	Title     string
	Language  string
	State     string
	Enabled   bool
	Connected bool
	Content   string
	Controls  Controls
	Viewers   []Badge
	Output    Output
	Error     string
}

// EditorInput is the engine state the editor panel is derived from.
type EditorInput struct {
	Active    *models.Node
	State     string
	Synced    bool
	Connected bool
	Content   string
	Viewers   []models.PresenceEntry
	LastRun   *models.RunResult
	LastError string
}

// BuildEditor derives the editor panel. With no active file every control
// is off and the output shows its placeholder.
func BuildEditor(in EditorInput) Editor {
	ed := Editor{
		Title:     NoFileTitle,
		State:     in.State,
		Connected: in.Connected,
		Error:     in.LastError,
		Output:    Output{Text: NoOutputYet},
	}
	if in.Active == nil {
		return ed
	}

	ed.Title = in.Active.Name
	ed.Language = in.Active.Language
	if ed.Language == "" {
		ed.Language = models.GuessLanguage(in.Active.Name, models.LangText)
	}
	ed.Content = in.Content
	ed.Enabled = in.Synced && in.Connected
	ed.Controls = Controls{
		Run:      ed.Enabled && models.Runnable(ed.Language),
		Download: in.Synced,
		Rename:   in.Connected,
		Delete:   in.Connected,
	}
	for _, e := range in.Viewers {
		ed.Viewers = append(ed.Viewers, Badge{UserID: e.ID, Label: e.Label(), Color: e.Color, Cursor: e.CursorPosition})
	}
	if in.LastRun != nil {
		ed.Output = BuildOutput(*in.LastRun)
	}
	return ed
}

// BuildOutput formats a run result for the output panel.
func BuildOutput(r models.RunResult) Output {
	out := Output{Meta: runMeta(r)}
	if r.IsHTML() {
		out.Kind = OutputHTML
		out.HTML = r.HTML
		out.Text = HTMLRenderedBelow
		out.Summary = HTMLSummary(r.HTML, 400)
		return out
	}
	out.Kind = OutputText
	out.Stderr = r.Stderr
	text := r.Stdout
	if r.Stderr != "" {
		text += "\n⚠️ " + r.Stderr
	}
	out.Text = strings.TrimSpace(text)
	if out.Text == "" {
		out.Text = EmptyOutput
	}
	return out
}

func runMeta(r models.RunResult) string {
	lang := strings.ToUpper(r.Language)
	if r.RequestedBy == "" {
		return lang
	}
	return fmt.Sprintf("%s • requested by %s", lang, r.RequestedBy)
}
