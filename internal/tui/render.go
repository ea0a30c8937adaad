// Package tui renders the tree and editor panels as terminal text.
package tui

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/view"
)

// DefaultTheme is the chroma style used for highlighting.
const DefaultTheme = "monokai"

// Renderer turns view data into styled text. Styles follow the color
// profile of the writer it was created for; a writer that is not a
// terminal gets plain text.
type Renderer struct {
	lg        *lipgloss.Renderer
	highlight bool
	theme     string

	header  lipgloss.Style
	active  lipgloss.Style
	folder  lipgloss.Style
	faint   lipgloss.Style
	errText lipgloss.Style
	warn    lipgloss.Style
}

// New returns a renderer for w. highlight enables syntax highlighting of
// editor content.
func New(w io.Writer, highlight bool) *Renderer {
	lg := lipgloss.NewRenderer(w)
	return &Renderer{
		lg:        lg,
		highlight: highlight,
		theme:     DefaultTheme,
		header:    lg.NewStyle().Bold(true),
		active:    lg.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		folder:    lg.NewStyle().Foreground(lipgloss.Color("6")),
		faint:     lg.NewStyle().Faint(true),
		errText:   lg.NewStyle().Foreground(lipgloss.Color("9")),
		warn:      lg.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// SetTheme selects a chroma style by name. Unknown names fall back to the
// default.
func (r *Renderer) SetTheme(name string) {
	if styles.Get(name) == styles.Fallback && name != styles.Fallback.Name {
		name = DefaultTheme
	}
	r.theme = name
}

// ByNode groups presence entries by the file they are viewing.
func ByNode(entries []models.PresenceEntry) map[models.ID][]models.PresenceEntry {
	out := make(map[models.ID][]models.PresenceEntry)
	for _, e := range entries {
		if e.ActiveNodeID != "" {
			out[e.ActiveNodeID] = append(out[e.ActiveNodeID], e)
		}
	}
	return out
}

// Tree renders the visible tree rows, one per line, with a badge for every
// remote user viewing a file.
func (r *Renderer) Tree(rows []view.TreeRow, viewers map[models.ID][]models.PresenceEntry) string {
	if len(rows) == 0 {
		return r.faint.Render(view.NoFilesYet)
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Repeat("  ", row.Depth))
		switch {
		case row.Folder && row.Expanded:
			b.WriteString(r.folder.Render("▾ " + row.Name + "/"))
		case row.Folder:
			b.WriteString(r.folder.Render("▸ " + row.Name + "/"))
		case row.Active:
			b.WriteString(r.active.Render("● " + row.Name))
		default:
			b.WriteString("  " + row.Name)
		}
		if !row.Folder {
			b.WriteString(" " + r.faint.Render(row.Language))
		}
		for _, e := range viewers[row.ID] {
			b.WriteString(" " + r.badge(e.Label(), e.Color))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Renderer) badge(label, color string) string {
	st := r.lg.NewStyle().Bold(true)
	if color != "" {
		st = st.Foreground(lipgloss.Color(color))
	}
	return st.Render("@" + label)
}

// Editor renders the editor panel: header, viewers, numbered content,
// available actions and the output panel.
func (r *Renderer) Editor(ed view.Editor) string {
	var parts []string

	title := ed.Title
	if ed.Language != "" {
		title += " " + r.faint.Render("["+strings.ToUpper(ed.Language)+"]")
	}
	if ed.State != "" {
		title += " " + r.faint.Render(ed.State)
	}
	if !ed.Connected {
		title += " " + r.errText.Render("(disconnected)")
	}
	parts = append(parts, r.header.Render(title))

	if len(ed.Viewers) > 0 {
		badges := make([]string, 0, len(ed.Viewers))
		for _, v := range ed.Viewers {
			badges = append(badges, r.badge(v.Label, v.Color))
		}
		parts = append(parts, "Also viewing: "+strings.Join(badges, " "))
	}
	if ed.Error != "" {
		parts = append(parts, r.Error(ed.Error))
	}
	if ed.Title != view.NoFileTitle {
		parts = append(parts, r.numbered(r.Highlight(ed.Content, ed.Language)))
		if actions := controls(ed.Controls); actions != "" {
			parts = append(parts, r.faint.Render(actions))
		}
	}
	parts = append(parts, r.Output(ed.Output))
	return strings.Join(parts, "\n")
}

func controls(c view.Controls) string {
	var out []string
	for _, a := range []struct {
		on   bool
		name string
	}{{c.Run, "run"}, {c.Download, "download"}, {c.Rename, "mv"}, {c.Delete, "rm"}} {
		if a.on {
			out = append(out, "["+a.name+"]")
		}
	}
	return strings.Join(out, " ")
}

func (r *Renderer) numbered(content string) string {
	lines := strings.Split(content, "\n")
	width := len(fmt.Sprint(len(lines)))
	var b strings.Builder
	for i, line := range lines {
		b.WriteString(r.faint.Render(fmt.Sprintf("%*d │", width, i+1)))
		b.WriteString(" " + line)
		if i < len(lines)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Error renders an error line.
func (r *Renderer) Error(msg string) string {
	return r.errText.Render("Error: " + msg)
}

// Output renders the run panel.
func (r *Renderer) Output(out view.Output) string {
	var parts []string
	if out.Meta != "" {
		parts = append(parts, r.header.Render("Output")+" "+r.faint.Render(out.Meta))
	}
	switch out.Kind {
	case view.OutputHTML:
		parts = append(parts, r.faint.Render(out.Text))
		if out.Summary != "" {
			parts = append(parts, out.Summary)
		}
	case view.OutputText:
		text := out.Text
		if out.Stderr != "" {
			if i := strings.Index(text, "⚠️"); i >= 0 {
				text = text[:i] + r.warn.Render(text[i:])
			}
		}
		parts = append(parts, text)
	default:
		parts = append(parts, r.faint.Render(out.Text))
	}
	return strings.Join(parts, "\n")
}

// Presence renders one line per remote user.
func (r *Renderer) Presence(entries []models.PresenceEntry, name func(models.ID) string) string {
	if len(entries) == 0 {
		return r.faint.Render("Nobody else is here.")
	}
	var b strings.Builder
	for i, e := range entries {
		b.WriteString(r.badge(e.Label(), e.Color))
		if e.ActiveNodeID != "" {
			where := string(e.ActiveNodeID)
			if name != nil {
				if n := name(e.ActiveNodeID); n != "" {
					where = n
				}
			}
			fmt.Fprintf(&b, " viewing %s at %d", where, e.CursorPosition)
		}
		if i < len(entries)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Highlight returns code with terminal color codes for its language. It
// returns code unchanged when highlighting is off or fails.
func (r *Renderer) Highlight(code, language string) string {
	if !r.highlight || code == "" {
		return code
	}
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)
	style := styles.Get(r.theme)
	formatter := formatters.Get("terminal256")

	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, it); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
