package workspace

import (
	"strings"
	"unicode/utf8"

	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/schedule"
)

// State is the lifecycle of the active document.
type State int

const (
	// Closed means no file is open.
	Closed State = iota
	// Loading means a file was selected and its content requested.
	Loading
	// Synced means the content arrived and the editor accepts input.
	Synced
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Loading:
		return "loading"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// Surface is the editable text widget the document drives. Offsets are in
// runes.
type Surface interface {
	Text() string
	SetText(string)
	Caret() int
	SetCaret(int)
	Scroll() int
	SetScroll(int)
	SetEnabled(bool)
}

// ChangeNotifier is implemented by surfaces that report user edits. The
// engine registers its local-edit handler through it.
type ChangeNotifier interface {
	OnChange(func())
}

// Document is the editor state for the active file. It is owned by one
// Engine and only touched from its event loop.
type Document struct {
	state  State
	nodeID models.ID

	// localContent mirrors the surface; lastKnown is the content last known
	// to match the server.
	localContent string
	lastKnown    string

	applying int
	surface  Surface

	writes  *schedule.Debouncer
	cursors *schedule.Debouncer
}

func newDocument(s Surface, writes, cursors *schedule.Debouncer) *Document {
	d := &Document{surface: s, writes: writes, cursors: cursors}
	s.SetEnabled(false)
	return d
}

func (d *Document) State() State             { return d.state }
func (d *Document) NodeID() models.ID        { return d.nodeID }
func (d *Document) LocalContent() string     { return d.localContent }
func (d *Document) LastKnownContent() string { return d.lastKnown }

// ApplyingRemote reports whether the document is inside a remote-apply
// scope. Surface changes observed in that scope are not user edits.
func (d *Document) ApplyingRemote() bool { return d.applying > 0 }

// remote runs fn inside the remote-apply scope. The scope is exited even
// if fn panics.
func (d *Document) remote(fn func()) {
	d.applying++
	defer func() { d.applying-- }()
	fn()
}

// load moves a Loading document to Synced with content.
func (d *Document) load(content string) {
	d.remote(func() {
		d.surface.SetText(content)
		d.surface.SetCaret(0)
		d.surface.SetScroll(0)
	})
	d.localContent = content
	d.lastKnown = content
	d.state = Synced
	d.surface.SetEnabled(true)
}

// replace swaps in remote content while keeping the caret and scroll
// offsets as close to where they were as the new text allows.
func (d *Document) replace(content string) {
	d.remote(func() {
		caret := d.surface.Caret()
		scroll := d.surface.Scroll()
		d.surface.SetText(content)
		d.surface.SetCaret(min(caret, utf8.RuneCountInString(content)))
		d.surface.SetScroll(min(scroll, strings.Count(content, "\n")))
	})
	d.localContent = content
	d.lastKnown = content
}

// begin switches to nodeID in the Loading state, discarding pending
// timers for the previous file.
func (d *Document) begin(nodeID models.ID) {
	d.cancelTimers()
	d.state = Loading
	d.nodeID = nodeID
	d.localContent = ""
	d.lastKnown = ""
	d.surface.SetEnabled(false)
	d.remote(func() { d.surface.SetText("") })
}

// close resets to Closed. Pending timers are discarded, never flushed.
func (d *Document) close() {
	d.cancelTimers()
	d.state = Closed
	d.nodeID = ""
	d.localContent = ""
	d.lastKnown = ""
	d.surface.SetEnabled(false)
	d.remote(func() { d.surface.SetText("") })
}

func (d *Document) cancelTimers() {
	d.writes.Cancel()
	d.cursors.Cancel()
}

// MemorySurface is a headless Surface. Replace and Insert model user
// typing and notify the change hook; SetText also notifies, as many
// editors do for programmatic updates.
type MemorySurface struct {
	text     []rune
	caret    int
	scroll   int
	enabled  bool
	onChange func()
}

// NewMemorySurface returns an empty, disabled surface.
func NewMemorySurface() *MemorySurface { return &MemorySurface{} }

func (s *MemorySurface) Text() string { return string(s.text) }

func (s *MemorySurface) SetText(text string) {
	s.text = []rune(text)
	s.caret = min(s.caret, len(s.text))
	s.changed()
}

func (s *MemorySurface) Caret() int { return s.caret }

func (s *MemorySurface) SetCaret(pos int) {
	s.caret = max(0, min(pos, len(s.text)))
}

func (s *MemorySurface) Scroll() int        { return s.scroll }
func (s *MemorySurface) SetScroll(line int) { s.scroll = max(0, line) }
func (s *MemorySurface) SetEnabled(b bool)  { s.enabled = b }
func (s *MemorySurface) Enabled() bool      { return s.enabled }
func (s *MemorySurface) OnChange(fn func()) { s.onChange = fn }

// Replace sets the whole text as a user edit and moves the caret to the
// end.
func (s *MemorySurface) Replace(text string) {
	s.text = []rune(text)
	s.caret = len(s.text)
	s.changed()
}

// Insert types text at the caret.
func (s *MemorySurface) Insert(text string) {
	ins := []rune(text)
	out := make([]rune, 0, len(s.text)+len(ins))
	out = append(out, s.text[:s.caret]...)
	out = append(out, ins...)
	out = append(out, s.text[s.caret:]...)
	s.text = out
	s.caret += len(ins)
	s.changed()
}

// Backspace deletes n runes before the caret.
func (s *MemorySurface) Backspace(n int) {
	n = min(n, s.caret)
	if n <= 0 {
		return
	}
	s.text = append(s.text[:s.caret-n], s.text[s.caret:]...)
	s.caret -= n
	s.changed()
}

func (s *MemorySurface) changed() {
	if s.onChange != nil {
		s.onChange()
	}
}
