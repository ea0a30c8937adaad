// Package delta computes and applies single-region text edits.
//
// A Delta describes the difference between two snapshots as one contiguous
// changed region: the longest common prefix and suffix are kept and
// whatever lies between them is replaced. This holds for ordinary typing
// and produces a larger-than-minimal edit for multi-region changes, which
// is an accepted approximation.
//
// Positions and lengths count Unicode code points, so a delta never splits
// a UTF-8 sequence.
package delta

import "fmt"

// Type classifies a delta.
type Type string

const (
	Insert  Type = "insert"
	Delete  Type = "delete"
	Replace Type = "replace"
)

// Delta is one contiguous edit. Length runes starting at Position are
// removed and Text is inserted in their place.
type Delta struct {
	Type     Type   `json:"type"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
}

func (d Delta) String() string {
	return fmt.Sprintf("%s@%d(-%d,+%q)", d.Type, d.Position, d.Length, d.Text)
}

// Inserted returns the number of runes the delta inserts.
func (d Delta) Inserted() int {
	return len([]rune(d.Text))
}

// Compute returns the delta that turns oldText into newText, or nil when
// the texts are identical.
//
// cursorHint is the caret offset in newText after the edit, or -1. When the
// changed region is ambiguous (typing a character next to an identical
// one) the hint anchors the region at the caret; a hint inconsistent with
// the texts is ignored.
func Compute(oldText, newText string, cursorHint int) *Delta {
	if oldText == newText {
		return nil
	}
	o := []rune(oldText)
	n := []rune(newText)

	p := commonPrefix(o, n)
	s := commonSuffix(o, n, p)

	if start, removed, inserted, ok := anchorAtCursor(o, n, p, cursorHint); ok {
		return build(start, o[start:start+removed], n[start:start+inserted])
	}
	return build(p, o[p:len(o)-s], n[p:len(n)-s])
}

// anchorAtCursor resolves pure insertions and pure deletions against the
// caret. It only succeeds when the anchored region is a valid explanation
// of the edit.
func anchorAtCursor(o, n []rune, prefix, cursor int) (start, removed, inserted int, ok bool) {
	diff := len(n) - len(o)
	if cursor < 0 || cursor > len(n) || diff == 0 {
		return 0, 0, 0, false
	}
	if diff > 0 {
		start = cursor - diff
		if start < 0 || start > prefix {
			return 0, 0, 0, false
		}
		if !equalRunes(o[start:], n[cursor:]) {
			return 0, 0, 0, false
		}
		return start, 0, diff, true
	}
	start = cursor
	if start > prefix || start-diff > len(o) {
		return 0, 0, 0, false
	}
	if !equalRunes(o[start-diff:], n[start:]) {
		return 0, 0, 0, false
	}
	return start, -diff, 0, true
}

func build(pos int, removed, inserted []rune) *Delta {
	d := &Delta{
		Position: pos,
		Text:     string(inserted),
		Length:   len(removed),
	}
	switch {
	case len(removed) == 0:
		d.Type = Insert
	case len(inserted) == 0:
		d.Type = Delete
	default:
		d.Type = Replace
	}
	return d
}

// Apply splices d into text. Out-of-range positions and lengths are
// clamped to the text; a nil delta returns text unchanged.
func Apply(text string, d *Delta) string {
	if d == nil {
		return text
	}
	r := []rune(text)
	pos := clamp(d.Position, 0, len(r))
	length := 0
	if d.Type != Insert {
		length = clamp(d.Length, 0, len(r)-pos)
	}

	out := make([]rune, 0, len(r)-length+len(d.Text))
	out = append(out, r[:pos]...)
	out = append(out, []rune(d.Text)...)
	out = append(out, r[pos+length:]...)
	return string(out)
}

// Valid reports whether d could have been produced against a text of
// runeLen runes.
func Valid(d *Delta, runeLen int) bool {
	if d == nil {
		return true
	}
	if d.Position < 0 || d.Length < 0 || d.Position > runeLen {
		return false
	}
	switch d.Type {
	case Insert:
		return d.Length == 0 && d.Text != ""
	case Delete:
		return d.Text == "" && d.Length > 0 && d.Position+d.Length <= runeLen
	case Replace:
		return d.Position+d.Length <= runeLen
	}
	return false
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// commonSuffix is bounded so that prefix and suffix never overlap.
func commonSuffix(a, b []rune, prefix int) int {
	limit := min(len(a), len(b)) - prefix
	i := 0
	for i < limit && a[len(a)-1-i] == b[len(b)-1-i] {
		i++
	}
	return i
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
