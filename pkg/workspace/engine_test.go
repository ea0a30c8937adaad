package workspace

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/pkg/delta"
	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/protocol"
	"github.com/Samijain03/Collab-X/pkg/schedule"
)

type fakeSender struct {
	sent []protocol.Intent
	err  error
}

func (f *fakeSender) Send(i protocol.Intent) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, i)
	return nil
}

func (f *fakeSender) writes() []protocol.WriteFile {
	var out []protocol.WriteFile
	for _, i := range f.sent {
		if w, ok := i.(protocol.WriteFile); ok {
			out = append(out, w)
		}
	}
	return out
}

func (f *fakeSender) last() protocol.Intent {
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) reset() { f.sent = nil }

var self = models.User{ID: "me", Username: "me"}

type harness struct {
	e       *Engine
	sender  *fakeSender
	surface *MemorySurface
	clock   *schedule.ManualClock
	confirm bool
}

func newHarness(t *testing.T, writeDebounce time.Duration) *harness {
	t.Helper()
	h := &harness{
		sender:  &fakeSender{},
		surface: NewMemorySurface(),
		clock:   schedule.NewManualClock(time.Unix(0, 0)),
	}
	h.e = NewEngine(Options{
		Self:           self,
		Sender:         h.sender,
		Surface:        h.surface,
		Clock:          h.clock,
		Post:           func(f func()) { f() },
		WriteDebounce:  writeDebounce,
		CursorDebounce: 100 * time.Millisecond,
		Confirm:        ConfirmFunc(func(string) bool { return h.confirm }),
		Logger:         zap.NewNop(),
	})
	require.NoError(t, h.e.OnOpen())
	assert.Equal(t, protocol.ListFiles{}, h.sender.last())
	h.e.Dispatch(protocol.Bootstrap{Nodes: []*models.Node{
		{ID: "src", Name: "src", NodeType: models.NodeFolder},
		{ID: "a", Name: "a.py", NodeType: models.NodeFile, ParentID: "src", Language: "python"},
		{ID: "b", Name: "b.html", NodeType: models.NodeFile, Language: "html"},
		{ID: "c", Name: "notes.md", NodeType: models.NodeFile},
	}})
	h.sender.reset()
	return h
}

// open opens id and answers the read with content.
func (h *harness) open(t *testing.T, id models.ID, content string) {
	t.Helper()
	require.NoError(t, h.e.Open(id))
	require.Equal(t, Loading, h.e.Document().State())
	h.e.Dispatch(protocol.FileContent{NodeID: id, Content: content})
	require.Equal(t, Synced, h.e.Document().State())
	h.sender.reset()
}

func TestOpenSendsFocusAndRead(t *testing.T) {
	h := newHarness(t, DefaultWriteDebounce)
	require.NoError(t, h.e.Open("a"))
	assert.Equal(t, []protocol.Intent{
		protocol.FocusFile{NodeID: "a"},
		protocol.ReadFile{NodeID: "a"},
	}, h.sender.sent)
	assert.False(t, h.surface.Enabled())
	assert.True(t, h.e.Expanded().IsExpanded("src"))

	h.e.Dispatch(protocol.FileContent{NodeID: "a", Content: "print(1)"})
	assert.Equal(t, Synced, h.e.Document().State())
	assert.True(t, h.surface.Enabled())
	assert.Equal(t, "print(1)", h.surface.Text())
	assert.Empty(t, h.sender.writes(), "loading content must not echo back as a write")

	assert.ErrorIs(t, h.e.Open("src"), ErrNotAFile)
	assert.ErrorIs(t, h.e.Open("zzz"), ErrNotFound)
}

func TestLocalEditSendsDelta(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "abc")

	h.surface.Insert("d")
	// Caret was at 0 after load; Insert types at the caret.
	require.Len(t, h.sender.writes(), 1)
	w := h.sender.writes()[0]
	assert.Equal(t, models.ID("a"), w.NodeID)
	assert.Equal(t, delta.Delta{Type: delta.Insert, Position: 0, Text: "d"}, *w.Delta)
	assert.Equal(t, 1, w.CursorPosition)
	assert.Equal(t, "dabc", h.e.Document().LastKnownContent())
}

func TestOwnEchoIsIgnored(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "abc")

	h.surface.SetCaret(3)
	h.surface.Insert("d")
	require.Len(t, h.sender.writes(), 1)
	assert.Equal(t, "abcd", h.surface.Text())

	h.e.Dispatch(protocol.FileUpdate{
		NodeID: "a",
		UserID: self.ID,
		Delta:  &delta.Delta{Type: delta.Insert, Position: 3, Text: "d"},
	})
	assert.Equal(t, "abcd", h.surface.Text())
	assert.Equal(t, "abcd", h.e.Document().LocalContent())
}

func TestRemoteDeltaAppliesWithoutEcho(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "hello world")
	h.surface.SetCaret(5)
	h.surface.SetScroll(0)

	h.e.Dispatch(protocol.FileUpdate{
		NodeID: "a",
		UserID: "u2",
		Delta:  &delta.Delta{Type: delta.Insert, Position: 11, Text: "!"},
	})
	assert.Equal(t, "hello world!", h.surface.Text())
	assert.Equal(t, "hello world!", h.e.Document().LastKnownContent())
	assert.Equal(t, 5, h.surface.Caret())
	assert.Empty(t, h.sender.sent, "a remote apply must not produce a write")
	assert.False(t, h.e.Document().ApplyingRemote())
}

func TestRemoteFullContentClampsCaret(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "line1\nline2\nline3")
	h.surface.SetCaret(16)
	h.surface.SetScroll(2)

	content := "x"
	h.e.Dispatch(protocol.FileUpdate{NodeID: "a", UserID: "u2", Content: &content})
	assert.Equal(t, "x", h.surface.Text())
	assert.Equal(t, 1, h.surface.Caret())
	assert.Equal(t, 0, h.surface.Scroll())
	assert.Empty(t, h.sender.sent)
}

func TestRemoteUpdateWhileLoadingIsIgnored(t *testing.T) {
	h := newHarness(t, NoDebounce)
	require.NoError(t, h.e.Open("a"))
	h.e.Dispatch(protocol.FileUpdate{NodeID: "a", UserID: "u2", Delta: &delta.Delta{Type: delta.Insert, Text: "zz"}})
	assert.Equal(t, Loading, h.e.Document().State())
	assert.Equal(t, "", h.surface.Text())
}

func TestDebounceCoalescesEdits(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.open(t, "a", "")

	for _, s := range []string{"a", "b", "c"} {
		h.surface.Insert(s)
		h.clock.Advance(50 * time.Millisecond)
	}
	assert.Empty(t, h.sender.writes())

	h.clock.Advance(200 * time.Millisecond)
	writes := h.sender.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, delta.Delta{Type: delta.Insert, Position: 0, Text: "abc"}, *writes[0].Delta)
	assert.Equal(t, 3, writes[0].CursorPosition)
}

func TestSwitchingCancelsPendingWrite(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.open(t, "a", "abc")
	h.surface.Insert("zzz")

	require.NoError(t, h.e.Open("c"))
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.writes(), "no write may follow navigation")
	assert.Equal(t, 0, h.clock.Pending())
}

func TestCloseDocumentDiscardsPendingWrite(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.open(t, "a", "abc")
	h.surface.Insert("zzz")
	h.e.CloseDocument()
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.writes())
	assert.Equal(t, Closed, h.e.Document().State())
}

func TestPendingWriteFlushedBeforeRemoteApply(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.open(t, "a", "abc")
	h.surface.SetCaret(3)
	h.surface.Insert("d")

	h.e.Dispatch(protocol.FileUpdate{NodeID: "a", UserID: "u2", Delta: &delta.Delta{Type: delta.Insert, Position: 0, Text: ">"}})
	writes := h.sender.writes()
	require.Len(t, writes, 1)
	assert.Equal(t, delta.Delta{Type: delta.Insert, Position: 3, Text: "d"}, *writes[0].Delta)
	assert.Equal(t, ">abcd", h.surface.Text())

	h.clock.Advance(time.Second)
	assert.Len(t, h.sender.writes(), 1)
}

func TestDeletingActiveNodeClosesDocument(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "print(1)")

	h.e.Dispatch(protocol.NodeChanged{Kind: protocol.KindNodeDeleted, NodeID: "src"})
	assert.Equal(t, Closed, h.e.Document().State())
	assert.Equal(t, models.ID(""), h.e.Document().NodeID())
	assert.False(t, h.surface.Enabled())
	assert.Nil(t, h.e.Node("a"), "descendants go with their folder")

	assert.ErrorIs(t, h.e.Run(), ErrNoActiveNode)
	_, _, err := h.e.Download()
	assert.ErrorIs(t, err, ErrNoActiveNode)
}

func TestTreeRefreshWithoutActiveNodeCloses(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "c", "# notes")
	h.e.Dispatch(protocol.TreeRefresh{Nodes: []*models.Node{
		{ID: "b", Name: "b.html", NodeType: models.NodeFile},
	}})
	assert.Equal(t, Closed, h.e.Document().State())
	assert.Equal(t, 1, h.e.Tree().Len())
}

func TestTreeRefreshSelectsNode(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.e.Dispatch(protocol.TreeRefresh{
		Nodes: []*models.Node{
			{ID: "b", Name: "b.html", NodeType: models.NodeFile},
			{ID: "n", Name: "new.py", NodeType: models.NodeFile},
		},
		SelectNodeID: "n",
	})
	assert.Equal(t, models.ID("n"), h.e.Document().NodeID())
	assert.Equal(t, Loading, h.e.Document().State())
	assert.Equal(t, protocol.ReadFile{NodeID: "n"}, h.sender.last())
}

func TestNodeChangedPatchesTree(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.e.Dispatch(protocol.NodeChanged{Kind: protocol.KindFileCreated, Node: &models.Node{
		ID: "d", Name: "util.py", NodeType: models.NodeFile, ParentID: "src",
	}})
	require.NotNil(t, h.e.Node("d"))
	assert.Equal(t, "src/util.py", h.e.Node("d").FullPath)

	h.e.Dispatch(protocol.NodeChanged{Kind: protocol.KindFileRenamed, Node: &models.Node{
		ID: "d", Name: "helpers.py", NodeType: models.NodeFile, ParentID: "src",
	}})
	assert.Equal(t, "helpers.py", h.e.Node("d").Name)
	assert.Equal(t, 5, h.e.Tree().Len())
}

func TestInactiveDeltaInvalidatesCache(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "x")
	h.open(t, "c", "notes")
	require.True(t, h.e.Node("a").HasContent())

	h.e.Dispatch(protocol.FileUpdate{NodeID: "a", UserID: "u2", Delta: &delta.Delta{Type: delta.Insert, Text: "y"}})
	assert.False(t, h.e.Node("a").HasContent())

	full := "yx"
	h.e.Dispatch(protocol.FileUpdate{NodeID: "a", UserID: "u2", Content: &full})
	assert.Equal(t, "yx", h.e.Node("a").Text())
	assert.Equal(t, "notes", h.surface.Text())
}

func TestPresenceFiltering(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "c", "")

	h.e.Dispatch(protocol.UserJoined{User: models.User{ID: "u2", Username: "ann"}})
	h.e.Dispatch(protocol.FileFocus{User: models.User{ID: "u2"}, NodeID: "a"})
	h.e.Dispatch(protocol.FileFocus{User: self, NodeID: "c"})
	assert.Empty(t, h.e.Presence().EntriesViewing(h.e.Document().NodeID()))

	h.e.Dispatch(protocol.CursorUpdate{User: models.User{ID: "u2"}, NodeID: "c", CursorPosition: 0})
	assert.Len(t, h.e.Presence().EntriesViewing("c"), 1)

	h.e.Dispatch(protocol.CursorUpdate{User: models.User{ID: "ghost"}, NodeID: "c"})
	assert.Equal(t, 1, h.e.Presence().Len())

	h.e.Dispatch(protocol.UserLeft{UserID: "u2"})
	assert.Empty(t, h.e.Presence().EntriesViewing("c"))
}

func TestCursorBroadcasts(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "abcdef")

	h.surface.SetCaret(2)
	h.e.CursorMoved()
	h.surface.SetCaret(4)
	h.e.CursorMoved()
	assert.Empty(t, h.sender.sent)

	h.clock.Advance(100 * time.Millisecond)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, protocol.CursorPosition{NodeID: "a", CursorPosition: 4, SelectionStart: 4, SelectionEnd: 4}, h.sender.sent[0])

	h.e.CursorMoved()
	require.NoError(t, h.e.CursorCommitted())
	h.clock.Advance(time.Second)
	assert.Len(t, h.sender.sent, 2, "a committed cursor replaces the pending debounced one")
}

func TestCreateRenameDelete(t *testing.T) {
	h := newHarness(t, NoDebounce)

	require.NoError(t, h.e.CreateNode(" main.py ", models.NodeFile, "src"))
	assert.Equal(t, protocol.CreateNode{Name: "main.py", NodeType: models.NodeFile, ParentID: "src"}, h.sender.last())
	assert.Nil(t, h.e.Tree().FindByPath("src/main.py"), "the tree waits for the session")

	assert.ErrorIs(t, h.e.CreateNode("x", models.NodeFile, "a"), ErrNotAFolder)
	assert.ErrorIs(t, h.e.CreateNode("  ", models.NodeFile, ""), ErrInvalidName)
	assert.ErrorIs(t, h.e.CreateNode("x", "symlink", ""), ErrInvalidName)

	require.NoError(t, h.e.RenameNode("a", "b.py"))
	assert.Equal(t, protocol.RenameNode{NodeID: "a", Name: "b.py"}, h.sender.last())
	assert.ErrorIs(t, h.e.RenameNode("a", "x/y"), ErrInvalidName)

	h.sender.reset()
	assert.ErrorIs(t, h.e.DeleteNode("a"), ErrNotConfirmed)
	assert.Empty(t, h.sender.sent)
	h.confirm = true
	require.NoError(t, h.e.DeleteNode("a"))
	assert.Equal(t, protocol.DeleteNode{NodeID: "a"}, h.sender.last())
}

func TestRunSendsEditorContent(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.open(t, "a", "print(1)")
	h.surface.Replace("print(2)")

	require.NoError(t, h.e.Run())
	require.Len(t, h.sender.sent, 2, "pending write is flushed before the run")
	assert.Equal(t, protocol.ExecuteCode{NodeID: "a", Code: "print(2)", Language: "python"}, h.sender.last())

	h.e.Dispatch(protocol.RunResult{NodeID: "a", Language: "python", RequestedBy: "me", Result: protocol.RunOutput{Stdout: "2\n"}})
	require.NotNil(t, h.e.LastRun())
	assert.Equal(t, "2\n", h.e.LastRun().Stdout)

	h.open(t, "c", "")
	assert.ErrorIs(t, h.e.Run(), ErrNotRunnable)
}

func TestDownload(t *testing.T) {
	h := newHarness(t, NoDebounce)
	_, _, err := h.e.Download()
	assert.ErrorIs(t, err, ErrNoActiveNode)

	h.open(t, "b", "<p>hi</p>")
	name, content, err := h.e.Download()
	require.NoError(t, err)
	assert.Equal(t, "b.html", name)
	assert.Equal(t, "<p>hi</p>", content)
}

func TestDisconnectDisablesEditor(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond)
	h.open(t, "a", "abc")
	h.surface.Insert("z")

	h.e.OnDisconnect(errors.New("eof"))
	assert.False(t, h.surface.Enabled())
	assert.False(t, h.e.Connected())
	h.clock.Advance(time.Second)
	assert.Empty(t, h.sender.writes())
	assert.ErrorIs(t, h.e.Open("c"), ErrDisconnected)
}

func TestOpenAfterDisconnectStaysClosed(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.e.OnDisconnect(errors.New("eof"))
	h.sender.reset()

	assert.ErrorIs(t, h.e.OnOpen(), ErrDisconnected)
	assert.False(t, h.e.Connected())
	assert.Empty(t, h.sender.sent)
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	h := newHarness(t, NoDebounce)
	before := h.e.Tree().Len()
	h.e.Dispatch(protocol.Unknown{Tag: "chat_message"})
	assert.Equal(t, before, h.e.Tree().Len())
}

func TestEditorViewFollowsDocument(t *testing.T) {
	h := newHarness(t, NoDebounce)
	h.open(t, "a", "print(1)")
	h.e.Dispatch(protocol.UserJoined{User: models.User{ID: "u2", Username: "ann"}})
	h.e.Dispatch(protocol.FileFocus{User: models.User{ID: "u2"}, NodeID: "a"})

	ed := h.e.EditorView()
	assert.Equal(t, "a.py", ed.Title)
	assert.True(t, ed.Enabled)
	assert.True(t, ed.Controls.Run)
	assert.Len(t, ed.Viewers, 1)

	rows := h.e.TreeView()
	require.Len(t, rows, 4)
	assert.True(t, rows[1].Active)

	h.e.Dispatch(protocol.NodeChanged{Kind: protocol.KindFileDeleted, NodeID: "a"})
	ed = h.e.EditorView()
	assert.False(t, ed.Enabled)
	assert.False(t, ed.Controls.Run || ed.Controls.Download || ed.Controls.Rename || ed.Controls.Delete)
	assert.Empty(t, ed.Viewers)
}
