// Package workspace is the collaboration engine for one open workspace.
//
// An Engine owns the flat node set and the tree derived from it, the
// presence tracker and the active document. It is single-threaded: every
// method must be called from the goroutine that owns it, which in practice
// is the loop run by Session. Timers re-enter that loop through
// Options.Post.
package workspace

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/delta"
	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/presence"
	"github.com/Samijain03/Collab-X/pkg/protocol"
	"github.com/Samijain03/Collab-X/pkg/schedule"
	"github.com/Samijain03/Collab-X/pkg/tree"
)

var (
	ErrClosed       = errors.New("workspace: closed")
	ErrDisconnected = errors.New("workspace: channel disconnected")
	ErrNoActiveNode = errors.New("workspace: no file is open")
	ErrNotSynced    = errors.New("workspace: file is still loading")
	ErrNotFound     = errors.New("workspace: node not found")
	ErrNotAFile     = errors.New("workspace: node is not a file")
	ErrNotAFolder   = errors.New("workspace: parent is not a folder")
	ErrInvalidName  = errors.New("workspace: invalid name")
	ErrNotConfirmed = errors.New("workspace: action not confirmed")
	ErrNotRunnable  = errors.New("workspace: language cannot be run")
)

// Default debounce windows. NoDebounce sends on every change.
const (
	DefaultWriteDebounce  = 200 * time.Millisecond
	DefaultCursorDebounce = 100 * time.Millisecond
	NoDebounce            = time.Duration(-1)
)

// Sender delivers intents to the session.
type Sender interface {
	Send(protocol.Intent) error
}

// Confirmer approves destructive actions.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

// Change tells observers which part of the engine state moved.
type Change int

const (
	ChangeTree Change = iota
	ChangeDocument
	ChangePresence
	ChangeRun
	ChangeError
)

// Options configure an Engine.
type Options struct {
	Self    models.User
	Sender  Sender
	Surface Surface
	// Confirm approves deletes. A nil Confirmer rejects every delete.
	Confirm Confirmer
	Clock   schedule.Clock
	// Post runs a function on the engine's loop. Session sets it; when nil,
	// timer callbacks run on the timer goroutine.
	Post           func(func())
	WriteDebounce  time.Duration
	CursorDebounce time.Duration
	Locale         language.Tag
	Logger         *zap.Logger
	// Notify is called on the loop after state changes.
	Notify func(Change)
}

// Engine is the client-side state of one open workspace.
type Engine struct {
	self    models.User
	sender  Sender
	confirm Confirmer
	locale  language.Tag
	notify  func(Change)
	log     *zap.Logger

	nodes    map[models.ID]*models.Node
	tree     *tree.Tree
	expand   *tree.ExpandState
	presence *presence.Tracker
	doc      *Document
	surface  Surface

	lastRun   *models.RunResult
	lastError string

	connected bool
	// lost is set once the channel fails; a lost channel stays closed.
	lost   bool
	closed bool
}

// NewEngine returns an engine with an empty tree and a closed document.
// Unset durations use the defaults.
func NewEngine(opts Options) *Engine {
	if opts.Surface == nil {
		opts.Surface = NewMemorySurface()
	}
	if opts.Clock == nil {
		opts.Clock = schedule.Real()
	}
	if opts.WriteDebounce == 0 {
		opts.WriteDebounce = DefaultWriteDebounce
	}
	if opts.CursorDebounce == 0 {
		opts.CursorDebounce = DefaultCursorDebounce
	}
	if opts.Locale == (language.Tag{}) {
		opts.Locale = tree.DefaultLocale
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("workspace")
	}

	e := &Engine{
		self:     opts.Self,
		sender:   opts.Sender,
		confirm:  opts.Confirm,
		locale:   opts.Locale,
		notify:   opts.Notify,
		log:      opts.Logger.With(logging.UserID(string(opts.Self.ID))),
		nodes:    make(map[models.ID]*models.Node),
		expand:   tree.NewExpandState(),
		presence: presence.NewTracker(opts.Self.ID),
		surface:  opts.Surface,
	}
	e.tree = tree.BuildLocale(nil, e.locale)
	e.doc = newDocument(opts.Surface,
		schedule.NewDebouncer(opts.Clock, opts.WriteDebounce, opts.Post),
		schedule.NewDebouncer(opts.Clock, opts.CursorDebounce, opts.Post),
	)
	if n, ok := opts.Surface.(ChangeNotifier); ok {
		n.OnChange(e.LocalEdit)
	}
	return e
}

// Self returns the local user.
func (e *Engine) Self() models.User { return e.self }

// Document returns the active document.
func (e *Engine) Document() *Document { return e.doc }

// Tree returns the current tree. It must not be modified.
func (e *Engine) Tree() *tree.Tree { return e.tree }

// Expanded returns the folder expand state.
func (e *Engine) Expanded() *tree.ExpandState { return e.expand }

// Presence returns the presence tracker.
func (e *Engine) Presence() *presence.Tracker { return e.presence }

// Node returns the node with id from the current tree.
func (e *Engine) Node(id models.ID) *models.Node { return e.tree.Node(id) }

// ActiveNode returns the open file, or nil.
func (e *Engine) ActiveNode() *models.Node { return e.tree.Node(e.doc.nodeID) }

// LastRun returns the most recent run result seen in the workspace.
func (e *Engine) LastRun() *models.RunResult { return e.lastRun }

// LastError returns the most recent rejection reported by the session.
func (e *Engine) LastError() string { return e.lastError }

// Connected reports whether the channel is usable.
func (e *Engine) Connected() bool { return e.connected && !e.closed }

// OnOpen is called once the channel is open. It requests the node set.
func (e *Engine) OnOpen() error {
	switch {
	case e.closed:
		return ErrClosed
	case e.lost:
		return ErrDisconnected
	}
	e.connected = true
	return e.send(protocol.ListFiles{})
}

// OnDisconnect marks the channel as gone. The editor is disabled and the
// state left as it was; the engine never reconnects on its own.
func (e *Engine) OnDisconnect(err error) {
	if e.closed {
		return
	}
	e.connected = false
	e.lost = true
	e.doc.cancelTimers()
	e.surface.SetEnabled(false)
	if err != nil {
		e.log.Warn("workspace channel lost", logging.Err(err))
	}
	e.changed(ChangeDocument)
}

// Close tears the engine down. Pending writes are discarded.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.connected = false
	e.doc.close()
	e.presence.Reset()
	metrics.SetPresenceEntries(0)
}

func (e *Engine) send(i protocol.Intent) error {
	if e.closed {
		return ErrClosed
	}
	if !e.connected {
		return ErrDisconnected
	}
	if err := e.sender.Send(i); err != nil {
		e.log.Warn("send failed", zap.String("action", i.Action()), logging.Err(err))
		return fmt.Errorf("send %s: %w", i.Action(), err)
	}
	metrics.RecordIntentSent(i.Action())
	return nil
}

func (e *Engine) changed(c Change) {
	if e.notify != nil {
		e.notify(c)
	}
}

// Dispatch handles one inbound event.
func (e *Engine) Dispatch(ev protocol.Event) {
	if e.closed {
		return
	}
	if _, ok := ev.(protocol.Unknown); ok {
		metrics.RecordEventReceived("unknown")
	} else {
		metrics.RecordEventReceived(ev.Type())
	}

	switch ev := ev.(type) {
	case protocol.Bootstrap:
		e.replaceNodes(ev.Nodes)
	case protocol.FileList:
		e.replaceNodes(ev.Files)
	case protocol.TreeRefresh:
		e.replaceNodes(ev.Nodes)
		if ev.SelectNodeID != "" {
			if err := e.Open(ev.SelectNodeID); err != nil {
				e.log.Debug("select after refresh failed", logging.NodeID(string(ev.SelectNodeID)), logging.Err(err))
			}
		}
	case protocol.NodeChanged:
		e.patchNode(ev)
	case protocol.FileContent:
		e.onFileContent(ev)
	case protocol.FileUpdate:
		e.onFileUpdate(ev)
	case protocol.CursorUpdate:
		e.presenceChanged(e.presence.OnCursorUpdate(ev.User, presence.Cursor{
			NodeID:         ev.NodeID,
			Position:       ev.CursorPosition,
			SelectionStart: ev.SelectionStart,
			SelectionEnd:   ev.SelectionEnd,
		}), "unknown_user")
	case protocol.FileFocus:
		e.presenceChanged(e.presence.OnFileFocus(ev.User, ev.NodeID), "self")
	case protocol.UserJoined:
		e.presenceChanged(e.presence.OnUserJoined(ev.User), "self")
	case protocol.UserLeft:
		e.presenceChanged(e.presence.OnUserLeft(ev.UserID), "unknown_user")
	case protocol.RunResult:
		r := ev.Model()
		e.lastRun = &r
		e.changed(ChangeRun)
	case protocol.ExecutionResult:
		e.lastRun = &models.RunResult{Language: ev.Language, Stdout: ev.Output}
		e.changed(ChangeRun)
	case protocol.Error:
		e.lastError = ev.Message
		e.log.Warn("session rejected intent", zap.String("action", ev.Action), zap.String("message", ev.Message))
		e.changed(ChangeError)
	case protocol.Unknown:
		metrics.RecordEventDropped("unknown")
		e.log.Debug("ignoring unknown event", zap.String("tag", ev.Tag))
	default:
		metrics.RecordEventDropped("unhandled")
		e.log.Debug("ignoring unhandled event", zap.String("type", ev.Type()))
	}
}

func (e *Engine) presenceChanged(applied bool, reason string) {
	if !applied {
		metrics.RecordEventDropped(reason)
		return
	}
	metrics.SetPresenceEntries(e.presence.Len())
	e.changed(ChangePresence)
}

// replaceNodes swaps in a whole node set. Cached content survives for
// nodes the new set sends without content.
func (e *Engine) replaceNodes(nodes []*models.Node) {
	next := make(map[models.ID]*models.Node, len(nodes))
	for _, n := range nodes {
		if n == nil || n.ID == "" {
			continue
		}
		c := n.Clone()
		if !c.HasContent() {
			if old, ok := e.nodes[c.ID]; ok && old.HasContent() {
				c.Content = old.Content
			}
		}
		next[c.ID] = c
	}
	e.nodes = next
	e.rebuild()
}

func (e *Engine) patchNode(ev protocol.NodeChanged) {
	if ev.Deleted() {
		id := ev.ID()
		if _, ok := e.nodes[id]; !ok {
			metrics.RecordEventDropped("unknown_node")
			return
		}
		for _, d := range e.tree.Descendants(id) {
			delete(e.nodes, d)
		}
		delete(e.nodes, id)
		e.rebuild()
		return
	}

	c := ev.Node.Clone()
	old, ok := e.nodes[c.ID]
	if ok && old.HasContent() && !c.HasContent() {
		c.Content = old.Content
	}
	// The active document's content only changes through file_update.
	if c.ID == e.doc.nodeID && ok {
		c.Content = old.Content
	}
	e.nodes[c.ID] = c
	e.rebuild()
}

// rebuild recomputes the tree from the flat set and closes the document if
// its node is gone.
func (e *Engine) rebuild() {
	flat := make([]*models.Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		flat = append(flat, n)
	}
	e.tree = tree.BuildLocale(flat, e.locale)
	e.expand.Prune(e.tree)
	metrics.SetTreeNodes(e.tree.Len())

	if id := e.doc.nodeID; id != "" {
		if n := e.tree.Node(id); n == nil || !n.IsFile() {
			e.log.Info("active file removed", logging.NodeID(string(id)))
			e.doc.close()
			e.changed(ChangeDocument)
		}
	}
	e.changed(ChangeTree)
}

func (e *Engine) onFileContent(ev protocol.FileContent) {
	if n, ok := e.nodes[ev.NodeID]; ok {
		n.SetText(ev.Content)
		if tn := e.tree.Node(ev.NodeID); tn != nil {
			tn.SetText(ev.Content)
		}
	}
	if ev.NodeID != e.doc.nodeID {
		return
	}
	switch e.doc.state {
	case Loading:
		e.doc.load(ev.Content)
	case Synced:
		e.doc.writes.Flush()
		e.doc.replace(ev.Content)
		metrics.RecordRemoteApply("content")
	default:
		return
	}
	e.changed(ChangeDocument)
}

func (e *Engine) onFileUpdate(ev protocol.FileUpdate) {
	if ev.UserID == e.self.ID {
		metrics.RecordEchoSuppressed()
		return
	}

	if ev.NodeID != e.doc.nodeID || e.doc.state != Synced {
		if ev.NodeID == e.doc.nodeID {
			metrics.RecordEventDropped("loading")
		}
		e.cacheRemoteContent(ev)
		return
	}

	// Local edits not yet sent are sent before the remote change lands so
	// they are computed against the content they were typed on.
	e.doc.writes.Flush()

	var next, mode string
	if ev.Content != nil {
		next, mode = *ev.Content, "content"
	} else {
		next, mode = delta.Apply(e.doc.lastKnown, ev.Delta), "delta"
	}
	e.doc.replace(next)
	e.setCachedContent(ev.NodeID, &next)
	metrics.RecordRemoteApply(mode)
	e.changed(ChangeDocument)
}

// cacheRemoteContent keeps the cache for inactive files honest: full
// content hydrates it, a bare delta invalidates it.
func (e *Engine) cacheRemoteContent(ev protocol.FileUpdate) {
	if ev.Content != nil {
		s := *ev.Content
		e.setCachedContent(ev.NodeID, &s)
		return
	}
	e.setCachedContent(ev.NodeID, nil)
}

func (e *Engine) setCachedContent(id models.ID, content *string) {
	var c *string
	if content != nil {
		s := *content
		c = &s
	}
	if n, ok := e.nodes[id]; ok {
		n.Content = c
	}
	if n := e.tree.Node(id); n != nil {
		n.Content = c
	}
}

// Select opens a file or toggles a folder.
func (e *Engine) Select(id models.ID) error {
	n := e.tree.Node(id)
	if n == nil {
		return ErrNotFound
	}
	if n.IsFolder() {
		e.expand.Toggle(id)
		e.changed(ChangeTree)
		return nil
	}
	return e.Open(id)
}

// Open makes id the active file. Pending work for the previous file is
// discarded; the new file loads from a read request.
func (e *Engine) Open(id models.ID) error {
	if e.closed {
		return ErrClosed
	}
	n := e.tree.Node(id)
	if n == nil {
		return ErrNotFound
	}
	if !n.IsFile() {
		return ErrNotAFile
	}
	if e.doc.nodeID == id && e.doc.state != Closed {
		return nil
	}
	if !e.connected {
		return ErrDisconnected
	}

	e.doc.begin(id)
	e.expand.ExpandPath(e.tree, id)
	e.changed(ChangeDocument)

	if err := e.send(protocol.FocusFile{NodeID: id}); err != nil {
		return err
	}
	return e.send(protocol.ReadFile{NodeID: id})
}

// CloseDocument navigates away from the active file.
func (e *Engine) CloseDocument() {
	if e.doc.state == Closed {
		return
	}
	e.doc.close()
	e.changed(ChangeDocument)
}

// LocalEdit handles a change of the editor surface. Changes made while a
// remote update is being applied are ignored.
func (e *Engine) LocalEdit() {
	if e.doc.ApplyingRemote() || e.doc.state != Synced || e.closed {
		return
	}
	e.doc.localContent = e.surface.Text()
	e.doc.writes.Schedule(e.flushWrite)
}

// flushWrite sends one delta from the last synced content to the editor
// content and treats the result as synced.
func (e *Engine) flushWrite() {
	if e.doc.state != Synced {
		return
	}
	d := delta.Compute(e.doc.lastKnown, e.doc.localContent, e.surface.Caret())
	if d == nil {
		return
	}
	id := e.doc.nodeID
	err := e.send(protocol.WriteFile{NodeID: id, Delta: d, CursorPosition: e.surface.Caret()})
	e.doc.lastKnown = e.doc.localContent
	local := e.doc.localContent
	e.setCachedContent(id, &local)
	if err != nil {
		e.log.Debug("write not delivered", logging.NodeID(string(id)), logging.Err(err))
	}
}

// FlushWrites sends any pending write now.
func (e *Engine) FlushWrites() bool {
	return e.doc.writes.Flush()
}

// CursorMoved schedules a coalesced cursor broadcast.
func (e *Engine) CursorMoved() {
	if e.doc.state != Synced {
		return
	}
	e.doc.cursors.Schedule(func() { _ = e.sendCursor() })
}

// CursorCommitted broadcasts the cursor immediately, as for a key or click.
func (e *Engine) CursorCommitted() error {
	if e.doc.state != Synced {
		return ErrNoActiveNode
	}
	e.doc.cursors.Cancel()
	return e.sendCursor()
}

func (e *Engine) sendCursor() error {
	if e.doc.state != Synced {
		return nil
	}
	pos := e.surface.Caret()
	return e.send(protocol.CursorPosition{
		NodeID:         e.doc.nodeID,
		CursorPosition: pos,
		SelectionStart: pos,
		SelectionEnd:   pos,
	})
}

// CreateNode asks the session to create a file or folder under parentID,
// or at the root when parentID is empty. The tree changes when the session
// broadcasts the result.
func (e *Engine) CreateNode(name string, typ models.NodeType, parentID models.ID) error {
	name = strings.TrimSpace(name)
	if name == "" || !typ.Valid() {
		return ErrInvalidName
	}
	if parentID != "" {
		p := e.tree.Node(parentID)
		if p == nil {
			return ErrNotFound
		}
		if !p.IsFolder() {
			return ErrNotAFolder
		}
	}
	return e.send(protocol.CreateNode{Name: name, NodeType: typ, ParentID: parentID})
}

// RenameNode asks the session to rename id.
func (e *Engine) RenameNode(id models.ID, name string) error {
	name = strings.TrimSpace(name)
	n := e.tree.Node(id)
	if n == nil {
		return ErrNotFound
	}
	if name == "" || strings.Contains(name, "/") {
		return ErrInvalidName
	}
	if name == n.Name {
		return nil
	}
	return e.send(protocol.RenameNode{NodeID: id, Name: name})
}

// DeleteNode asks for confirmation and then asks the session to delete
// id. Folder deletes are recursive.
func (e *Engine) DeleteNode(id models.ID) error {
	n := e.tree.Node(id)
	if n == nil {
		return ErrNotFound
	}
	prompt := fmt.Sprintf("Delete %s for everyone?", n.Name)
	if n.IsFolder() {
		prompt = fmt.Sprintf("Delete folder %s and everything in it for everyone?", n.Name)
	}
	if e.confirm == nil || !e.confirm.Confirm(prompt) {
		return ErrNotConfirmed
	}
	return e.send(protocol.DeleteNode{NodeID: id})
}

// Run sends the active file's editor content to the session's runner.
func (e *Engine) Run() error {
	n := e.ActiveNode()
	if n == nil {
		return ErrNoActiveNode
	}
	if e.doc.state != Synced {
		return ErrNotSynced
	}
	lang := n.Language
	if lang == "" {
		lang = models.GuessLanguage(n.Name, models.LangText)
	}
	if !models.Runnable(lang) {
		return ErrNotRunnable
	}
	e.doc.writes.Flush()
	return e.send(protocol.ExecuteCode{NodeID: n.ID, Code: e.surface.Text(), Language: lang})
}

// Download returns the active file's name and editor content.
func (e *Engine) Download() (name, content string, err error) {
	n := e.ActiveNode()
	if n == nil {
		return "", "", ErrNoActiveNode
	}
	if e.doc.state != Synced {
		return "", "", ErrNotSynced
	}
	return n.Name, e.surface.Text(), nil
}
