// Package hub serves workspace channels over websockets. Each workspace key
// has a room; intents from one connection are persisted through the store
// and the resulting events are broadcast to every connection in the room.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/auth"
	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/internal/runner"
	"github.com/Samijain03/Collab-X/internal/store"
	"github.com/Samijain03/Collab-X/pkg/delta"
	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/protocol"
)

// ChannelRoute is the metrics label for workspace channel requests.
const ChannelRoute = "/ws/workspace/{key}/"

// Options configure a Hub.
type Options struct {
	Store  store.Store
	Runner runner.Runner
	Auth   *auth.Auth
	// RunTimeout bounds one execute_code request. Zero uses
	// runner.DefaultTimeout plus a grace period.
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// Hub owns the rooms of every open workspace.
type Hub struct {
	store      store.Store
	runner     runner.Runner
	auth       *auth.Auth
	runTimeout time.Duration
	log        *zap.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*Room

	active   atomic.Int64
	focusSeq atomic.Uint64

	// runMu orders run starts with Close so no run is added once Close
	// waits.
	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup
}

// New creates a hub.
func New(opts Options) (*Hub, error) {
	if opts.Store == nil {
		return nil, errors.New("hub: store is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("hub: runner is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("hub: auth is required")
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = runner.DefaultTimeout + 5*time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("hub")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:      opts.Store,
		runner:     opts.Runner,
		auth:       opts.Auth,
		runTimeout: opts.RunTimeout,
		log:        opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Identity comes from the token, not the origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms:  make(map[string]*Room),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Handler returns the hub's HTTP routes with logging and metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": h.active.Load(),
		})
	})
	mux.Handle("GET "+ChannelRoute, h.auth.Middleware(http.HandlerFunc(h.ServeWS)))
	return logging.Middleware(metrics.Middleware(route)(mux))
}

func route(r *http.Request) string {
	switch {
	case strings.HasPrefix(r.URL.Path, "/ws/workspace/"):
		return ChannelRoute
	case r.URL.Path == "/health":
		return r.URL.Path
	}
	return "other"
}

// room returns the room for key, creating it on first use.
func (h *Hub) room(key string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[key]
	if !ok {
		r = newRoom(key)
		h.rooms[key] = r
	}
	return r
}

func (h *Hub) releaseRoom(r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.Len() == 0 && h.rooms[r.key] == r {
		delete(h.rooms, r.key)
	}
}

// ServeWS upgrades an authenticated request and runs the connection until
// it closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	key := r.PathValue("key")
	if key == "" {
		http.Error(w, "workspace key is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	room := h.room(key)
	c := newConn(id, user, room, ws, h.log.With(
		logging.Workspace(key),
		logging.UserID(string(user.ID)),
		zap.String("conn_id", id),
	))

	if err := h.admit(c); err != nil {
		c.log.Error("Bootstrap failed", zap.Error(err))
		ws.Close()
		h.releaseRoom(room)
		return
	}
	metrics.SetHubConnectionsActive(h.active.Add(1))
	c.log.Info("Connection opened")

	go c.writePump()
	c.readPump(func(data []byte) { h.handle(c, data) })

	last := room.leave(c)
	c.close()
	metrics.SetHubConnectionsActive(h.active.Add(-1))
	if last {
		h.publish(room, protocol.UserLeft{UserID: user.ID}, nil)
	}
	h.releaseRoom(room)
	c.log.Info("Connection closed")
}

// admit queues the bootstrap and the current presence for c, then adds it
// to the room and announces it.
func (h *Hub) admit(c *Conn) error {
	room := c.room
	room.opMu.Lock()
	defer room.opMu.Unlock()

	nodes, err := h.store.List(h.ctx, room.key)
	if err != nil {
		return err
	}
	if err := h.reply(c, protocol.Bootstrap{Nodes: nodes}); err != nil {
		return err
	}

	first, peers := room.join(c)
	for _, p := range peers {
		h.reply(c, protocol.UserJoined{User: p.User})
		if p.ActiveNodeID != "" {
			h.reply(c, protocol.FileFocus{User: p.User, NodeID: p.ActiveNodeID})
		}
	}
	if first {
		h.publish(room, protocol.UserJoined{User: c.user}, c)
	}
	return nil
}

// Close stops pending runs and closes every connection.
func (h *Hub) Close() error {
	h.runMu.Lock()
	h.cancel()
	h.runMu.Unlock()

	h.mu.Lock()
	var conns []*Conn
	for _, r := range h.rooms {
		r.mu.RLock()
		for c := range r.conns {
			conns = append(conns, c)
		}
		r.mu.RUnlock()
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	h.runs.Wait()
	return nil
}

func (h *Hub) reply(c *Conn, ev protocol.Event) error {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		c.log.Error("Encode failed", zap.String("type", ev.Type()), zap.Error(err))
		return err
	}
	c.enqueue(frame)
	return nil
}

// publish broadcasts ev to the room. A nil skip includes every
// connection.
func (h *Hub) publish(r *Room, ev protocol.Event, skip *Conn) {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		h.log.Error("Encode failed", zap.String("type", ev.Type()), zap.Error(err))
		return
	}
	r.Publish(ev.Type(), frame, skip)
}

func (h *Hub) sendError(c *Conn, action string, err error) {
	h.reply(c, protocol.Error{Action: action, Message: h.errorMessage(c, action, err)})
}

func (h *Hub) errorMessage(c *Conn, action string, err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Node not found."
	case errors.Is(err, store.ErrConflict):
		return "A node with that name already exists."
	case errors.Is(err, store.ErrInvalid),
		errors.Is(err, protocol.ErrMalformed),
		errors.Is(err, protocol.ErrUnknownIntent):
		return err.Error()
	}
	c.log.Error("Intent failed", zap.String("action", action), zap.Error(err))
	return "Internal error."
}

// handle dispatches one inbound frame.
func (h *Hub) handle(c *Conn, data []byte) {
	intent, err := protocol.DecodeIntent(data)
	if err != nil {
		c.log.Debug("Rejected frame", zap.Error(err))
		h.sendError(c, "", err)
		return
	}

	room := c.room
	switch in := intent.(type) {
	case protocol.ListFiles:
		room.opMu.Lock()
		defer room.opMu.Unlock()
		nodes, err := h.store.List(h.ctx, room.key)
		if err != nil {
			h.sendError(c, in.Action(), err)
			return
		}
		h.reply(c, protocol.FileList{Files: nodes})

	case protocol.ReadFile:
		// Held until the reply is queued, so no update for this file can
		// reach the reader ahead of its content.
		room.opMu.Lock()
		defer room.opMu.Unlock()
		n, err := h.store.Get(h.ctx, room.key, in.NodeID)
		if err == nil && n.IsFolder() {
			err = store.ErrInvalid
		}
		if err != nil {
			h.sendError(c, in.Action(), err)
			return
		}
		h.reply(c, protocol.FileContent{NodeID: n.ID, Content: n.Text()})

	case protocol.CreateNode:
		h.createNode(c, in)

	case protocol.RenameNode:
		room.opMu.Lock()
		defer room.opMu.Unlock()
		n, err := h.store.Rename(h.ctx, room.key, in.NodeID, in.Name)
		if err != nil {
			h.sendError(c, in.Action(), err)
			return
		}
		h.publish(room, protocol.NodeChanged{Kind: protocol.KindFileRenamed, Node: n}, nil)

	case protocol.DeleteNode:
		room.opMu.Lock()
		defer room.opMu.Unlock()
		ids, err := h.store.Delete(h.ctx, room.key, in.NodeID)
		if err != nil {
			h.sendError(c, in.Action(), err)
			return
		}
		c.log.Info("Deleted node", logging.NodeID(string(in.NodeID)), zap.Int("removed", len(ids)))
		h.publish(room, protocol.NodeChanged{Kind: protocol.KindFileDeleted, NodeID: in.NodeID}, nil)

	case protocol.WriteFile:
		h.writeFile(c, in)

	case protocol.CursorPosition:
		c.setFocus(in.NodeID, h.focusSeq.Add(1))
		h.publish(room, protocol.CursorUpdate{
			User:           c.user,
			NodeID:         in.NodeID,
			CursorPosition: in.CursorPosition,
			SelectionStart: in.SelectionStart,
			SelectionEnd:   in.SelectionEnd,
		}, c)

	case protocol.FocusFile:
		c.setFocus(in.NodeID, h.focusSeq.Add(1))
		h.publish(room, protocol.FileFocus{User: c.user, NodeID: in.NodeID}, c)

	case protocol.ExecuteCode:
		h.execute(c, in)
	}
}

// createNode creates the node and its missing parents. Everyone else gets
// a refreshed tree; the requester's refresh also selects a new file.
func (h *Hub) createNode(c *Conn, in protocol.CreateNode) {
	room := c.room
	room.opMu.Lock()
	defer room.opMu.Unlock()

	n, _, err := h.store.EnsurePath(h.ctx, room.key, store.CreateParams{
		ParentID:  in.ParentID,
		Path:      in.Name,
		NodeType:  in.NodeType,
		CreatedBy: c.user.ID,
	})
	if err != nil {
		h.sendError(c, in.Action(), err)
		return
	}
	nodes, err := h.store.List(h.ctx, room.key)
	if err != nil {
		h.sendError(c, in.Action(), err)
		return
	}

	h.publish(room, protocol.TreeRefresh{Nodes: nodes}, c)
	own := protocol.TreeRefresh{Nodes: nodes}
	if n.IsFile() {
		own.SelectNodeID = n.ID
	}
	h.reply(c, own)
}

// writeFile applies a delta to the stored content and relays it to the
// room, the author included.
func (h *Hub) writeFile(c *Conn, in protocol.WriteFile) {
	if in.Delta == nil {
		h.sendError(c, in.Action(), store.ErrInvalid)
		return
	}
	room := c.room
	room.opMu.Lock()
	defer room.opMu.Unlock()

	n, err := h.store.Get(h.ctx, room.key, in.NodeID)
	if err == nil && n.IsFolder() {
		err = store.ErrInvalid
	}
	if err != nil {
		h.sendError(c, in.Action(), err)
		return
	}
	if _, err := h.store.SetContent(h.ctx, room.key, n.ID, delta.Apply(n.Text(), in.Delta)); err != nil {
		h.sendError(c, in.Action(), err)
		return
	}
	h.publish(room, protocol.FileUpdate{
		NodeID:         n.ID,
		UserID:         c.user.ID,
		Delta:          in.Delta,
		CursorPosition: in.CursorPosition,
	}, nil)
}

// execute runs code in the background and broadcasts the result.
func (h *Hub) execute(c *Conn, in protocol.ExecuteCode) {
	lang, code := in.Language, in.Code
	if in.NodeID != "" && (lang == "" || code == "") {
		if n, err := h.store.Get(h.ctx, c.room.key, in.NodeID); err == nil {
			if lang == "" {
				lang = n.Language
			}
			if code == "" {
				code = n.Text()
			}
		}
	}
	if !models.Runnable(lang) {
		h.reply(c, protocol.Error{
			Action:  in.Action(),
			Message: fmt.Sprintf("Execution is not supported for %q files.", lang),
		})
		return
	}
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.ctx.Err() != nil {
		return
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		ctx, cancel := context.WithTimeout(h.ctx, h.runTimeout)
		defer cancel()

		res, err := h.runner.Run(ctx, runner.Request{Language: lang, Code: code})
		if err != nil {
			c.log.Warn("Run failed", zap.String("language", lang), zap.Error(err))
			res = models.RunResult{Stderr: "Execution Error: " + err.Error()}
		}
		h.publish(c.room, protocol.RunResult{
			NodeID:      in.NodeID,
			Language:    lang,
			RequestedBy: c.user.Label(),
			Result: protocol.RunOutput{
				HTML:   res.HTML,
				Stdout: res.Stdout,
				Stderr: res.Stderr,
			},
		}, nil)
	}()
}
