package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/auth"
	"github.com/Samijain03/Collab-X/internal/runner"
	"github.com/Samijain03/Collab-X/internal/store"
	"github.com/Samijain03/Collab-X/pkg/client"
	"github.com/Samijain03/Collab-X/pkg/delta"
	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/protocol"
	"github.com/Samijain03/Collab-X/pkg/workspace"
)

var (
	alice = models.User{ID: "1", Username: "alice", DisplayName: "Alice", Color: "#e11d48"}
	bob   = models.User{ID: "2", Username: "bob", Color: "#2563eb"}
)

type testHub struct {
	hub   *Hub
	store *store.Memory
	auth  *auth.Auth
	url   string
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	st := store.NewMemory()
	return newTestHubWith(t, st, st)
}

// newTestHubWith serves backend; mem is the memory store beneath it.
func newTestHubWith(t *testing.T, backend store.Store, mem *store.Memory) *testHub {
	t.Helper()
	a, err := auth.New("test-secret")
	require.NoError(t, err)
	h, err := New(Options{
		Store:  backend,
		Runner: runner.NewLocal(time.Second),
		Auth:   a,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &testHub{hub: h, store: mem, auth: a, url: srv.URL}
}

func (th *testHub) dial(t *testing.T, u models.User, key string) *client.Channel {
	t.Helper()
	token, _, err := th.auth.Issue(u, time.Hour)
	require.NoError(t, err)
	url, err := client.ChannelURL(th.url, key)
	require.NoError(t, err)
	ch, err := client.Dial(context.Background(), url, client.DialOptions{Token: token, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func (th *testHub) subscribe(t *testing.T, u models.User, key string) (*client.Channel, <-chan protocol.Event) {
	t.Helper()
	ch := th.dial(t, u, key)
	events, _ := ch.Subscribe(context.Background())
	return ch, events
}

// expect skips events until one of type T arrives.
func expect[T protocol.Event](t *testing.T, events <-chan protocol.Event) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				var zero T
				t.Fatalf("channel closed while waiting for %T", zero)
				return zero
			}
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestHealth(t *testing.T) {
	th := newTestHub(t)
	resp, err := http.Get(th.url + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRejectsMissingToken(t *testing.T) {
	th := newTestHub(t)
	url, err := client.ChannelURL(th.url, "team")
	require.NoError(t, err)
	_, err = client.Dial(context.Background(), url, client.DialOptions{Logger: zap.NewNop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestBootstrapAndCreate(t *testing.T) {
	th := newTestHub(t)
	ch, events := th.subscribe(t, alice, "team")

	boot := expect[protocol.Bootstrap](t, events)
	assert.Empty(t, boot.Nodes)

	require.NoError(t, ch.Send(protocol.CreateNode{Name: "src/main.py", NodeType: models.NodeFile}))
	refresh := expect[protocol.TreeRefresh](t, events)
	require.Len(t, refresh.Nodes, 2)
	require.NotEmpty(t, refresh.SelectNodeID)

	n, err := th.store.Get(context.Background(), "team", refresh.SelectNodeID)
	require.NoError(t, err)
	assert.Equal(t, "main.py", n.Name)
	assert.Equal(t, models.LangPython, n.Language)
	assert.Equal(t, store.Template(models.LangPython, "main.py"), n.Text())

	require.NoError(t, ch.Send(protocol.ReadFile{NodeID: n.ID}))
	content := expect[protocol.FileContent](t, events)
	assert.Equal(t, n.Text(), content.Content)
}

func TestWorkspacesAreIsolated(t *testing.T) {
	th := newTestHub(t)
	_, _, err := th.store.EnsurePath(context.Background(), "other", store.CreateParams{Path: "a.txt", NodeType: models.NodeFile})
	require.NoError(t, err)

	_, events := th.subscribe(t, alice, "team")
	boot := expect[protocol.Bootstrap](t, events)
	assert.Empty(t, boot.Nodes)
}

func TestPresenceJoinFocusLeave(t *testing.T) {
	th := newTestHub(t)
	ctx := context.Background()
	n, _, err := th.store.EnsurePath(ctx, "team", store.CreateParams{Path: "a.txt", NodeType: models.NodeFile})
	require.NoError(t, err)

	a, aEvents := th.subscribe(t, alice, "team")
	expect[protocol.Bootstrap](t, aEvents)
	require.NoError(t, a.Send(protocol.FocusFile{NodeID: n.ID}))
	// Frames from one connection are handled in order.
	require.NoError(t, a.Send(protocol.ListFiles{}))
	expect[protocol.FileList](t, aEvents)

	b, bEvents := th.subscribe(t, bob, "team")
	expect[protocol.Bootstrap](t, bEvents)
	joined := expect[protocol.UserJoined](t, bEvents)
	assert.Equal(t, alice.ID, joined.ID)
	focus := expect[protocol.FileFocus](t, bEvents)
	assert.Equal(t, alice.ID, focus.ID)
	assert.Equal(t, n.ID, focus.NodeID)

	announced := expect[protocol.UserJoined](t, aEvents)
	assert.Equal(t, bob.ID, announced.ID)
	assert.Equal(t, "#2563eb", announced.Color)

	require.NoError(t, b.Send(protocol.CursorPosition{NodeID: n.ID, CursorPosition: 3, SelectionStart: 1, SelectionEnd: 3}))
	cursor := expect[protocol.CursorUpdate](t, aEvents)
	assert.Equal(t, bob.ID, cursor.ID)
	assert.Equal(t, 3, cursor.CursorPosition)
	assert.Equal(t, 1, cursor.SelectionStart)

	require.NoError(t, b.Close())
	left := expect[protocol.UserLeft](t, aEvents)
	assert.Equal(t, bob.ID, left.UserID)
}

func TestWriteBroadcastsToEveryone(t *testing.T) {
	th := newTestHub(t)
	ctx := context.Background()
	n, _, err := th.store.EnsurePath(ctx, "team", store.CreateParams{Path: "a.txt", NodeType: models.NodeFile, Content: ptr("hello")})
	require.NoError(t, err)

	a, aEvents := th.subscribe(t, alice, "team")
	expect[protocol.Bootstrap](t, aEvents)
	_, bEvents := th.subscribe(t, bob, "team")
	expect[protocol.Bootstrap](t, bEvents)

	d := delta.Compute("hello", "hello world", -1)
	require.NoError(t, a.Send(protocol.WriteFile{NodeID: n.ID, Delta: d, CursorPosition: 11}))

	for _, events := range []<-chan protocol.Event{aEvents, bEvents} {
		up := expect[protocol.FileUpdate](t, events)
		assert.Equal(t, alice.ID, up.UserID)
		assert.Equal(t, d, up.Delta)
		assert.Nil(t, up.Content)
	}

	got, err := th.store.Get(ctx, "team", n.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got.Text())
	assert.Equal(t, store.Hash("hello world"), got.Hash)
}

// pausingStore blocks the next Get after pause is called until resume.
type pausingStore struct {
	*store.Memory
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{
		Memory:  store.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *pausingStore) pause()  { s.armed.Store(true) }
func (s *pausingStore) resume() { close(s.release) }

func (s *pausingStore) Get(ctx context.Context, workspace string, id models.ID) (*models.Node, error) {
	if s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
	}
	return s.Memory.Get(ctx, workspace, id)
}

func TestReadFileIsOrderedWithWrites(t *testing.T) {
	st := newPausingStore()
	th := newTestHubWith(t, st, st.Memory)
	ctx := context.Background()
	n, _, err := st.EnsurePath(ctx, "team", store.CreateParams{Path: "a.txt", NodeType: models.NodeFile, Content: ptr("hello")})
	require.NoError(t, err)

	a, aEvents := th.subscribe(t, alice, "team")
	expect[protocol.Bootstrap](t, aEvents)
	b, bEvents := th.subscribe(t, bob, "team")
	expect[protocol.Bootstrap](t, bEvents)

	st.pause()
	require.NoError(t, b.Send(protocol.ReadFile{NodeID: n.ID}))
	<-st.entered

	d := delta.Compute("hello", "hello world", -1)
	require.NoError(t, a.Send(protocol.WriteFile{NodeID: n.ID, Delta: d, CursorPosition: 11}))
	time.Sleep(50 * time.Millisecond)
	st.resume()

	var order []string
	var content string
	var update protocol.FileUpdate
	timeout := time.After(5 * time.Second)
	for len(order) < 2 {
		select {
		case ev := <-bEvents:
			switch ev := ev.(type) {
			case protocol.FileContent:
				order = append(order, ev.Type())
				content = ev.Content
			case protocol.FileUpdate:
				order = append(order, ev.Type())
				update = ev
			}
		case <-timeout:
			t.Fatalf("timed out, got %v", order)
		}
	}

	assert.Equal(t, []string{"file_content", "file_update"}, order)
	assert.Equal(t, "hello", content)
	got, err := st.Get(ctx, "team", n.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Text(), delta.Apply(content, update.Delta))
}

type countingRunner struct{ runs atomic.Int64 }

func (r *countingRunner) Run(ctx context.Context, req runner.Request) (models.RunResult, error) {
	r.runs.Add(1)
	return models.RunResult{Stdout: req.Code}, nil
}

func TestCloseStopsNewRuns(t *testing.T) {
	a, err := auth.New("test-secret")
	require.NoError(t, err)
	run := &countingRunner{}
	h, err := New(Options{Store: store.NewMemory(), Runner: run, Auth: a, Logger: zap.NewNop()})
	require.NoError(t, err)
	c := newConn("c1", alice, newRoom("team"), nil, zap.NewNop())
	req := protocol.ExecuteCode{Language: models.LangPython, Code: "print(1)"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			h.execute(c, req)
		}
	}()
	require.NoError(t, h.Close())
	<-done

	settled := run.runs.Load()
	h.execute(c, req)
	h.runs.Wait()
	assert.Equal(t, settled, run.runs.Load())
}

func TestRenameAndDelete(t *testing.T) {
	th := newTestHub(t)
	ctx := context.Background()
	f, _, err := th.store.EnsurePath(ctx, "team", store.CreateParams{Path: "src/a.txt", NodeType: models.NodeFile})
	require.NoError(t, err)

	ch, events := th.subscribe(t, alice, "team")
	expect[protocol.Bootstrap](t, events)

	require.NoError(t, ch.Send(protocol.RenameNode{NodeID: f.ID, Name: "a.py"}))
	renamed := expect[protocol.NodeChanged](t, events)
	assert.Equal(t, protocol.KindFileRenamed, renamed.Kind)
	assert.Equal(t, "a.py", renamed.Node.Name)
	assert.Equal(t, models.LangPython, renamed.Node.Language)

	require.NoError(t, ch.Send(protocol.DeleteNode{NodeID: f.ParentID}))
	deleted := expect[protocol.NodeChanged](t, events)
	assert.True(t, deleted.Deleted())
	assert.Equal(t, f.ParentID, deleted.ID())

	nodes, err := th.store.List(ctx, "team")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	require.NoError(t, ch.Send(protocol.ReadFile{NodeID: f.ID}))
	rejected := expect[protocol.Error](t, events)
	assert.Equal(t, protocol.ActionReadFile, rejected.Action)
	assert.Equal(t, "Node not found.", rejected.Message)
}

func TestExecute(t *testing.T) {
	th := newTestHub(t)
	a, aEvents := th.subscribe(t, alice, "team")
	expect[protocol.Bootstrap](t, aEvents)
	_, bEvents := th.subscribe(t, bob, "team")
	expect[protocol.Bootstrap](t, bEvents)

	require.NoError(t, a.Send(protocol.ExecuteCode{Code: "<h1>Hi</h1>", Language: models.LangHTML}))
	for _, events := range []<-chan protocol.Event{aEvents, bEvents} {
		res := expect[protocol.RunResult](t, events)
		assert.Equal(t, "Alice", res.RequestedBy)
		assert.Equal(t, "<h1>Hi</h1>", res.Result.HTML)
	}

	require.NoError(t, a.Send(protocol.ExecuteCode{Code: "body {}", Language: "css"}))
	rejected := expect[protocol.Error](t, aEvents)
	assert.Equal(t, protocol.ActionExecuteCode, rejected.Action)
	assert.Contains(t, rejected.Message, "css")
}

func TestSessionsStayInSync(t *testing.T) {
	th := newTestHub(t)

	start := func(u models.User) (*workspace.Session, *workspace.MemorySurface) {
		surface := workspace.NewMemorySurface()
		s := workspace.StartSession(context.Background(), th.dial(t, u, "team"), workspace.Options{
			Self:          u,
			Surface:       surface,
			WriteDebounce: workspace.NoDebounce,
			Logger:        zap.NewNop(),
		})
		t.Cleanup(func() { s.Close() })
		return s, surface
	}
	synced := func(s *workspace.Session) func() bool {
		return func() bool {
			var ok bool
			s.Do(func(e *workspace.Engine) error {
				ok = e.Document().State() == workspace.Synced
				return nil
			})
			return ok
		}
	}

	as, asurf := start(alice)
	require.NoError(t, as.Do(func(e *workspace.Engine) error {
		return e.CreateNode("main.py", models.NodeFile, "")
	}))
	// The creator's refresh selects the new file.
	require.Eventually(t, synced(as), 5*time.Second, 10*time.Millisecond)

	var id models.ID
	require.NoError(t, as.Do(func(e *workspace.Engine) error {
		id = e.Document().NodeID()
		return nil
	}))

	bs, _ := start(bob)
	require.Eventually(t, func() bool {
		err := bs.Do(func(e *workspace.Engine) error { return e.Open(id) })
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, synced(bs), 5*time.Second, 10*time.Millisecond)

	require.NoError(t, as.Do(func(e *workspace.Engine) error {
		asurf.SetCaret(0)
		asurf.Insert("# shared\n")
		return nil
	}))

	var want string
	require.NoError(t, as.Do(func(e *workspace.Engine) error {
		want = e.Document().LocalContent()
		return nil
	}))
	assert.Contains(t, want, "# shared\n")

	require.Eventually(t, func() bool {
		var got string
		bs.Do(func(e *workspace.Engine) error {
			got = e.Document().LocalContent()
			return nil
		})
		return got == want
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		var viewing int
		bs.Do(func(e *workspace.Engine) error {
			viewing = len(e.Presence().EntriesViewing(id))
			return nil
		})
		return viewing == 1
	}, 5*time.Second, 10*time.Millisecond)

	stored, err := th.store.Get(context.Background(), "team", id)
	require.NoError(t, err)
	assert.Equal(t, want, stored.Text())
}

func ptr(s string) *string { return &s }
