package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/auth"
	"github.com/Samijain03/Collab-X/internal/config"
	"github.com/Samijain03/Collab-X/internal/hub"
	"github.com/Samijain03/Collab-X/internal/runner"
	"github.com/Samijain03/Collab-X/internal/store"
	"github.com/Samijain03/Collab-X/pkg/models"
)

func startHub(t *testing.T) (*config.Config, *store.Memory) {
	t.Helper()
	authn, err := auth.New("secret")
	require.NoError(t, err)
	st := store.NewMemory()
	h, err := hub.New(hub.Options{
		Store:  st,
		Runner: runner.NewLocal(time.Second),
		Auth:   authn,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})

	tok, _, err := authn.Issue(models.User{ID: "1", Username: "sam"}, time.Hour)
	require.NoError(t, err)
	return &config.Config{
		ServerURL:     srv.URL,
		Token:         tok,
		RunnerTimeout: time.Second,
	}, st
}

func runScript(t *testing.T, cfg *config.Config, script string) string {
	t.Helper()
	var out bytes.Buffer
	r, err := newREPL(cfg, replOptions{In: strings.NewReader(script), Out: &out})
	require.NoError(t, err)
	require.NoError(t, r.run(context.Background(), "team"))
	return out.String()
}

func TestREPLEditsReachTheHub(t *testing.T) {
	cfg, st := startHub(t)

	out := runScript(t, cfg, strings.Join([]string{
		"touch src/main.py",
		`write print("hi")\n`,
		"ls",
		"who",
		"bogus",
		"quit",
	}, "\n"))

	assert.Contains(t, out, "Joined team as sam.")
	assert.Contains(t, out, "▾ src/")
	assert.Contains(t, out, "● main.py python")
	assert.Contains(t, out, "Nobody else is here.")
	assert.Contains(t, out, `unknown command "bogus"`)

	require.Eventually(t, func() bool {
		nodes, err := st.List(context.Background(), "team")
		if err != nil {
			return false
		}
		for _, n := range nodes {
			if n.Name == "main.py" {
				return n.Text() == "print(\"hi\")\n"
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestREPLRefusesDeleteWithoutTerminal(t *testing.T) {
	cfg, st := startHub(t)
	ctx := context.Background()
	_, _, err := st.EnsurePath(ctx, "team", store.CreateParams{Path: "docs/a.md", NodeType: models.NodeFile})
	require.NoError(t, err)

	out := runScript(t, cfg, "rm docs\nquit\n")
	assert.Contains(t, out, "Refusing without a terminal")
	assert.Contains(t, out, "action not confirmed")

	nodes, err := st.List(ctx, "team")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestREPLRequiresToken(t *testing.T) {
	_, err := newREPL(&config.Config{}, replOptions{})
	assert.ErrorContains(t, err, "token")
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "a\nb\t\"c\"", unescape(`a\nb\t"c"`))
	assert.Equal(t, `bad\q`, unescape(`bad\q`))
}
