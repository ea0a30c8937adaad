package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Samijain03/Collab-X/internal/auth"
	"github.com/Samijain03/Collab-X/internal/config"
	"github.com/Samijain03/Collab-X/internal/tui"
	"github.com/Samijain03/Collab-X/pkg/client"
	"github.com/Samijain03/Collab-X/pkg/models"
	"github.com/Samijain03/Collab-X/pkg/tree"
	"github.com/Samijain03/Collab-X/pkg/workspace"
)

const helpText = `Commands:
  ls                     show the file tree
  open <path>            open a file or toggle a folder
  cat                    show the open file and the last output
  write <text>           replace the open file (\n for newlines)
  append <text>          append to the open file
  cursor <offset>        move the caret and tell the others
  touch <path>           create a file, with missing folders
  mkdir <path>           create a folder, with missing folders
  mv <path> <name>       rename a node
  rm <path>              delete a node for everyone
  run                    run the open file
  who                    list the other users
  download [dest]        save the open file locally
  expand|collapse <path> change a folder in the tree
  switch <workspace>     open another workspace
  quit                   leave`

var errNoSession = errors.New("no workspace is open")

// waitTimeout bounds how long a command waits for the hub's answer.
const waitTimeout = 5 * time.Second

func newOpenCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "open [workspace]",
		Short: "Join a workspace from the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := a.cfg.Workspace
			if len(args) == 1 {
				key = args[0]
			}
			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			r, err := newREPL(a.cfg, replOptions{
				In:          os.Stdin,
				Out:         os.Stdout,
				Interactive: interactive,
				AssumeYes:   yes,
				Color:       term.IsTerminal(int(os.Stdout.Fd())),
			})
			if err != nil {
				return err
			}
			return r.run(cmd.Context(), key)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletes without asking")
	return cmd
}

type replOptions struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool
	AssumeYes   bool
	Color       bool
}

// repl drives one workspace session from line commands. Engine state is
// only touched inside Session.Do.
type repl struct {
	cfg    *config.Config
	self   models.User
	opts   replOptions
	in     *bufio.Scanner
	render *tui.Renderer
	sw     *workspace.Switcher

	outMu sync.Mutex

	// surface belongs to the current session.
	surface *workspace.MemorySurface
	changes chan workspace.Change
}

func newREPL(cfg *config.Config, opts replOptions) (*repl, error) {
	if cfg.Token == "" {
		return nil, errors.New("token: required, mint one with collabx token")
	}
	claims, err := auth.Peek(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	r := &repl{
		cfg:     cfg,
		self:    claims.User(),
		opts:    opts,
		in:      bufio.NewScanner(opts.In),
		render:  tui.New(opts.Out, opts.Color),
		changes: make(chan workspace.Change, 32),
	}
	r.sw = workspace.NewSwitcher(r.dial)
	return r, nil
}

func (r *repl) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.opts.Out, format, args...)
}

func (r *repl) println(s string) {
	r.printf("%s\n", s)
}

// dial opens a channel to key and starts a session on it.
func (r *repl) dial(ctx context.Context, key string) (*workspace.Session, error) {
	url, err := client.ChannelURL(r.cfg.ServerURL, key)
	if err != nil {
		return nil, err
	}
	var spinner *pterm.SpinnerPrinter
	if r.opts.Interactive {
		spinner, _ = pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Connecting to " + key)
	}
	ch, err := client.Dial(ctx, url, client.DialOptions{Token: r.cfg.Token})
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return nil, err
	}

	writeDebounce := r.cfg.WriteDebounce
	if writeDebounce == 0 {
		writeDebounce = workspace.NoDebounce
	}
	cursorDebounce := r.cfg.CursorDebounce
	if cursorDebounce == 0 {
		cursorDebounce = workspace.NoDebounce
	}
	r.surface = workspace.NewMemorySurface()
	return workspace.StartSession(ctx, ch, workspace.Options{
		Self:           r.self,
		Surface:        r.surface,
		Confirm:        workspace.ConfirmFunc(r.confirm),
		WriteDebounce:  writeDebounce,
		CursorDebounce: cursorDebounce,
		Notify:         r.notify,
	}), nil
}

func (r *repl) notify(c workspace.Change) {
	select {
	case r.changes <- c:
	default:
	}
}

// confirm runs on the session loop while the command that asked waits in
// Session.Do, so reading input here does not race the prompt.
func (r *repl) confirm(prompt string) bool {
	if r.opts.AssumeYes {
		return true
	}
	if !r.opts.Interactive {
		r.println(prompt + " Refusing without a terminal; pass --yes.")
		return false
	}
	r.printf("%s [y/N] ", prompt)
	if !r.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(r.in.Text()))
	return answer == "y" || answer == "yes"
}

func (r *repl) run(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("workspace: required")
	}
	if _, err := r.sw.Open(ctx, key); err != nil {
		return err
	}
	defer r.sw.Close()
	r.await(waitTimeout, workspace.ChangeTree)
	r.printf("Joined %s as %s. Type help for commands.\n", key, r.self.Label())

	for {
		s, key := r.sw.Current()
		if s == nil {
			return errNoSession
		}
		select {
		case <-s.Done():
			if err := s.Err(); err != nil {
				return fmt.Errorf("disconnected from %s: %w", key, err)
			}
			return nil
		default:
		}

		if r.opts.Interactive {
			r.printf("%s> ", key)
		}
		if !r.in.Scan() {
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		quit, err := r.exec(ctx, line)
		if err != nil {
			r.println(r.render.Error(err.Error()))
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) session() *workspace.Session {
	s, _ := r.sw.Current()
	return s
}

func (r *repl) do(fn func(*workspace.Engine) error) error {
	s := r.session()
	if s == nil {
		return errNoSession
	}
	return s.Do(fn)
}

// drain forgets changes reported before a command runs.
func (r *repl) drain() {
	for {
		select {
		case <-r.changes:
		default:
			return
		}
	}
}

// await waits for one of kinds and reports whether it arrived. An error
// reported by the hub ends the wait.
func (r *repl) await(timeout time.Duration, kinds ...workspace.Change) bool {
	var done <-chan struct{}
	if s := r.session(); s != nil {
		done = s.Done()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case c := <-r.changes:
			for _, k := range kinds {
				if c == k {
					return true
				}
			}
			if c == workspace.ChangeError {
				return false
			}
		case <-done:
			return false
		case <-timer.C:
			return false
		}
	}
}

// waitSynced waits until the open file has loaded.
func (r *repl) waitSynced() error {
	deadline := time.Now().Add(waitTimeout)
	for {
		var state workspace.State
		err := r.do(func(e *workspace.Engine) error {
			if e.Document().State() == workspace.Closed {
				return workspace.ErrNoActiveNode
			}
			state = e.Document().State()
			return nil
		})
		if err != nil || state == workspace.Synced {
			return err
		}
		if time.Now().After(deadline) {
			return workspace.ErrNotSynced
		}
		r.await(100*time.Millisecond, workspace.ChangeDocument)
	}
}

func resolve(e *workspace.Engine, arg string) (*models.Node, error) {
	if n := e.Tree().FindByPath(arg); n != nil {
		return n, nil
	}
	if n := e.Node(models.ID(arg)); n != nil {
		return n, nil
	}
	return nil, fmt.Errorf("%s: %w", arg, workspace.ErrNotFound)
}

// unescape turns \n and \t in typed text into the characters.
func unescape(s string) string {
	if u, err := strconv.Unquote(`"` + strings.ReplaceAll(s, `"`, `\"`) + `"`); err == nil {
		return u
	}
	return s
}

func (r *repl) showTree() error {
	return r.do(func(e *workspace.Engine) error {
		r.println(r.render.Tree(e.TreeView(), tui.ByNode(e.Presence().All())))
		return nil
	})
}

func (r *repl) showEditor() error {
	return r.do(func(e *workspace.Engine) error {
		r.println(r.render.Editor(e.EditorView()))
		return nil
	})
}

// exec runs one command line and reports whether the user asked to quit.
func (r *repl) exec(ctx context.Context, line string) (bool, error) {
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s: expected %d argument(s); type help", name, n)
		}
		return nil
	}
	r.drain()

	switch name {
	case "help", "?":
		r.println(helpText)

	case "quit", "exit":
		return true, nil

	case "ls":
		return false, r.showTree()

	case "open":
		if err := need(1); err != nil {
			return false, err
		}
		var folder bool
		err := r.do(func(e *workspace.Engine) error {
			n, err := resolve(e, rest)
			if err != nil {
				return err
			}
			folder = n.IsFolder()
			return e.Select(n.ID)
		})
		if err != nil {
			return false, err
		}
		if folder {
			return false, r.showTree()
		}
		if err := r.waitSynced(); err != nil {
			return false, err
		}
		return false, r.showEditor()

	case "cat":
		return false, r.showEditor()

	case "write", "append":
		if err := r.waitSynced(); err != nil {
			return false, err
		}
		text := unescape(rest)
		return false, r.do(func(e *workspace.Engine) error {
			if name == "write" {
				r.surface.Replace(text)
			} else {
				r.surface.SetCaret(len([]rune(r.surface.Text())))
				r.surface.Insert(text)
			}
			e.FlushWrites()
			return nil
		})

	case "cursor":
		if err := need(1); err != nil {
			return false, err
		}
		pos, err := strconv.Atoi(args[0])
		if err != nil {
			return false, fmt.Errorf("cursor: %w", err)
		}
		return false, r.do(func(e *workspace.Engine) error {
			r.surface.SetCaret(pos)
			return e.CursorCommitted()
		})

	case "touch", "mkdir":
		if err := need(1); err != nil {
			return false, err
		}
		typ := models.NodeFile
		if name == "mkdir" {
			typ = models.NodeFolder
		}
		err := r.do(func(e *workspace.Engine) error {
			p := tree.NormalizePath(rest)
			dir, base := path.Split(p)
			if parent := e.Tree().FindByPath(dir); dir != "" && parent != nil && parent.IsFolder() {
				return e.CreateNode(base, typ, parent.ID)
			}
			return e.CreateNode(p, typ, "")
		})
		if err != nil {
			return false, err
		}
		r.await(waitTimeout, workspace.ChangeTree)
		return false, r.showTree()

	case "mv":
		if err := need(2); err != nil {
			return false, err
		}
		err := r.do(func(e *workspace.Engine) error {
			n, err := resolve(e, args[0])
			if err != nil {
				return err
			}
			return e.RenameNode(n.ID, args[1])
		})
		if err != nil {
			return false, err
		}
		r.await(waitTimeout, workspace.ChangeTree)
		return false, r.showTree()

	case "rm":
		if err := need(1); err != nil {
			return false, err
		}
		err := r.do(func(e *workspace.Engine) error {
			n, err := resolve(e, rest)
			if err != nil {
				return err
			}
			return e.DeleteNode(n.ID)
		})
		if err != nil {
			return false, err
		}
		r.await(waitTimeout, workspace.ChangeTree)
		return false, r.showTree()

	case "run":
		if err := r.waitSynced(); err != nil {
			return false, err
		}
		if err := r.do(func(e *workspace.Engine) error { return e.Run() }); err != nil {
			return false, err
		}
		if !r.await(r.cfg.RunnerTimeout+waitTimeout, workspace.ChangeRun) {
			return false, r.showEditor()
		}
		return false, r.do(func(e *workspace.Engine) error {
			r.println(r.render.Output(e.EditorView().Output))
			return nil
		})

	case "who":
		return false, r.do(func(e *workspace.Engine) error {
			r.println(r.render.Presence(e.Presence().All(), func(id models.ID) string {
				if n := e.Node(id); n != nil {
					return n.FullPath
				}
				return ""
			}))
			return nil
		})

	case "download":
		if err := r.waitSynced(); err != nil {
			return false, err
		}
		var fileName, content string
		err := r.do(func(e *workspace.Engine) error {
			var err error
			fileName, content, err = e.Download()
			return err
		})
		if err != nil {
			return false, err
		}
		dest := fileName
		if len(args) > 0 {
			dest = args[0]
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return false, fmt.Errorf("download: %w", err)
		}
		r.printf("Saved %s\n", dest)

	case "expand", "collapse":
		if err := need(1); err != nil {
			return false, err
		}
		err := r.do(func(e *workspace.Engine) error {
			n, err := resolve(e, rest)
			if err != nil {
				return err
			}
			if !n.IsFolder() {
				return workspace.ErrNotAFolder
			}
			if name == "expand" {
				e.Expanded().Expand(n.ID)
			} else {
				e.Expanded().Collapse(n.ID)
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		return false, r.showTree()

	case "switch":
		if err := need(1); err != nil {
			return false, err
		}
		if _, err := r.sw.Open(ctx, args[0]); err != nil {
			return false, err
		}
		r.await(waitTimeout, workspace.ChangeTree)
		r.printf("Joined %s\n", args[0])

	default:
		return false, fmt.Errorf("unknown command %q; type help", name)
	}
	return false, nil
}
