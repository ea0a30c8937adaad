package workspace

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/pkg/protocol"
)

// Channel is a connected workspace channel.
type Channel interface {
	Sender
	// Subscribe streams decoded events until the channel ends. A transport
	// failure is reported on the error channel before both close.
	Subscribe(ctx context.Context) (<-chan protocol.Event, <-chan error)
	Close() error
}

// Session runs an Engine on its own goroutine, feeding it channel events,
// timer callbacks and caller work in arrival order.
type Session struct {
	engine *Engine
	ch     Channel
	log    *zap.Logger

	inbox  chan func()
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// StartSession starts the loop for an already open channel. opts.Sender and
// opts.Post are set by the session.
func StartSession(ctx context.Context, ch Channel, opts Options) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		ch:     ch,
		inbox:  make(chan func(), 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	if opts.Logger == nil {
		opts.Logger = logging.Named("workspace")
	}
	s.log = opts.Logger
	opts.Sender = ch
	opts.Post = s.post
	s.engine = NewEngine(opts)

	// The loop is not running yet, so the engine is ours until it starts.
	if err := s.engine.OnOpen(); err != nil {
		s.setErr(err)
	}
	events, errs := ch.Subscribe(ctx)
	go s.loop(ctx, events, errs)
	return s
}

func (s *Session) loop(ctx context.Context, events <-chan protocol.Event, errs <-chan error) {
	defer close(s.done)
	defer s.engine.Close()

	lost := func(err error) {
		if events == nil && errs == nil {
			return
		}
		events, errs = nil, nil
		if err != nil {
			s.setErr(err)
		}
		s.engine.OnDisconnect(err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.inbox:
			fn()
		case ev, ok := <-events:
			if !ok {
				// Prefer the transport error if one is queued.
				var err error
				select {
				case err = <-errs:
				default:
				}
				lost(err)
				continue
			}
			s.engine.Dispatch(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			lost(err)
		}
	}
}

// post queues fn for the loop. It is used by timers and never blocks past
// the session's end.
func (s *Session) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// Go queues fn to run on the loop without waiting for it.
func (s *Session) Go(fn func(*Engine)) {
	s.post(func() { fn(s.engine) })
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from the loop itself.
func (s *Session) Do(fn func(*Engine) error) error {
	result := make(chan error, 1)
	select {
	case s.inbox <- func() { result <- fn(s.engine) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		// The loop may have run fn just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the transport error that ended the channel, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Close stops the loop, discards pending writes and closes the channel.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		err = s.ch.Close()
	})
	return err
}

// Switcher keeps at most one open session. Opening a workspace closes the
// previous session before the new channel is dialed.
type Switcher struct {
	open func(ctx context.Context, key string) (*Session, error)

	mu      sync.Mutex
	key     string
	current *Session
}

// NewSwitcher returns a switcher that opens sessions with open.
func NewSwitcher(open func(ctx context.Context, key string) (*Session, error)) *Switcher {
	return &Switcher{open: open}
}

// Open replaces the current session with one for key. Reopening the
// current key returns the existing session while it is alive.
func (sw *Switcher) Open(ctx context.Context, key string) (*Session, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.current != nil {
		select {
		case <-sw.current.Done():
		default:
			if sw.key == key {
				return sw.current, nil
			}
		}
		if err := sw.current.Close(); err != nil && !errors.Is(err, ErrClosed) {
			logging.Named("workspace").Debug("closing previous session", logging.Workspace(sw.key), logging.Err(err))
		}
		sw.current, sw.key = nil, ""
	}

	s, err := sw.open(ctx, key)
	if err != nil {
		return nil, err
	}
	sw.current, sw.key = s, key
	return s, nil
}

// Current returns the open session and its key.
func (sw *Switcher) Current() (*Session, string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.current, sw.key
}

// Close closes the current session.
func (sw *Switcher) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.current == nil {
		return nil
	}
	err := sw.current.Close()
	sw.current, sw.key = nil, ""
	return err
}
