// Package client connects to a workspace hub: the websocket channel that
// carries intents and events, and an HTTP client for a remote code runner.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/logging"
	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/protocol"
)

var (
	ErrClosed         = errors.New("channel closed")
	ErrNotOpen        = errors.New("channel not open")
	ErrConnected      = errors.New("channel already connected")
	ErrSubscribed     = errors.New("channel already subscribed")
	ErrEmptyWorkspace = errors.New("workspace key is empty")
	ErrUnsupportedURL = errors.New("unsupported server url scheme")
)

const defaultWriteTimeout = 10 * time.Second

// State is the lifecycle state of a Channel.
type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// ChannelURL builds the websocket address of a workspace from a server base
// URL. http and https bases are mapped to ws and wss.
func ChannelURL(base, key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", ErrEmptyWorkspace
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, u.Scheme)
	}
	escaped := strings.TrimRight(u.EscapedPath(), "/")
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/workspace/" + key + "/"
	u.RawPath = escaped + "/ws/workspace/" + url.PathEscape(key) + "/"
	return u.String(), nil
}

// DialOptions configures Dial.
type DialOptions struct {
	// Token is sent as a bearer token.
	Token        string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

// Channel is a websocket connection to one workspace. Send may be called
// from any goroutine; Subscribe may be called once.
type Channel struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *zap.Logger

	state        atomic.Int32
	subscribed   atomic.Bool
	writeTimeout time.Duration

	// writeMu guards conn until the channel is Open, then serializes
	// writes.
	writeMu   sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel returns a Connecting channel for rawURL. Connect opens it.
func NewChannel(rawURL string, opts DialOptions) *Channel {
	c := &Channel{
		url:          rawURL,
		token:        opts.Token,
		dialer:       opts.Dialer,
		log:          opts.Logger,
		writeTimeout: opts.WriteTimeout,
		closed:       make(chan struct{}),
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = logging.Named("channel")
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}
	return c
}

// Dial creates a channel and connects it. The returned channel is Open.
func Dial(ctx context.Context, rawURL string, opts DialOptions) (*Channel, error) {
	c := NewChannel(rawURL, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect dials the hub and moves the channel from Connecting to Open. A
// failed dial or a Close during the dial leaves it Closed.
func (c *Channel) Connect(ctx context.Context) error {
	switch c.State() {
	case Open:
		return ErrConnected
	case Closed:
		return ErrClosed
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.Close()
		if resp != nil {
			resp.Body.Close()
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.state.CompareAndSwap(int32(Connecting), int32(Open)) {
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.log.Info("Channel open", zap.String("url", c.url))
	return nil
}

// State returns the current state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// URL returns the address the channel was dialed with.
func (c *Channel) URL() string { return c.url }

// Send encodes and writes one intent.
func (c *Channel) Send(i protocol.Intent) error {
	switch c.State() {
	case Closed:
		return ErrClosed
	case Connecting:
		return ErrNotOpen
	}
	data, err := protocol.EncodeIntent(i)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", i.Action(), err)
	}
	return nil
}

// Subscribe starts reading events. Malformed frames are logged and
// skipped. When the connection fails the cause is sent on the error
// channel and both channels are closed. Cancelling ctx closes the channel.
func (c *Channel) Subscribe(ctx context.Context) (<-chan protocol.Event, <-chan error) {
	events := make(chan protocol.Event, 100)
	errs := make(chan error, 1)

	var refused error
	switch {
	case c.State() != Open:
		refused = ErrNotOpen
	case !c.subscribed.CompareAndSwap(false, true):
		refused = ErrSubscribed
	}
	if refused != nil {
		errs <- refused
		close(events)
		close(errs)
		return events, errs
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.closed:
		}
	}()
	go c.readLoop(ctx, events, errs)

	return events, errs
}

func (c *Channel) readLoop(ctx context.Context, events chan<- protocol.Event, errs chan<- error) {
	defer close(events)
	defer close(errs)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() == Closed {
				return
			}
			c.state.Store(int32(Closed))
			c.log.Warn("Channel lost", zap.String("url", c.url), zap.Error(err))
			errs <- fmt.Errorf("read: %w", err)
			return
		}

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			c.log.Debug("Dropping malformed event", zap.Error(err))
			metrics.RecordEventDropped("malformed")
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(Closed))

		c.writeMu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
		c.writeMu.Unlock()

		close(c.closed)
		c.log.Debug("Channel closed", zap.String("url", c.url))
	})
	return err
}
