package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20
)

// Conn is one websocket connection in a room.
type Conn struct {
	id   string
	user models.User
	room *Room
	ws   *websocket.Conn
	log  *zap.Logger

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	focusID  models.ID
	focusSeq uint64
}

func newConn(id string, user models.User, room *Room, ws *websocket.Conn, log *zap.Logger) *Conn {
	return &Conn{
		id:   id,
		user: user,
		room: room,
		ws:   ws,
		log:  log,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue queues a frame without blocking. A full queue drops the frame.
func (c *Conn) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		metrics.RecordSlowConsumerDrop()
		c.log.Warn("Dropping frame for slow connection")
	}
}

func (c *Conn) setFocus(id models.ID, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focusID, c.focusSeq = id, seq
}

func (c *Conn) focus() (models.ID, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focusID, c.focusSeq
}

// close stops the write pump, which sends a close frame and closes the
// socket. The read pump then ends with a read error.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump drains the send queue and keeps the connection alive with
// pings. It owns all writes to the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the socket fails and hands each to handle.
func (c *Conn) readPump(handle func(data []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("Connection lost", zap.Error(err))
			}
			return
		}
		handle(data)
	}
}
