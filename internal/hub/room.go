package hub

import (
	"slices"
	"strings"
	"sync"

	"github.com/Samijain03/Collab-X/internal/metrics"
	"github.com/Samijain03/Collab-X/pkg/models"
)

// sendBuffer is the number of frames queued per connection before frames
// for that connection are dropped.
const sendBuffer = 64

// Room is the set of connections open on one workspace.
type Room struct {
	key string

	mu    sync.RWMutex
	conns map[*Conn]struct{}

	// opMu orders store mutations, their broadcasts and the bootstrap of
	// new connections.
	opMu sync.Mutex
}

func newRoom(key string) *Room {
	return &Room{key: key, conns: make(map[*Conn]struct{})}
}

// join adds c and reports whether it is the user's first connection,
// along with the users already present.
func (r *Room) join(c *Conn) (bool, []models.PresenceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	first := r.countUser(c.user.ID) == 0
	peers := r.peersLocked(c.user.ID)
	r.conns[c] = struct{}{}
	return first, peers
}

// leave removes c and reports whether it was the user's last connection.
func (r *Room) leave(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return r.countUser(c.user.ID) == 0
}

func (r *Room) countUser(id models.ID) int {
	n := 0
	for c := range r.conns {
		if c.user.ID == id {
			n++
		}
	}
	return n
}

// Len returns the number of connections.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Publish queues a frame on every connection except skip. Full queues
// drop the frame.
func (r *Room) Publish(eventType string, frame []byte, skip *Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.conns {
		if c == skip {
			continue
		}
		c.enqueue(frame)
	}
	metrics.RecordHubBroadcast(eventType)
}

// peersLocked returns one presence entry per user other than self, with
// the file each is focused on. Users with several connections report their
// most recent focus.
func (r *Room) peersLocked(self models.ID) []models.PresenceEntry {
	type peer struct {
		entry models.PresenceEntry
		seq   uint64
	}
	byUser := map[models.ID]peer{}
	for c := range r.conns {
		if c.user.ID == self {
			continue
		}
		focus, seq := c.focus()
		if p, seen := byUser[c.user.ID]; seen && p.seq >= seq {
			continue
		}
		byUser[c.user.ID] = peer{
			entry: models.PresenceEntry{User: c.user, ActiveNodeID: focus},
			seq:   seq,
		}
	}

	out := make([]models.PresenceEntry, 0, len(byUser))
	for _, p := range byUser {
		out = append(out, p.entry)
	}
	slices.SortFunc(out, func(a, b models.PresenceEntry) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}
